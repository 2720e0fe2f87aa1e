package broadcast_test

import (
	"testing"
	"time"

	"platter/internal/api"
	"platter/internal/broadcast"
	"platter/internal/logging"
)

func receiveEvent(t *testing.T, sub *broadcast.Subscriber) broadcast.Event {
	t.Helper()
	select {
	case event, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNewSubscriberGetsLatestImmediately(t *testing.T) {
	hub := broadcast.NewHub(4, logging.NewNop())
	defer hub.Shutdown()

	hub.PublishStatus(api.NewStatusEvent(api.Activity{CoreActive: true, PipeActive: true, BothActive: true}))
	hub.PublishOutputs(api.NewOutputsEvent([]api.Output{{ID: "1", Name: "Living Room"}}))

	sub := hub.Subscribe("late-joiner")
	defer sub.Close()

	status, ok := receiveEvent(t, sub).(api.StatusEvent)
	if !ok {
		t.Fatal("expected a status event first")
	}
	if !status.BothActive {
		t.Fatalf("expected both-active status, got %+v", status)
	}

	outputs, ok := receiveEvent(t, sub).(api.OutputsEvent)
	if !ok {
		t.Fatal("expected an outputs event second")
	}
	if len(outputs.Outputs) != 1 || outputs.Outputs[0].ID != "1" {
		t.Fatalf("unexpected outputs event: %+v", outputs)
	}
}

func TestSlowSubscriberNeverBlocksPublisher(t *testing.T) {
	hub := broadcast.NewHub(2, logging.NewNop())
	defer hub.Shutdown()

	slow := hub.Subscribe("slow")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.PublishStatus(api.NewStatusEvent(api.Activity{CoreActive: i%2 == 0}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	// The slow subscriber's buffer holds the newest events, oldest evicted.
	if got := len(slow.C()); got > 2 {
		t.Fatalf("buffer exceeded its size: %d", got)
	}
}

func TestDropOldestKeepsNewestEvent(t *testing.T) {
	hub := broadcast.NewHub(1, logging.NewNop())
	defer hub.Shutdown()

	sub := hub.Subscribe("tiny")
	defer sub.Close()

	hub.PublishOutputs(api.NewOutputsEvent([]api.Output{{ID: "old"}}))
	hub.PublishOutputs(api.NewOutputsEvent([]api.Output{{ID: "new"}}))

	event, ok := receiveEvent(t, sub).(api.OutputsEvent)
	if !ok {
		t.Fatal("expected outputs event")
	}
	if event.Outputs[0].ID != "new" {
		t.Fatalf("expected newest event to survive, got %+v", event)
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	hub := broadcast.NewHub(4, logging.NewNop())
	defer hub.Shutdown()

	sub := hub.Subscribe("leaver")
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}
	sub.Close()
	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	if _, ok := <-sub.C(); ok {
		t.Fatal("expected channel to be closed")
	}

	// Closing twice is harmless.
	sub.Close()
}

func TestLatestReturnsCopies(t *testing.T) {
	hub := broadcast.NewHub(4, logging.NewNop())
	defer hub.Shutdown()

	status, outputs := hub.Latest()
	if status != nil || outputs != nil {
		t.Fatal("expected no events before first publish")
	}

	hub.PublishOutputs(api.NewOutputsEvent([]api.Output{{ID: "1", Volume: 10}}))
	_, outputs = hub.Latest()
	if outputs == nil || len(outputs.Outputs) != 1 {
		t.Fatalf("expected latest outputs event, got %+v", outputs)
	}
	outputs.Outputs[0].Volume = 99

	_, again := hub.Latest()
	if again.Outputs[0].Volume != 10 {
		t.Fatal("Latest must return a copy, not shared state")
	}
}

func TestShutdownClosesAllSubscribers(t *testing.T) {
	hub := broadcast.NewHub(4, logging.NewNop())

	first := hub.Subscribe("a")
	second := hub.Subscribe("b")
	hub.Shutdown()

	if _, ok := <-first.C(); ok {
		t.Fatal("expected first channel closed")
	}
	if _, ok := <-second.C(); ok {
		t.Fatal("expected second channel closed")
	}

	// Subscribing after shutdown yields a closed channel rather than a hang.
	late := hub.Subscribe("late")
	if _, ok := <-late.C(); ok {
		t.Fatal("expected late channel closed")
	}
}
