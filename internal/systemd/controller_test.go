package systemd_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"platter/internal/api"
	"platter/internal/logging"
	"platter/internal/systemd"
	"platter/internal/testsupport"
)

type call struct {
	verb string
	unit string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	active map[string]bool
	fail   map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		active: map[string]bool{},
		fail:   map[string]error{},
	}
}

func (r *fakeRunner) Run(_ context.Context, verb, unit string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{verb: verb, unit: unit})

	if err := r.fail[verb+" "+unit]; err != nil {
		return "failed", err
	}
	switch verb {
	case "start":
		r.active[unit] = true
		return "", nil
	case "stop":
		r.active[unit] = false
		return "", nil
	case "is-active":
		if r.active[unit] {
			return "active", nil
		}
		return "inactive", errors.New("exit status 3")
	case "enable", "disable":
		return "", nil
	default:
		return "", fmt.Errorf("unexpected verb %q", verb)
	}
}

func (r *fakeRunner) callsFor(verb string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var units []string
	for _, c := range r.calls {
		if c.verb == verb {
			units = append(units, c.unit)
		}
	}
	return units
}

func newController(t *testing.T, runner systemd.Runner) *systemd.Controller {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithUnits("core.service", "pipe.service"))
	return systemd.NewControllerWithRunner(cfg, logging.NewNop(), runner)
}

func TestStartActivatesCoreBeforePipe(t *testing.T) {
	runner := newFakeRunner()
	controller := newController(t, runner)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	starts := runner.callsFor("start")
	if len(starts) != 2 || starts[0] != "core.service" || starts[1] != "pipe.service" {
		t.Fatalf("expected core then pipe, got %v", starts)
	}
}

func TestStartFailureIsServiceControlError(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["start core.service"] = errors.New("exit status 1")
	controller := newController(t, runner)

	err := controller.Start(context.Background())
	if !errors.Is(err, api.ErrServiceControl) {
		t.Fatalf("expected service-control error, got %v", err)
	}
	if starts := runner.callsFor("start"); len(starts) != 1 {
		t.Fatalf("pipe must not start when core fails, got %v", starts)
	}
}

func TestStopAttemptsBothUnitsDespiteFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.active["core.service"] = true
	runner.active["pipe.service"] = true
	runner.fail["stop pipe.service"] = errors.New("exit status 1")
	controller := newController(t, runner)

	err := controller.Stop(context.Background())
	if !errors.Is(err, api.ErrServiceControl) {
		t.Fatalf("expected service-control error, got %v", err)
	}

	stops := runner.callsFor("stop")
	if len(stops) != 2 {
		t.Fatalf("expected both stops attempted, got %v", stops)
	}
	if runner.active["core.service"] {
		t.Fatal("core must be stopped even when the pipe stop fails")
	}
}

func TestStatusTreatsNonZeroExitAsInactive(t *testing.T) {
	runner := newFakeRunner()
	runner.active["core.service"] = true
	controller := newController(t, runner)

	activity, err := controller.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !activity.CoreActive {
		t.Fatal("expected core active")
	}
	if activity.PipeActive {
		t.Fatal("expected pipe inactive")
	}
	if activity.Both() {
		t.Fatal("Both must require both units")
	}
}

func TestEnableAndDisableCoverBothUnits(t *testing.T) {
	runner := newFakeRunner()
	controller := newController(t, runner)

	if err := controller.Enable(context.Background()); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	if enables := runner.callsFor("enable"); len(enables) != 2 {
		t.Fatalf("expected both units enabled, got %v", enables)
	}

	runner.fail["disable core.service"] = errors.New("exit status 1")
	err := controller.Disable(context.Background())
	if !errors.Is(err, api.ErrServiceControl) {
		t.Fatalf("expected service-control error, got %v", err)
	}
	if disables := runner.callsFor("disable"); len(disables) != 2 {
		t.Fatalf("expected both disables attempted, got %v", disables)
	}
}

func TestWaitActiveTimesOut(t *testing.T) {
	// Start succeeds but the unit never reports active.
	runner := &startWithoutActivation{inner: newFakeRunner()}
	cfg := testsupport.NewConfig(t, testsupport.WithUnits("core.service", "pipe.service"))
	controller := systemd.NewControllerWithRunner(cfg, logging.NewNop(), runner)

	err := controller.Start(context.Background())
	if !errors.Is(err, api.ErrServiceControl) {
		t.Fatalf("expected service-control error, got %v", err)
	}
}

type startWithoutActivation struct {
	inner *fakeRunner
}

func (r *startWithoutActivation) Run(ctx context.Context, verb, unit string) (string, error) {
	if verb == "is-active" {
		return "activating", errors.New("exit status 3")
	}
	return r.inner.Run(ctx, verb, unit)
}
