package owntone_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"platter/internal/api"
	"platter/internal/owntone"
)

func TestListOutputsDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/outputs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"outputs":[{"id":"1","name":"Living Room","type":"AirPlay","selected":true,"volume":60}]}`))
	}))
	defer server.Close()

	client := owntone.NewClientWithDoer(server.URL+"/api", time.Second, server.Client())
	outputs, err := client.ListOutputs(context.Background())
	if err != nil {
		t.Fatalf("ListOutputs returned error: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].ID != "1" || !outputs[0].Selected || outputs[0].Volume != 60 {
		t.Fatalf("unexpected output: %+v", outputs[0])
	}
}

func TestListOutputsMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := owntone.NewClientWithDoer(server.URL+"/api", time.Second, server.Client())
	_, err := client.ListOutputs(context.Background())
	if !errors.Is(err, api.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream-unavailable error, got %v", err)
	}
}

func TestNon2xxStatusIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := owntone.NewClientWithDoer(server.URL+"/api", time.Second, server.Client())
	err := client.SetSelected(context.Background(), "1", true)
	if !errors.Is(err, api.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream-unavailable error, got %v", err)
	}
}

func TestRequestTimeoutIsUpstreamError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := owntone.NewClientWithDoer(server.URL+"/api", 50*time.Millisecond, server.Client())
	_, err := client.ListOutputs(context.Background())
	if !errors.Is(err, api.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream-unavailable error, got %v", err)
	}
}

func TestSetVolumeClampsPayload(t *testing.T) {
	var got map[string]int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/outputs/abc" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer server.Close()

	client := owntone.NewClientWithDoer(server.URL+"/api", time.Second, server.Client())

	for _, tc := range []struct {
		in   int
		want int
	}{
		{in: -10, want: 0},
		{in: 150, want: 100},
		{in: 57, want: 57},
	} {
		if err := client.SetVolume(context.Background(), "abc", tc.in); err != nil {
			t.Fatalf("SetVolume(%d) returned error: %v", tc.in, err)
		}
		if got["volume"] != tc.want {
			t.Fatalf("SetVolume(%d): expected payload %d, got %d", tc.in, tc.want, got["volume"])
		}
	}
}

func TestSetSelectedSendsBody(t *testing.T) {
	var got map[string]bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer server.Close()

	client := owntone.NewClientWithDoer(server.URL+"/api", time.Second, server.Client())
	if err := client.SetSelected(context.Background(), "abc", true); err != nil {
		t.Fatalf("SetSelected returned error: %v", err)
	}
	if !got["selected"] {
		t.Fatal("expected selected=true payload")
	}

	// Re-selecting an already selected output must succeed the same way.
	if err := client.SetSelected(context.Background(), "abc", true); err != nil {
		t.Fatalf("repeat SetSelected returned error: %v", err)
	}
}

func TestClampVolume(t *testing.T) {
	if got := owntone.ClampVolume(-1); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := owntone.ClampVolume(101); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := owntone.ClampVolume(55); got != 55 {
		t.Fatalf("expected 55, got %d", got)
	}
}
