package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"platter/internal/api"
	"platter/internal/broadcast"
	"platter/internal/config"
	"platter/internal/defaults"
	"platter/internal/logging"
	"platter/internal/notifications"
	"platter/internal/owntone"
	"platter/internal/reconciler"
	"platter/internal/systemd"
	"platter/internal/testsupport"
)

var errStub = errors.New("exit status 1")

type stubController struct {
	mu       sync.Mutex
	activity systemd.Activity
	enables  int
	disables int
	bootErr  error
}

func (c *stubController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activity = systemd.Activity{CoreActive: true, PipeActive: true}
	return nil
}

func (c *stubController) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activity = systemd.Activity{}
	return nil
}

func (c *stubController) Status(context.Context) (systemd.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity, nil
}

func (c *stubController) Enable(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enables++
	return c.bootErr
}

func (c *stubController) Disable(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disables++
	return c.bootErr
}

type fixture struct {
	daemon     *Daemon
	server     *httptest.Server
	store      *defaults.Store
	cfg        *config.Config
	owntone    *httptest.Server
	controller *stubController
}

// newFixture builds a daemon whose audio client talks to a stub OwnTone
// server, and exposes the control API over httptest.
func newFixture(t *testing.T, owntoneHandler http.Handler) *fixture {
	t.Helper()

	if owntoneHandler == nil {
		owntoneHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"outputs":[]}`))
		})
	}
	upstream := httptest.NewServer(owntoneHandler)
	t.Cleanup(upstream.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithOwntoneEndpoint(upstream.URL+"/api"))
	store := testsupport.MustOpenStore(t, cfg)
	audio := owntone.NewClient(cfg)
	hub := broadcast.NewHub(cfg.Reconciler.SubscriberBufferSize, logging.NewNop())
	controller := &stubController{}
	rec := reconciler.NewManager(cfg, controller, audio, store, hub, notifications.NewService(nil), logging.NewNop())

	d, err := New(cfg, store, audio, hub, rec, controller, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	server := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(server.Close)
	t.Cleanup(func() { hub.Shutdown() })

	return &fixture{daemon: d, server: server, store: store, cfg: cfg, owntone: upstream, controller: controller}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusEndpointReportsActivity(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.BothActive {
		t.Fatal("expected inactive system before start")
	}
}

func TestStartAndStopRoundTrip(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outputs":[{"id":"1","name":"Living Room","selected":false,"volume":40}]}`))
	}))

	resp := f.do(t, http.MethodPost, "/api/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", resp.StatusCode)
	}
	var stop api.StopResponse
	if err := json.NewDecoder(resp.Body).Decode(&stop); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !stop.OK || stop.BothActive {
		t.Fatalf("unexpected stop response: %+v", stop)
	}
}

func TestOutputUpdateRejectsEmptyBody(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPut, "/api/outputs/abc", api.OutputUpdateRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDefaultPersistsWhileSystemStopped(t *testing.T) {
	f := newFixture(t, nil)

	isDefault := true
	volume := 57
	resp := f.do(t, http.MethodPut, "/api/outputs/hidden-out", api.OutputUpdateRequest{
		Default:       &isDefault,
		DefaultVolume: &volume,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	entry, ok, err := f.store.Get(context.Background(), "hidden-out")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || entry.Volume != 57 {
		t.Fatalf("expected persisted default, got ok=%v entry=%+v", ok, entry)
	}
}

func TestDefaultWithoutVolumeForHiddenOutputIs400(t *testing.T) {
	f := newFixture(t, nil)

	isDefault := true
	resp := f.do(t, http.MethodPut, "/api/outputs/hidden-out", api.OutputUpdateRequest{Default: &isDefault})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpstreamFailureMapsTo502(t *testing.T) {
	f := newFixture(t, nil)
	// Kill the stub audio server so live writes fail.
	f.owntone.Close()

	volume := 30
	resp := f.do(t, http.MethodPut, "/api/outputs/abc", api.OutputUpdateRequest{Volume: &volume})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestDefaultsEndpointRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPut, "/api/defaults", api.DefaultsUpdateRequest{
		Defaults: map[string]int{"a": 40, "b": 120},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: expected 200, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/defaults", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var payload api.DefaultsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Defaults["a"] != 40 || payload.Defaults["b"] != 100 {
		t.Fatalf("unexpected defaults: %+v", payload.Defaults)
	}
}

func TestRemovingDefaultDeletesRow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.store.Set(ctx, "abc", "Out", 50); err != nil {
		t.Fatalf("seed: %v", err)
	}

	isDefault := false
	resp := f.do(t, http.MethodPut, "/api/outputs/abc", api.OutputUpdateRequest{Default: &isDefault})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok, _ := f.store.Get(ctx, "abc"); ok {
		t.Fatal("expected default removed")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodDelete, "/api/status", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestEnableAndDisableEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/enable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable: expected 200, got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", resp.StatusCode)
	}

	f.controller.mu.Lock()
	enables, disables := f.controller.enables, f.controller.disables
	f.controller.mu.Unlock()
	if enables != 1 || disables != 1 {
		t.Fatalf("expected one enable and one disable, got %d/%d", enables, disables)
	}

	resp = f.do(t, http.MethodGet, "/api/enable", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}

	f.controller.mu.Lock()
	f.controller.bootErr = api.Wrap(api.ErrServiceControl, "systemd", "enable", errStub)
	f.controller.mu.Unlock()
	resp = f.do(t, http.MethodPost, "/api/enable", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on unit failure, got %d", resp.StatusCode)
	}
}

func TestEventsStreamDeliversCatchUp(t *testing.T) {
	f := newFixture(t, nil)

	f.daemon.hub.PublishStatus(api.NewStatusEvent(api.Activity{CoreActive: true, PipeActive: true, BothActive: true}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data:") {
			dataLine = line
			break
		}
	}
	if !strings.Contains(eventLine, api.EventTypeStatus) {
		t.Fatalf("expected status event, got %q", eventLine)
	}

	var status api.StatusEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(dataLine, "data:"))), &status); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if !status.BothActive {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestWebsocketStreamDeliversCatchUp(t *testing.T) {
	f := newFixture(t, nil)

	f.daemon.hub.PublishStatus(api.NewStatusEvent(api.Activity{CoreActive: true, PipeActive: true, BothActive: true}))
	f.daemon.hub.PublishOutputs(api.NewOutputsEvent([]api.Output{{ID: "1", Name: "Living Room", Selected: true, Volume: 40}}))

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}

	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read first message: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("expected text message, got %d", messageType)
	}
	var status api.StatusEvent
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if status.Type != api.EventTypeStatus || !status.BothActive {
		t.Fatalf("unexpected first event: %+v", status)
	}

	_, payload, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read second message: %v", err)
	}
	var outputs api.OutputsEvent
	if err := json.Unmarshal(payload, &outputs); err != nil {
		t.Fatalf("decode outputs payload: %v", err)
	}
	if outputs.Type != api.EventTypeOutputs || len(outputs.Outputs) != 1 || outputs.Outputs[0].ID != "1" {
		t.Fatalf("unexpected second event: %+v", outputs)
	}
}
