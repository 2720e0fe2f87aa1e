package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"platter/internal/api"
	"platter/internal/config"
	"platter/internal/logging"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/start", srv.handleStart)
	mux.HandleFunc("/api/stop", srv.handleStop)
	mux.HandleFunc("/api/enable", srv.handleEnable)
	mux.HandleFunc("/api/disable", srv.handleDisable)
	mux.HandleFunc("/api/outputs", srv.handleOutputs)
	mux.HandleFunc("/api/outputs/", srv.handleOutputUpdate)
	mux.HandleFunc("/api/defaults", srv.handleDefaults)
	mux.HandleFunc("/api/events", srv.handleEvents)
	mux.HandleFunc("/api/ws", srv.handleWebsocket)

	// WriteTimeout stays zero: /api/events and /api/ws hold their
	// connections open indefinitely.
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot := s.daemon.reconciler.Snapshot()
	s.writeJSON(w, http.StatusOK, api.StatusResponse{Activity: snapshot.Activity})
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.reconciler.StartServices(r.Context()); err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AckResponse{OK: true})
}

func (s *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.reconciler.StopServices(r.Context()); err != nil {
		s.writeAPIError(w, err)
		return
	}
	snapshot := s.daemon.reconciler.Snapshot()
	s.writeJSON(w, http.StatusOK, api.StopResponse{OK: true, Activity: snapshot.Activity})
}

func (s *apiServer) handleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.controller.Enable(r.Context()); err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AckResponse{OK: true})
}

func (s *apiServer) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.controller.Disable(r.Context()); err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AckResponse{OK: true})
}

func (s *apiServer) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot := s.daemon.reconciler.Snapshot()
	outputs := snapshot.Outputs
	if outputs == nil {
		outputs = []api.Output{}
	}
	s.writeJSON(w, http.StatusOK, api.OutputsResponse{Outputs: outputs})
}

func (s *apiServer) handleOutputUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	outputID := strings.TrimPrefix(r.URL.Path, "/api/outputs/")
	if outputID == "" || strings.Contains(outputID, "/") {
		s.writeError(w, http.StatusNotFound, "output not found")
		return
	}

	var req api.OutputUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Empty() {
		s.writeError(w, http.StatusBadRequest, "request carries no fields to apply")
		return
	}

	if err := s.applyOutputUpdate(r.Context(), outputID, req); err != nil {
		s.writeAPIError(w, err)
		return
	}

	outputs, err := s.daemon.reconciler.RefreshOutputs(r.Context())
	if err != nil {
		s.logger.Warn("post-update refresh failed", logging.Error(err))
	}
	for _, output := range outputs {
		if output.ID == outputID {
			s.writeJSON(w, http.StatusOK, output)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, api.AckResponse{OK: true})
}

// applyOutputUpdate dispatches each present field: live fields go to the
// audio server, default fields go to the store. Default persistence works
// even while the output (or the whole audio server) is invisible.
func (s *apiServer) applyOutputUpdate(ctx context.Context, outputID string, req api.OutputUpdateRequest) error {
	snapshot := s.daemon.reconciler.Snapshot()
	var live *api.Output
	for i := range snapshot.Outputs {
		if snapshot.Outputs[i].ID == outputID {
			live = &snapshot.Outputs[i]
			break
		}
	}

	// Volume before selection, so an output never comes up at a stale level.
	if req.Volume != nil {
		if err := s.daemon.audio.SetVolume(ctx, outputID, *req.Volume); err != nil {
			return err
		}
	}
	if req.Selected != nil {
		if err := s.daemon.audio.SetSelected(ctx, outputID, *req.Selected); err != nil {
			return err
		}
	}

	if req.Default != nil && !*req.Default {
		if err := s.daemon.store.Remove(ctx, outputID); err != nil {
			return err
		}
		s.daemon.reconciler.Kick()
		return nil
	}

	if (req.Default != nil && *req.Default) || req.DefaultVolume != nil {
		volume, err := s.resolveDefaultVolume(ctx, outputID, req, live)
		if err != nil {
			return err
		}
		name := ""
		if live != nil {
			name = live.Name
		}
		if _, err := s.daemon.store.Set(ctx, outputID, name, volume); err != nil {
			return err
		}
		s.daemon.reconciler.Kick()
	}
	return nil
}

// resolveDefaultVolume picks the volume to persist: the explicit
// default_volume, the volume in the same request, the existing row, then
// the live output level.
func (s *apiServer) resolveDefaultVolume(ctx context.Context, outputID string, req api.OutputUpdateRequest, live *api.Output) (int, error) {
	if req.DefaultVolume != nil {
		return *req.DefaultVolume, nil
	}
	if req.Volume != nil {
		return *req.Volume, nil
	}
	entry, ok, err := s.daemon.store.Get(ctx, outputID)
	if err != nil {
		return 0, err
	}
	if ok {
		return entry.Volume, nil
	}
	if live != nil {
		return live.Volume, nil
	}
	return 0, api.Wrap(api.ErrValidation, "api", "resolve default volume",
		errors.New("default_volume is required for an output that is not visible"))
}

func (s *apiServer) handleDefaults(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.daemon.store.All(r.Context())
		if err != nil {
			s.writeAPIError(w, err)
			return
		}
		payload := api.DefaultsResponse{Defaults: make(map[string]int, len(entries))}
		for _, entry := range entries {
			payload.Defaults[entry.OutputID] = entry.Volume
		}
		s.writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		var req api.DefaultsUpdateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.daemon.store.Replace(r.Context(), req.Defaults); err != nil {
			s.writeAPIError(w, err)
			return
		}
		s.daemon.reconciler.Kick()
		s.writeJSON(w, http.StatusOK, api.AckResponse{OK: true})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

// writeAPIError maps the error taxonomy onto HTTP statuses.
func (s *apiServer) writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, api.ErrUpstreamUnavailable):
		s.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, api.ErrServiceControl), errors.Is(err, api.ErrPersistence):
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
