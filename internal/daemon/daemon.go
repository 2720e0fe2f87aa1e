package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"platter/internal/broadcast"
	"platter/internal/config"
	"platter/internal/defaults"
	"platter/internal/logging"
	"platter/internal/notifications"
	"platter/internal/owntone"
	"platter/internal/reconciler"
)

// LifecycleController is the boot-enablement side of the unit pair, exposed
// through the control API so deployments can toggle start-at-boot remotely.
type LifecycleController interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// Daemon ties the reconciler, the control API, and the hotplug monitor
// together and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *defaults.Store
	audio      *owntone.Client
	hub        *broadcast.Hub
	reconciler *reconciler.Manager
	controller LifecycleController

	api     *apiServer
	monitor *soundMonitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(
	cfg *config.Config,
	store *defaults.Store,
	audio *owntone.Client,
	hub *broadcast.Hub,
	rec *reconciler.Manager,
	controller LifecycleController,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || store == nil || audio == nil || hub == nil || rec == nil || controller == nil {
		return nil, errors.New("daemon requires config, store, audio client, hub, reconciler, and controller")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "platterd.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		audio:      audio,
		hub:        hub,
		reconciler: rec,
		controller: controller,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	d.monitor = newSoundMonitor(cfg, logger, rec.Kick)
	return d, nil
}

// Start acquires the instance lock and launches the reconcile loop, the
// control API, and the hotplug monitor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another platter daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.reconciler.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start reconciler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.reconciler.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}
	if err := d.monitor.Start(runCtx); err != nil {
		d.logger.Warn("sound hotplug monitor unavailable", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("platter daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts everything down and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.monitor.Stop()
	d.api.stop()
	d.reconciler.Stop()
	d.hub.Shutdown()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("platter daemon stopped")
}

// Close stops the daemon and releases the defaults store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has completed without a matching Stop.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// TestNotification triggers a test notification with the current config.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
