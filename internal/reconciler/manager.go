// Package reconciler drives the observed audio system toward the requested
// state: it polls unit activity, applies persisted output defaults exactly
// once per activation cycle, and publishes change events when the merged
// output picture moves.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"platter/internal/api"
	"platter/internal/config"
	"platter/internal/defaults"
	"platter/internal/logging"
	"platter/internal/notifications"
	"platter/internal/owntone"
	"platter/internal/systemd"
)

// State labels the reconciler's position in the activation cycle.
type State string

const (
	StateStopped          State = "stopped"
	StateActivating       State = "activating"
	StateApplyingDefaults State = "applying_defaults"
	StateSteady           State = "steady"
)

// ServiceController abstracts the systemd unit pair.
type ServiceController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (systemd.Activity, error)
}

// AudioClient abstracts the audio server's output API.
type AudioClient interface {
	ListOutputs(ctx context.Context) ([]owntone.Output, error)
	SetSelected(ctx context.Context, outputID string, selected bool) error
	SetVolume(ctx context.Context, outputID string, volume int) error
}

// DefaultsStore abstracts the persisted default-output rows.
type DefaultsStore interface {
	All(ctx context.Context) ([]defaults.Entry, error)
	Set(ctx context.Context, outputID, name string, volume int) (defaults.Entry, error)
	Remove(ctx context.Context, outputID string) error
	RecordName(ctx context.Context, outputID, name string) error
}

// Publisher receives change events for fan-out to push subscribers.
type Publisher interface {
	PublishStatus(event api.StatusEvent)
	PublishOutputs(event api.OutputsEvent)
}

// Snapshot is a point-in-time copy of the reconciler's view.
type Snapshot struct {
	State     State
	Activity  api.Activity
	Outputs   []api.Output
	UpdatedAt time.Time
}

// Manager owns the single reconcile goroutine and the shared snapshot.
type Manager struct {
	cfg        *config.Config
	controller ServiceController
	audio      AudioClient
	store      DefaultsStore
	publisher  Publisher
	notifier   notifications.Service
	logger     *slog.Logger

	pollInterval       time.Duration
	waitOutputsTimeout time.Duration
	outputsRetry       time.Duration
	activationGrace    time.Duration

	kick chan struct{}

	// runMu serializes reconcile iterations so an API-triggered refresh
	// never interleaves with the poll loop.
	runMu sync.Mutex

	mu                 sync.RWMutex
	running            bool
	cancel             context.CancelFunc
	wg                 sync.WaitGroup
	state              State
	activity           api.Activity
	outputs            []api.Output
	fingerprint        string
	defaultsApplied    bool
	activationDeadline time.Time
	updatedAt          time.Time
}

// NewManager constructs a reconciler over the given collaborators.
func NewManager(
	cfg *config.Config,
	controller ServiceController,
	audio AudioClient,
	store DefaultsStore,
	publisher Publisher,
	notifier notifications.Service,
	logger *slog.Logger,
) *Manager {
	m := &Manager{
		cfg:                cfg,
		controller:         controller,
		audio:              audio,
		store:              store,
		publisher:          publisher,
		notifier:           notifier,
		logger:             logging.NewComponentLogger(logger, "reconciler"),
		pollInterval:       1500 * time.Millisecond,
		waitOutputsTimeout: 20 * time.Second,
		outputsRetry:       500 * time.Millisecond,
		activationGrace:    50 * time.Second,
		kick:               make(chan struct{}, 1),
		state:              StateStopped,
	}
	if cfg != nil {
		m.pollInterval = cfg.PollInterval()
		m.waitOutputsTimeout = cfg.WaitOutputsTimeout()
		m.outputsRetry = cfg.OutputsRetryInterval()
		// Start blocks while both units come up, so the grace window has
		// to cover two unit waits plus a poll.
		m.activationGrace = 2*cfg.WaitActiveTimeout() + cfg.PollInterval()
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(nil)
	}
	return m
}

// Start launches the poll loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("reconciler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates the poll loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Kick requests an immediate reconcile iteration. It never blocks; if an
// iteration is already pending the kick coalesces with it.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current view for the polling read paths.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outputs := append([]api.Output(nil), m.outputs...)
	return Snapshot{
		State:     m.state,
		Activity:  m.activity,
		Outputs:   outputs,
		UpdatedAt: m.updatedAt,
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	// Prime the first iteration instead of waiting a full poll interval.
	m.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}
		m.reconcile(ctx)
	}
}
