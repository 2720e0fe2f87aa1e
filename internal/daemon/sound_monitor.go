package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"platter/internal/config"
	"platter/internal/logging"
)

// soundMonitor listens for udev sound-card events and kicks the reconciler
// so a hotplugged or re-enumerated card is reflected without waiting for
// the next poll.
type soundMonitor struct {
	logger *slog.Logger
	kick   func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newSoundMonitor(cfg *config.Config, logger *slog.Logger, kick func()) *soundMonitor {
	if cfg == nil || !cfg.Monitor.SoundHotplug {
		return nil
	}
	return &soundMonitor{
		logger: logging.NewComponentLogger(logger, "sound-monitor"),
		kick:   kick,
	}
}

// Start begins listening for udev netlink events. A connect failure is
// non-fatal: the poll loop still converges, just slower.
func (m *soundMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; sound hotplug detection disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "output changes surface on the next poll instead"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("sound hotplug monitor started",
		logging.String(logging.FieldEventType, "sound_monitor_started"),
	)
	return nil
}

// Stop shuts down the monitor.
func (m *soundMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("sound hotplug monitor stopped",
		logging.String(logging.FieldEventType, "sound_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *soundMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *soundMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, soundMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.logger.Debug("sound device event",
				logging.String("action", string(uevent.Action)),
				logging.String("kobj", uevent.KObj),
			)
			if m.kick != nil {
				m.kick()
			}
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
			)
		}
	}
}

// soundMatcher matches add/change/remove events on the sound subsystem.
func soundMatcher() netlink.Matcher {
	action := "add|change|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}
