// Package systemd starts, stops, and inspects the pair of units that make
// up the audio service: the core audio server and the capture pipe that
// feeds it.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"platter/internal/api"
	"platter/internal/config"
	"platter/internal/logging"
)

// Runner executes a systemctl verb against a unit and returns combined
// output. Implementations must honor context cancellation.
type Runner interface {
	Run(ctx context.Context, verb, unit string) (string, error)
}

type execRunner struct{}

var commandContext = exec.CommandContext

func (execRunner) Run(ctx context.Context, verb, unit string) (string, error) {
	cmd := commandContext(ctx, "systemctl", verb, unit)
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// Activity reports which of the two units are currently active.
type Activity struct {
	CoreActive bool
	PipeActive bool
}

// Both is true only when the core server and the capture pipe are active.
func (a Activity) Both() bool {
	return a.CoreActive && a.PipeActive
}

// Controller coordinates lifecycle operations on the unit pair. A per-unit
// mutex serializes conflicting verbs against the same unit while letting the
// two units proceed independently.
type Controller struct {
	coreUnit string
	pipeUnit string
	runner   Runner
	logger   *slog.Logger

	pollInterval time.Duration
	waitTimeout  time.Duration

	coreMu sync.Mutex
	pipeMu sync.Mutex
}

// NewController builds a controller for the configured unit pair.
func NewController(cfg *config.Config, logger *slog.Logger) *Controller {
	c := &Controller{
		coreUnit:     "owntone.service",
		pipeUnit:     "owntone-record_player-input.service",
		runner:       execRunner{},
		logger:       logging.NewComponentLogger(logger, "systemd"),
		pollInterval: 500 * time.Millisecond,
		waitTimeout:  25 * time.Second,
	}
	if cfg != nil {
		c.coreUnit = cfg.Units.Core
		c.pipeUnit = cfg.Units.Pipe
		c.waitTimeout = cfg.WaitActiveTimeout()
	}
	return c
}

// NewControllerWithRunner injects a runner, used by tests.
func NewControllerWithRunner(cfg *config.Config, logger *slog.Logger, runner Runner) *Controller {
	c := NewController(cfg, logger)
	if runner != nil {
		c.runner = runner
	}
	return c
}

// Start activates the core unit first, waits for it to report active, then
// activates the capture pipe. The pipe depends on the server socket, so the
// ordering is load-bearing.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.startUnit(ctx, c.coreUnit, &c.coreMu); err != nil {
		return err
	}
	if err := c.waitActive(ctx, c.coreUnit); err != nil {
		return err
	}
	if err := c.startUnit(ctx, c.pipeUnit, &c.pipeMu); err != nil {
		return err
	}
	return c.waitActive(ctx, c.pipeUnit)
}

// Stop deactivates both units. Both stops are always attempted; a failure on
// one unit does not leave the other running.
func (c *Controller) Stop(ctx context.Context) error {
	pipeErr := c.stopUnit(ctx, c.pipeUnit, &c.pipeMu)
	coreErr := c.stopUnit(ctx, c.coreUnit, &c.coreMu)
	return errors.Join(pipeErr, coreErr)
}

// Status reports per-unit activity. systemctl is-active exits non-zero for
// any state other than active, which this treats as inactive rather than an
// error.
func (c *Controller) Status(ctx context.Context) (Activity, error) {
	core, err := c.isActive(ctx, c.coreUnit)
	if err != nil {
		return Activity{}, err
	}
	pipe, err := c.isActive(ctx, c.pipeUnit)
	if err != nil {
		return Activity{}, err
	}
	return Activity{CoreActive: core, PipeActive: pipe}, nil
}

// Enable marks both units to start at boot. It does not start them.
func (c *Controller) Enable(ctx context.Context) error {
	coreErr := c.runVerb(ctx, "enable", c.coreUnit, &c.coreMu)
	pipeErr := c.runVerb(ctx, "enable", c.pipeUnit, &c.pipeMu)
	return errors.Join(coreErr, pipeErr)
}

// Disable removes both units from boot startup. Running units keep running.
func (c *Controller) Disable(ctx context.Context) error {
	pipeErr := c.runVerb(ctx, "disable", c.pipeUnit, &c.pipeMu)
	coreErr := c.runVerb(ctx, "disable", c.coreUnit, &c.coreMu)
	return errors.Join(pipeErr, coreErr)
}

func (c *Controller) runVerb(ctx context.Context, verb, unit string, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()

	output, err := c.runner.Run(ctx, verb, unit)
	if err != nil {
		return api.Wrap(api.ErrServiceControl, "systemd", verb+" "+unit, commandError(output, err))
	}
	return nil
}

func (c *Controller) startUnit(ctx context.Context, unit string, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()

	c.logger.Info("starting unit", logging.String(logging.FieldUnit, unit))
	output, err := c.runner.Run(ctx, "start", unit)
	if err != nil {
		return api.Wrap(api.ErrServiceControl, "systemd", "start "+unit, commandError(output, err))
	}
	return nil
}

func (c *Controller) stopUnit(ctx context.Context, unit string, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()

	c.logger.Info("stopping unit", logging.String(logging.FieldUnit, unit))
	output, err := c.runner.Run(ctx, "stop", unit)
	if err != nil {
		return api.Wrap(api.ErrServiceControl, "systemd", "stop "+unit, commandError(output, err))
	}
	return nil
}

func (c *Controller) isActive(ctx context.Context, unit string) (bool, error) {
	output, err := c.runner.Run(ctx, "is-active", unit)
	if err != nil {
		if ctx.Err() != nil {
			return false, api.Wrap(api.ErrServiceControl, "systemd", "is-active "+unit, ctx.Err())
		}
		// Non-zero exit covers inactive, failed, and unknown unit states.
		return false, nil
	}
	return strings.TrimSpace(output) == "active", nil
}

func (c *Controller) waitActive(ctx context.Context, unit string) error {
	deadline := time.Now().Add(c.waitTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		active, err := c.isActive(ctx, unit)
		if err != nil {
			return err
		}
		if active {
			return nil
		}
		if time.Now().After(deadline) {
			return api.Wrap(api.ErrServiceControl, "systemd", "wait for "+unit,
				fmt.Errorf("unit did not become active within %s", c.waitTimeout))
		}
		select {
		case <-ctx.Done():
			return api.Wrap(api.ErrServiceControl, "systemd", "wait for "+unit, ctx.Err())
		case <-ticker.C:
		}
	}
}

func commandError(output string, err error) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, output)
}
