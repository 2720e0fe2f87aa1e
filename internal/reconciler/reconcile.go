package reconciler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"platter/internal/api"
	"platter/internal/defaults"
	"platter/internal/logging"
	"platter/internal/owntone"
)

// StartServices activates the unit pair and arms the defaults pass. The
// reconcile loop picks up from there once both units report active. It
// holds runMu so it never interleaves with an in-flight poll iteration.
func (m *Manager) StartServices(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.Lock()
	m.state = StateActivating
	m.defaultsApplied = false
	m.activationDeadline = time.Now().Add(m.activationGrace)
	m.mu.Unlock()

	if err := m.controller.Start(ctx); err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		m.logger.Error("service start failed", logging.Error(err))
		if notifyErr := m.notifier.NotifyStartFailed(ctx, err); notifyErr != nil {
			m.logger.Warn("start-failed notification not delivered", logging.Error(notifyErr))
		}
		return err
	}

	m.Kick()
	return nil
}

// StopServices deactivates both units and clears the cached output view so
// subscribers see an empty list immediately. Holding runMu keeps a poll
// iteration that is already listing outputs from publishing its pre-stop
// snapshot after the empty one.
func (m *Manager) StopServices(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	err := m.controller.Stop(ctx)

	m.mu.Lock()
	m.state = StateStopped
	m.defaultsApplied = false
	hadOutputs := len(m.outputs) > 0
	m.outputs = nil
	m.fingerprint = ""
	statusChanged := m.activity.CoreActive || m.activity.PipeActive
	m.activity = api.Activity{}
	m.updatedAt = time.Now()
	m.mu.Unlock()

	if statusChanged {
		m.publisher.PublishStatus(api.NewStatusEvent(api.Activity{}))
	}
	if hadOutputs {
		m.publisher.PublishOutputs(api.NewOutputsEvent(nil))
	}

	if err != nil {
		m.logger.Error("service stop failed", logging.Error(err))
		if notifyErr := m.notifier.NotifyError(ctx, err, "service stop"); notifyErr != nil {
			m.logger.Warn("stop-error notification not delivered", logging.Error(notifyErr))
		}
		return err
	}
	if notifyErr := m.notifier.NotifySystemStopped(ctx); notifyErr != nil {
		m.logger.Warn("stopped notification not delivered", logging.Error(notifyErr))
	}
	return nil
}

// RefreshOutputs forces a fresh output listing outside the poll cadence,
// used after API writes so the response path and subscribers converge fast.
func (m *Manager) RefreshOutputs(ctx context.Context) ([]api.Output, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.RLock()
	bothActive := m.activity.BothActive
	m.mu.RUnlock()
	if !bothActive {
		return nil, nil
	}

	merged, err := m.listMerged(ctx)
	if err != nil {
		return nil, err
	}
	m.storeOutputs(merged)
	return merged, nil
}

// reconcile runs one state-machine step. Only one iteration executes at a
// time.
func (m *Manager) reconcile(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	activity, err := m.controller.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("unit status check failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify systemctl is reachable"),
		)
		return
	}

	current := api.Activity{
		CoreActive: activity.CoreActive,
		PipeActive: activity.PipeActive,
		BothActive: activity.Both(),
	}

	m.mu.Lock()
	previous := m.activity
	state := m.state
	applied := m.defaultsApplied
	deadline := m.activationDeadline
	m.activity = current
	m.updatedAt = time.Now()
	m.mu.Unlock()

	if current != previous {
		m.publisher.PublishStatus(api.NewStatusEvent(current))
	}

	if !current.BothActive {
		m.reconcileInactive(ctx, current, state, deadline)
		return
	}

	if !applied {
		m.setState(StateApplyingDefaults)
		m.applyDefaults(ctx)
		return
	}

	m.setState(StateSteady)
	merged, err := m.listMerged(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("output listing failed", logging.Error(err))
		return
	}
	m.storeOutputs(merged)
}

func (m *Manager) reconcileInactive(ctx context.Context, current api.Activity, state State, deadline time.Time) {
	if state == StateActivating {
		if time.Now().Before(deadline) {
			// Units are still coming up.
			return
		}
		m.logger.Error("activation timed out",
			logging.Bool("core_active", current.CoreActive),
			logging.Bool("pipe_active", current.PipeActive),
		)
		if err := m.notifier.NotifyStartFailed(ctx, fmt.Errorf("units did not both become active")); err != nil {
			m.logger.Warn("start-failed notification not delivered", logging.Error(err))
		}
	}

	m.mu.Lock()
	wasRunning := m.state == StateSteady || m.state == StateApplyingDefaults
	m.state = StateStopped
	m.defaultsApplied = false
	hadOutputs := len(m.outputs) > 0
	m.outputs = nil
	m.fingerprint = ""
	m.mu.Unlock()

	if hadOutputs {
		m.publisher.PublishOutputs(api.NewOutputsEvent(nil))
	}
	if wasRunning {
		m.logger.Info("audio system went inactive", logging.String(logging.FieldEventType, "system_inactive"))
	}
}

// applyDefaults waits for the audio server to report outputs, then applies
// each persisted default: volume first, selection second, so the output
// never plays at a stale level. Runs at most once per activation cycle.
func (m *Manager) applyDefaults(ctx context.Context) {
	outputs, err := m.waitForOutputs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("outputs never appeared after activation",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the audio server log"),
		)
		if notifyErr := m.notifier.NotifyError(ctx, err, "defaults application"); notifyErr != nil {
			m.logger.Warn("error notification not delivered", logging.Error(notifyErr))
		}
		// Mark applied so the cycle does not retry forever; the next
		// activation cycle gets a fresh attempt.
		m.finishDefaults(ctx, 0)
		return
	}

	entries, err := m.store.All(ctx)
	if err != nil {
		m.logger.Error("defaults unavailable, skipping application", logging.Error(err))
		m.finishDefaults(ctx, 0)
		return
	}

	appliedCount := 0
	for _, entry := range entries {
		output, matchedByName := matchOutput(outputs, entry)
		if output == nil {
			m.logger.Debug("default output not present",
				logging.String(logging.FieldOutputID, entry.OutputID),
				logging.String("output_name", entry.Name),
			)
			continue
		}

		if err := m.audio.SetVolume(ctx, output.ID, entry.Volume); err != nil {
			m.logger.Warn("default volume not applied",
				logging.Error(err),
				logging.String(logging.FieldOutputID, output.ID),
			)
			continue
		}
		if err := m.audio.SetSelected(ctx, output.ID, true); err != nil {
			m.logger.Warn("default selection not applied",
				logging.Error(err),
				logging.String(logging.FieldOutputID, output.ID),
			)
			continue
		}
		appliedCount++

		if matchedByName {
			m.rekeyDefault(ctx, entry, output)
		} else if err := m.store.RecordName(ctx, output.ID, output.Name); err != nil {
			m.logger.Warn("output name not recorded", logging.Error(err))
		}

		m.logger.Info("default applied",
			logging.String(logging.FieldOutputID, output.ID),
			logging.String("output_name", output.Name),
			logging.Int("volume", entry.Volume),
		)
	}

	m.finishDefaults(ctx, appliedCount)
}

func (m *Manager) finishDefaults(ctx context.Context, appliedCount int) {
	m.mu.Lock()
	m.defaultsApplied = true
	m.state = StateSteady
	m.mu.Unlock()

	if appliedCount > 0 {
		if err := m.notifier.NotifyDefaultsApplied(ctx, appliedCount); err != nil {
			m.logger.Warn("defaults notification not delivered", logging.Error(err))
		}
	}
	if err := m.notifier.NotifySystemStarted(ctx); err != nil {
		m.logger.Warn("started notification not delivered", logging.Error(err))
	}

	merged, err := m.listMerged(ctx)
	if err != nil {
		m.logger.Warn("output listing failed after defaults", logging.Error(err))
		return
	}
	m.storeOutputs(merged)
}

// waitForOutputs polls the audio server until it reports at least one
// output or the wait budget runs out. The server needs a moment after unit
// activation before its output list is populated.
func (m *Manager) waitForOutputs(ctx context.Context) ([]owntone.Output, error) {
	deadline := time.Now().Add(m.waitOutputsTimeout)
	ticker := time.NewTicker(m.outputsRetry)
	defer ticker.Stop()

	var lastErr error
	for {
		outputs, err := m.audio.ListOutputs(ctx)
		if err == nil && len(outputs) > 0 {
			return outputs, nil
		}
		if err != nil {
			lastErr = err
		}

		if time.Now().After(deadline) {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, fmt.Errorf("no outputs reported within %s", m.waitOutputsTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// rekeyDefault moves a default row to the output's current id when the
// audio server reassigned ids across a restart and the row matched by name.
func (m *Manager) rekeyDefault(ctx context.Context, entry defaults.Entry, output *owntone.Output) {
	if _, err := m.store.Set(ctx, output.ID, output.Name, entry.Volume); err != nil {
		m.logger.Warn("default not rekeyed", logging.Error(err))
		return
	}
	if err := m.store.Remove(ctx, entry.OutputID); err != nil {
		m.logger.Warn("stale default row not removed",
			logging.Error(err),
			logging.String(logging.FieldOutputID, entry.OutputID),
		)
	}
}

func matchOutput(outputs []owntone.Output, entry defaults.Entry) (*owntone.Output, bool) {
	for i := range outputs {
		if outputs[i].ID == entry.OutputID {
			return &outputs[i], false
		}
	}
	want := defaults.NormalizeName(entry.Name)
	if want == "" {
		return nil, false
	}
	for i := range outputs {
		if defaults.NormalizeName(outputs[i].Name) == want {
			return &outputs[i], true
		}
	}
	return nil, false
}

// listMerged joins the live output list with the persisted default rows.
func (m *Manager) listMerged(ctx context.Context) ([]api.Output, error) {
	outputs, err := m.audio.ListOutputs(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}
	return MergeOutputs(outputs, entries), nil
}

// MergeOutputs builds the API view of the output list: live state from the
// audio server annotated with default configuration from the store.
func MergeOutputs(outputs []owntone.Output, entries []defaults.Entry) []api.Output {
	byID := make(map[string]defaults.Entry, len(entries))
	byName := make(map[string]defaults.Entry, len(entries))
	for _, entry := range entries {
		byID[entry.OutputID] = entry
		if key := defaults.NormalizeName(entry.Name); key != "" {
			byName[key] = entry
		}
	}

	merged := make([]api.Output, 0, len(outputs))
	for _, output := range outputs {
		item := api.Output{
			ID:       output.ID,
			Name:     output.Name,
			Selected: output.Selected,
			Volume:   output.Volume,
		}
		entry, ok := byID[output.ID]
		if !ok {
			entry, ok = byName[defaults.NormalizeName(output.Name)]
		}
		if ok {
			volume := entry.Volume
			item.Default = true
			item.DefaultVolume = &volume
		}
		merged = append(merged, item)
	}
	// Stable ordering within a snapshot; the audio server shuffles its list.
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

// storeOutputs swaps in a new merged list and publishes an outputs event
// when the fingerprint moved.
func (m *Manager) storeOutputs(merged []api.Output) {
	next := Fingerprint(merged)

	m.mu.Lock()
	changed := next != m.fingerprint
	m.outputs = merged
	m.fingerprint = next
	m.updatedAt = time.Now()
	m.mu.Unlock()

	if changed {
		m.publisher.PublishOutputs(api.NewOutputsEvent(merged))
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Fingerprint hashes the fields that matter for change detection, sorted by
// output id so ordering differences from the audio server don't register as
// changes.
func Fingerprint(outputs []api.Output) string {
	lines := make([]string, 0, len(outputs))
	for _, output := range outputs {
		defaultVolume := ""
		if output.DefaultVolume != nil {
			defaultVolume = strconv.Itoa(*output.DefaultVolume)
		}
		lines = append(lines, strings.Join([]string{
			output.ID,
			output.Name,
			strconv.FormatBool(output.Selected),
			strconv.Itoa(output.Volume),
			strconv.FormatBool(output.Default),
			defaultVolume,
		}, "|"))
	}
	sort.Strings(lines)

	digest := sha1.Sum([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(digest[:])
}
