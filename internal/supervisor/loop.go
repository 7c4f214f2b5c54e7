package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/monitd/internal/history"
	"github.com/loykin/monitd/internal/metrics"
	"github.com/loykin/monitd/internal/registry"
)

// Loop runs the spec §4.3 reconcile tick against one registry.Store. A
// single Loop must never be ticked concurrently; Run enforces that by
// construction (one goroutine, one ticker).
type Loop struct {
	store      *registry.Store
	controller *Controller
	interval   time.Duration
	logger     *slog.Logger
	prober     *ProberManager
	history    history.Sink
}

// SetHistorySink attaches the audit-trail sink start/stop/restart events
// are recorded to. Nil (the default) disables recording entirely.
func (l *Loop) SetHistorySink(sink history.Sink) {
	l.history = sink
}

// recordEvent sends one lifecycle event to the attached history sink, if
// any, with a short bounded timeout; recording failures are logged, not
// propagated, since the registry is the system of record and history is
// a best-effort audit trail.
func (l *Loop) recordEvent(typ history.EventType, id string, entry registry.ProcessEntry) {
	if l.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.history.Send(ctx, history.Event{
		Type:       typ,
		OccurredAt: time.Now(),
		Record: history.Record{
			ProcessID: id,
			Name:      entry.Name,
			PID:       entry.PID,
			State:     string(entry.State),
			StartedAt: entry.LastStartedAt,
			StoppedAt: entry.LastStoppedAt,
		},
	})
	if err != nil {
		l.logger.Warn("history record failed", "id", id, "type", typ, "error", err)
	}
}

// New builds a Loop. interval is the registry's monitorIntervalMs
// (falls back to 2s when non-positive, matching the teacher's
// reconciler default).
func New(store *registry.Store, controller *Controller, interval time.Duration, log *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		store:      store,
		controller: controller,
		interval:   interval,
		logger:     log,
		prober:     NewProberManager(store, controller, log),
	}
}

// Run ticks until ctx is cancelled, and stops every aliveness-probing
// engine the loop started once ctx is done.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	defer l.prober.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one pass of observe → aliveness-reset → decide → act across
// every registry entry (spec §4.3). Registry mutations are batched under
// a single WithLock per tick; a single entry erroring does not prevent
// the rest from being reconciled. Once the tick's mutations land, it
// reconciles the set of running aliveness-probing engines against the
// entries that are now running (spec §4.4).
func (l *Loop) Tick(ctx context.Context) {
	now := time.Now()
	var snapshot map[string]registry.ProcessEntry
	err := l.store.WithLock("supervisor_tick", func(r *registry.Registry) (*registry.Registry, error) {
		for id, entry := range r.Processes {
			entry = l.reconcileEntry(id, entry, now)
			r.Processes[id] = entry
		}
		snapshot = r.Processes
		return r, nil
	})
	if err != nil {
		l.logger.Warn("supervisor tick failed", "error", err)
		return
	}
	l.prober.Reconcile(ctx, snapshot)
}

func (l *Loop) reconcileEntry(id string, entry registry.ProcessEntry, now time.Time) registry.ProcessEntry {
	entry = l.observe(id, entry, now)
	entry = l.resetAliveness(entry, now)

	// A manual control-API start sets state=starting directly (spec §6)
	// without going through decideRestart's autostart/backoff gating;
	// pick it up here so the spawn still only happens from this loop.
	if entry.State == registry.StateStarting && entry.PID == 0 {
		return l.act(id, entry, 0, now)
	}

	action, delay := l.decideRestart(entry)
	if action {
		entry = l.act(id, entry, delay, now)
	}
	return entry
}

// observe implements step 1: if pid != 0, check liveness; if dead,
// transition running→failed (or stopping→stopped) and clear pid.
func (l *Loop) observe(id string, entry registry.ProcessEntry, now time.Time) registry.ProcessEntry {
	if entry.PID == 0 {
		return entry
	}
	if l.controller.IsAlive(id, entry.PID) {
		return entry
	}
	switch entry.State {
	case registry.StateRunning:
		entry.State = registry.StateFailed
		entry.PID = 0
		entry.LastStoppedAt = now
		metrics.SetCurrentState(id, string(entry.State), false)
		l.recordEvent(history.EventStop, id, entry)
	case registry.StateStopping:
		entry.State = registry.StateStopped
		entry.PID = 0
		entry.LastStoppedAt = now
		metrics.SetCurrentState(id, string(entry.State), false)
		l.recordEvent(history.EventStop, id, entry)
	}
	l.controller.Forget(id)
	return entry
}

// resetAliveness implements step 2: zero restartAttempts once an entry
// has stayed running past policy.resetAfterMs.
func (l *Loop) resetAliveness(entry registry.ProcessEntry, now time.Time) registry.ProcessEntry {
	if entry.State != registry.StateRunning || entry.Restart == nil || entry.LastStartedAt.IsZero() {
		return entry
	}
	resetAfter := time.Duration(entry.Restart.ResetAfterMs) * time.Millisecond
	if resetAfter <= 0 {
		return entry
	}
	if now.Sub(entry.LastStartedAt) >= resetAfter {
		entry.RestartAttempts = 0
	}
	return entry
}

// decideRestart implements step 3: decide whether a start is due this
// tick and, if so, how long to have waited for backoff purposes. Backoff
// is not separately tracked in the registry beyond restartAttempts, so a
// due start is one whose backoff window (measured from lastStoppedAt)
// has already elapsed.
func (l *Loop) decideRestart(entry registry.ProcessEntry) (due bool, delay time.Duration) {
	if entry.State != registry.StateFailed && entry.State != registry.StateStopped {
		return false, 0
	}
	if !entry.Enabled || !entry.Autostart {
		return false, 0
	}

	backoff, retry := entry.Restart.BackoffFor(entry.RestartAttempts)
	if !retry {
		return false, 0
	}
	if entry.LastStoppedAt.IsZero() {
		return true, backoff
	}
	return time.Since(entry.LastStoppedAt) >= backoff, backoff
}

// act implements step 4: transition to starting, call the controller,
// and record the new pid/timestamps/attempt count. Controller errors
// transition the entry to failed and increment both counters rather
// than stopping the loop (spec §4.3 "Failure semantics").
func (l *Loop) act(id string, entry registry.ProcessEntry, _ time.Duration, now time.Time) registry.ProcessEntry {
	entry.State = registry.StateStarting
	pid, err := l.controller.Start(id, entry.ProcessConfig)
	if err != nil {
		entry.State = registry.StateFailed
		entry.RestartAttempts++
		entry.ConsecutiveFailures++
		l.logger.Warn("start failed", "id", id, "error", err)
		metrics.IncRestartAttempt(id)
		metrics.SetCurrentState(id, string(entry.State), false)
		return entry
	}
	entry.State = registry.StateRunning
	entry.PID = pid
	entry.LastStartedAt = now
	entry.RestartAttempts++
	metrics.IncRestartAttempt(id)
	metrics.IncRestart(id)
	metrics.SetCurrentState(id, string(entry.State), true)
	if entry.RestartAttempts > 1 {
		l.recordEvent(history.EventRestart, id, entry)
	} else {
		l.recordEvent(history.EventStart, id, entry)
	}
	return entry
}
