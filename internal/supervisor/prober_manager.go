package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/monitd/internal/metrics"
	"github.com/loykin/monitd/internal/prober"
	"github.com/loykin/monitd/internal/registry"
)

// ProberManager keeps one prober.Engine running per supervised entry
// that has aliveness checking enabled, and folds its verdicts back into
// the registry (spec §4.4). Only VerdictSteadyFailed and
// VerdictStartupFailed change registry state: a failed verdict marks the
// entry failed and the next supervisor tick's decideRestart applies the
// normal backoff policy, except that a VerdictStartupFailed with
// FailActionDisable marks the entry disabled (enabled=false, pid
// cleared). That is the one case where the manager itself then calls
// Controller.Stop, since the entry is already running with a live pid by
// the time the startup gate finishes (§4.4) and nothing else will ever
// stop it once it's marked disabled.
type ProberManager struct {
	store      *registry.Store
	controller *Controller
	prober     *prober.Prober
	logger     *slog.Logger

	mu      sync.Mutex
	engines map[string]context.CancelFunc
}

// NewProberManager builds a ProberManager sharing a single HTTP prober
// across every entry's engine.
func NewProberManager(store *registry.Store, controller *Controller, log *slog.Logger) *ProberManager {
	if log == nil {
		log = slog.Default()
	}
	return &ProberManager{
		store:      store,
		controller: controller,
		prober:     prober.New(5 * time.Second),
		logger:     log,
		engines:    make(map[string]context.CancelFunc),
	}
}

// Reconcile starts an engine for every running entry with
// aliveness.enabled that doesn't already have one, and stops engines
// belonging to entries that are no longer running or no longer exist.
// Call it once per supervisor tick, after Loop.Tick has applied pid
// observations for this pass.
func (m *ProberManager) Reconcile(ctx context.Context, entries map[string]registry.ProcessEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := make(map[string]bool, len(entries))
	for id, entry := range entries {
		wantRunning := entry.State == registry.StateRunning && entry.Aliveness != nil && entry.Aliveness.Enabled
		live[id] = wantRunning
		if wantRunning {
			if _, ok := m.engines[id]; !ok {
				m.start(ctx, id, *entry.Aliveness)
			}
		}
	}
	for id, cancel := range m.engines {
		if !live[id] {
			cancel()
			delete(m.engines, id)
		}
	}
}

// Stop cancels every engine this manager owns. Call during shutdown.
func (m *ProberManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.engines {
		cancel()
		delete(m.engines, id)
	}
}

func (m *ProberManager) start(parent context.Context, id string, check registry.AlivenessCheck) {
	ctx, cancel := context.WithCancel(parent)
	m.engines[id] = cancel

	engine := prober.NewEngine(id, check, m.prober)
	go m.consume(ctx, id, engine)
	go engine.Run(ctx)
}

// consume drains one engine's verdicts/status results until its
// channels close (engine.Run returning), applying each to the registry.
func (m *ProberManager) consume(ctx context.Context, id string, engine *prober.Engine) {
	verdicts := engine.Verdicts()
	statuses := engine.Statuses()
	for verdicts != nil || statuses != nil {
		select {
		case v, ok := <-verdicts:
			if !ok {
				verdicts = nil
				continue
			}
			m.applyVerdict(id, v)
		case s, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			m.applyStatus(id, s)
		}
	}
	m.mu.Lock()
	delete(m.engines, id)
	m.mu.Unlock()
}

func (m *ProberManager) applyVerdict(id string, v prober.Verdict) {
	switch v.Kind {
	case prober.VerdictHealthy:
		metrics.IncLivenessProbe(id, "healthy")
		return
	case prober.VerdictStartupFailed, prober.VerdictSteadyFailed:
		metrics.IncLivenessProbe(id, "failed")
	default:
		return
	}

	var toStop *registry.ProcessEntry
	err := m.store.WithLock("prober_verdict_"+id, func(r *registry.Registry) (*registry.Registry, error) {
		entry, ok := r.Processes[id]
		if !ok || entry.State != registry.StateRunning {
			return r, nil
		}
		switch v.FailAction {
		case registry.FailActionDisable:
			if entry.PID != 0 {
				captured := entry
				toStop = &captured
			}
			entry.State = registry.StateDisabled
			entry.Enabled = false
			entry.PID = 0
		default:
			entry.State = registry.StateFailed
			entry.ConsecutiveFailures = v.ConsecutiveFailures
		}
		entry.LastStoppedAt = time.Now()
		r.Processes[id] = entry
		return r, nil
	})
	if err != nil {
		m.logger.Warn("apply prober verdict failed", "id", id, "error", err)
		return
	}
	if toStop != nil && m.controller != nil {
		_ = m.controller.Stop(id, toStop.PID, 5*time.Second)
		m.controller.Forget(id)
	}
	m.logger.Warn("aliveness verdict", "id", id, "kind", v.Kind, "fail_action", v.FailAction, "message", v.Message)
}

func (m *ProberManager) applyStatus(id string, s prober.StatusResult) {
	if s.Err != nil || s.PID == 0 {
		return
	}
	_ = m.store.WithLock("prober_status_"+id, func(r *registry.Registry) (*registry.Registry, error) {
		entry, ok := r.Processes[id]
		if !ok || entry.State != registry.StateRunning {
			return r, nil
		}
		entry.PID = s.PID
		r.Processes[id] = entry
		return r, nil
	})
}
