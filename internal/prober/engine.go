package prober

import (
	"context"
	"time"

	"github.com/loykin/monitd/internal/registry"
)

// VerdictKind enumerates what an Engine tick decided, so the supervision
// loop can map it onto a registry mutation without re-deriving the
// probing logic itself.
type VerdictKind string

const (
	// VerdictHealthy is emitted on every successful steady-state probe.
	VerdictHealthy VerdictKind = "healthy"
	// VerdictStartupFailed means the startup gate never saw a success;
	// FailAction says whether the caller should restart or disable.
	VerdictStartupFailed VerdictKind = "startup_failed"
	// VerdictSteadyFailed means consecutiveFailuresRequired was reached.
	VerdictSteadyFailed VerdictKind = "steady_failed"
)

// Verdict is published on Engine.Verdicts() whenever the probing state
// machine reaches a decision point worth acting on.
type Verdict struct {
	EntryID             string
	Kind                VerdictKind
	FailAction          registry.FailAction
	ConsecutiveFailures int
	Message             string
}

// Engine drives one entry's full probing lifecycle: an optional startup
// gate followed by indefinite steady-state probing, plus an independent
// status-URL poller (spec §4.4).
type Engine struct {
	entryID string
	check   registry.AlivenessCheck
	prober  *Prober

	verdicts chan Verdict
	statuses chan StatusResult
}

// NewEngine builds an Engine for one entry. The caller owns check's
// lifetime; a new Engine should be built whenever the entry's
// AlivenessCheck configuration changes.
func NewEngine(entryID string, check registry.AlivenessCheck, p *Prober) *Engine {
	if p == nil {
		p = New(0)
	}
	return &Engine{
		entryID:  entryID,
		check:    check,
		prober:   p,
		verdicts: make(chan Verdict, 4),
		statuses: make(chan StatusResult, 4),
	}
}

// Verdicts returns the channel liveness decisions are published on. It
// is closed when Run returns.
func (e *Engine) Verdicts() <-chan Verdict { return e.verdicts }

// Statuses returns the channel status-URL fetches are published on. It
// is closed when Run returns. Empty if the entry has no StatusURL.
func (e *Engine) Statuses() <-chan StatusResult { return e.statuses }

// Run executes the startup gate (if configured) and then steady-state
// probing until ctx is cancelled or a terminal verdict is emitted. The
// status poller, if StatusURL is set, runs concurrently for the whole
// lifetime of Run.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.verdicts)
	defer close(e.statuses)

	if !e.check.Enabled {
		return
	}

	statusCtx, cancelStatus := context.WithCancel(ctx)
	defer cancelStatus()
	if e.check.StatusURL != "" {
		go e.runStatusPoller(statusCtx)
	}

	timeout := time.Duration(e.check.TimeoutMs) * time.Millisecond

	if e.check.Startup != nil && e.check.Startup.Enabled {
		gate := NewStartupGate(e.prober, *e.check.Startup, e.check.LivenessURL, timeout)
		if !gate.Run(ctx) {
			if ctx.Err() != nil {
				return
			}
			e.emitVerdict(Verdict{
				EntryID:    e.entryID,
				Kind:       VerdictStartupFailed,
				FailAction: e.check.Startup.FailAction,
				Message:    "startup gate exhausted without a successful probe",
			})
			return
		}
		e.emitVerdict(Verdict{EntryID: e.entryID, Kind: VerdictHealthy, Message: "startup probe succeeded"})
	}

	tracker := NewSteadyTracker(e.check.ConsecutiveFailuresRequired)
	interval := time.Duration(e.check.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			outcome := e.prober.Probe(ctx, e.check.LivenessURL, timeout)
			failures, crossed := tracker.Record(outcome.Healthy)
			if crossed {
				e.emitVerdict(Verdict{
					EntryID:             e.entryID,
					Kind:                VerdictSteadyFailed,
					ConsecutiveFailures: failures,
					Message:             outcome.Message,
				})
				return
			}
			if outcome.Healthy {
				e.emitVerdict(Verdict{EntryID: e.entryID, Kind: VerdictHealthy, Message: outcome.Message})
			}
			timer.Reset(interval)
		}
	}
}

func (e *Engine) emitVerdict(v Verdict) {
	select {
	case e.verdicts <- v:
	default:
	}
}

func (e *Engine) runStatusPoller(ctx context.Context) {
	interval := time.Duration(e.check.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	timeout := time.Duration(e.check.TimeoutMs) * time.Millisecond

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			result := e.prober.FetchStatus(ctx, e.check.StatusURL, timeout)
			select {
			case e.statuses <- result:
			default:
			}
			timer.Reset(interval)
		}
	}
}
