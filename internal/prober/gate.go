package prober

import (
	"context"
	"time"

	"github.com/loykin/monitd/internal/registry"
)

// StartupGate drives the probing phase immediately after an entry
// transitions starting→running (spec §4.4 "Startup gate"). It is
// single-use: once Run returns, the gate is spent.
type StartupGate struct {
	prober *Prober
	cfg    registry.StartupCheck
	url    string
	timeout time.Duration
}

// NewStartupGate builds a gate for one entry's startup check. url is the
// entry's aliveness.livenessUrl and timeout its aliveness.timeoutMs.
func NewStartupGate(p *Prober, cfg registry.StartupCheck, url string, timeout time.Duration) *StartupGate {
	return &StartupGate{prober: p, cfg: cfg, url: url, timeout: timeout}
}

// Run blocks through the startup gate: it waits InitialDelayMs, then
// probes up to MaxAttempts times at CheckIntervalMs spacing. It returns
// true on the first successful probe. If ctx is cancelled it returns
// false immediately with no fail action implied by the caller.
func (g *StartupGate) Run(ctx context.Context) bool {
	if !g.cfg.Enabled {
		return true
	}
	if !sleepCtx(ctx, time.Duration(g.cfg.InitialDelayMs)*time.Millisecond) {
		return false
	}

	attempts := g.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := time.Duration(g.cfg.CheckIntervalMs) * time.Millisecond

	for i := 0; i < attempts; i++ {
		outcome := g.prober.Probe(ctx, g.url, g.timeout)
		if outcome.Healthy {
			return true
		}
		if i < attempts-1 {
			if !sleepCtx(ctx, interval) {
				return false
			}
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
