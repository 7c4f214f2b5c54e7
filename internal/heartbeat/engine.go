package heartbeat

import (
	"context"
	"math/rand"
	"time"
)

// DefaultTickInterval and DefaultJitter implement spec §4.5's "default
// 4.5 s with ±500 ms jitter to avoid thundering herd".
const (
	DefaultTickInterval = 4500 * time.Millisecond
	DefaultJitter       = 500 * time.Millisecond
)

// Engine runs a participant's heartbeat on its own cooperative timer,
// publishing FailureDetections on Events until stopped (spec §4.5
// "Concurrency": "Each participant's heartbeat runs on its own
// cooperative timer").
type Engine struct {
	participant *Participant
	interval    time.Duration
	jitter      time.Duration
	events      chan FailureDetection
}

// NewEngine wraps p with a ticking heartbeat loop. interval/jitter of
// zero fall back to the spec defaults.
func NewEngine(p *Participant, interval, jitter time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if jitter == 0 {
		jitter = DefaultJitter
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Engine{participant: p, interval: interval, jitter: jitter, events: make(chan FailureDetection, 8)}
}

// Events returns the channel FailureDetections are published on. Readers
// should drain it promptly; it is closed when Run returns.
func (e *Engine) Events() <-chan FailureDetection {
	return e.events
}

// Run drives the heartbeat loop until ctx is cancelled or a
// FailureDetection stops the local participant (spec: "A participant's
// local heartbeat is stopped on: detected failure, explicit
// stopHeartbeat, or scope teardown").
func (e *Engine) Run(ctx context.Context) {
	defer close(e.events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.nextDelay()):
			result, failure, err := e.participant.Heartbeat()
			if err != nil {
				return
			}
			if result != nil && result.Err != nil {
				// Transient lock contention or load error: spec says
				// sleep 40-60ms and retry rather than emit a failure.
				time.Sleep(40*time.Millisecond + time.Duration(rand.Intn(20))*time.Millisecond)
				continue
			}
			if failure != nil {
				select {
				case e.events <- *failure:
				default:
				}
				return
			}
		}
	}
}

func (e *Engine) nextDelay() time.Duration {
	if e.jitter == 0 {
		return e.interval
	}
	offset := time.Duration(rand.Int63n(int64(2*e.jitter))) - e.jitter
	d := e.interval + offset
	if d < 0 {
		d = e.interval
	}
	return d
}
