package heartbeat

import (
	"time"

	"github.com/loykin/monitd/internal/errs"
)

// DefaultStalenessThreshold is the spec's typical staleness window
// (spec §4.5, "typ. 10 s; configurable per operation").
const DefaultStalenessThreshold = 10 * time.Second

// Participant is one process's handle on an Operation's ledger (spec
// §4.5 "Participant contract").
type Participant struct {
	store              *Store
	operationID        string
	id                 string
	stalenessThreshold time.Duration
	callFrames         []string
	stopped            bool
}

// CreateOperation creates a fresh ledger for operationID and returns the
// initiator's Participant handle (spec: "createOperation() -> operationId
// (initiator only; creates ledger)").
func CreateOperation(store *Store, operationID, participantID string, stalenessThreshold time.Duration) (*Participant, error) {
	if stalenessThreshold <= 0 {
		stalenessThreshold = DefaultStalenessThreshold
	}
	if err := store.create(operationID, participantID); err != nil {
		return nil, err
	}
	p := &Participant{store: store, operationID: operationID, id: participantID, stalenessThreshold: stalenessThreshold}
	if err := p.register(); err != nil {
		return nil, err
	}
	return p, nil
}

// JoinOperation attaches a non-initiator participant to an existing
// ledger.
func JoinOperation(store *Store, operationID, participantID string, stalenessThreshold time.Duration) (*Participant, error) {
	if !store.Exists(operationID) {
		return nil, errs.New(errs.LedgerIOError, "operation "+operationID+" has no ledger")
	}
	if stalenessThreshold <= 0 {
		stalenessThreshold = DefaultStalenessThreshold
	}
	p := &Participant{store: store, operationID: operationID, id: participantID, stalenessThreshold: stalenessThreshold}
	if err := p.register(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Participant) register() error {
	return p.store.withLock(p.operationID, "join", func(l *Ledger) error {
		if _, ok := l.Participants[p.id]; !ok {
			l.Participants[p.id] = &ParticipantRecord{ID: p.id, LastHeartbeat: time.Now()}
		}
		return nil
	})
}

// CreateCallFrame pushes callID onto this participant's logical call
// stack and persists it to the ledger.
func (p *Participant) CreateCallFrame(callID string) error {
	p.callFrames = append(p.callFrames, callID)
	return p.syncFrames()
}

// DeleteCallFrame pops the most recently pushed call frame matching
// callID (LIFO) and persists the change.
func (p *Participant) DeleteCallFrame(callID string) error {
	for i := len(p.callFrames) - 1; i >= 0; i-- {
		if p.callFrames[i] == callID {
			p.callFrames = append(p.callFrames[:i], p.callFrames[i+1:]...)
			break
		}
	}
	return p.syncFrames()
}

func (p *Participant) syncFrames() error {
	frames := append([]string(nil), p.callFrames...)
	return p.store.withLock(p.operationID, "call_frame", func(l *Ledger) error {
		rec, ok := l.Participants[p.id]
		if !ok {
			rec = &ParticipantRecord{ID: p.id}
			l.Participants[p.id] = rec
		}
		rec.CallFrames = frames
		rec.LastHeartbeat = time.Now()
		return nil
	})
}

// Heartbeat runs one tick of the detection algorithm (spec §4.5
// "Detection algorithm"): refresh this participant's timestamp, then
// classify the ledger's state into at most one FailureDetection. A
// result whose Err is set (and no detection) signals transient lock
// contention or a ledger load error that the caller should retry after a
// small jittered sleep; a vanished ledger yields a nil result with a
// FailureHeartbeatError detection. A non-nil error is returned only when
// Heartbeat is called after the participant has stopped.
func (p *Participant) Heartbeat() (*HeartbeatResult, *FailureDetection, error) {
	if p.stopped {
		return nil, nil, errs.New(errs.InvalidState, "heartbeat called after stop")
	}
	if !p.store.Exists(p.operationID) {
		p.stopped = true
		return nil, &FailureDetection{Kind: FailureHeartbeatError, Operation: p.operationID, Participant: p.id,
			Message: "ledger file absent"}, nil
	}

	var result HeartbeatResult
	expected := len(p.callFrames)
	err := p.store.withLock(p.operationID, "heartbeat", func(l *Ledger) error {
		now := time.Now()
		rec, ok := l.Participants[p.id]
		if !ok {
			rec = &ParticipantRecord{ID: p.id}
			l.Participants[p.id] = rec
		}

		// Observe the ledger's previously-persisted call frame count for
		// this participant before overwriting it with the current local
		// stack, matching the spec's read-then-write ordering.
		result.CallFrameCount = len(rec.CallFrames)
		result.AbortFlag = l.AbortFlag

		rec.LastHeartbeat = now
		rec.CallFrames = append([]string(nil), p.callFrames...)

		result.Ages = make(map[string]time.Duration, len(l.Participants))
		for id, other := range l.Participants {
			age := now.Sub(other.LastHeartbeat)
			result.Ages[id] = age
			if id != p.id && age > p.stalenessThreshold {
				result.StaleParticipants = append(result.StaleParticipants, id)
			}
		}
		return nil
	})
	if err != nil {
		result.Err = err
		return &result, nil, nil
	}

	// First match wins: abort > staleness > frame-shape > healthy.
	if result.AbortFlag {
		p.stopped = true
		return &result, &FailureDetection{Kind: FailureAbortRequested, Operation: p.operationID, Participant: p.id,
			Message: "abort flag observed"}, nil
	}
	if len(result.StaleParticipants) > 0 {
		p.stopped = true
		return &result, &FailureDetection{Kind: FailureStaleHeartbeat, Operation: p.operationID, Participant: p.id,
			Message: "stale participants: " + joinStrings(result.StaleParticipants)}, nil
	}
	if result.CallFrameCount < expected {
		p.stopped = true
		return &result, &FailureDetection{Kind: FailureChildDisappeared, Operation: p.operationID, Participant: p.id,
			Message: "observed call frame count below expected"}, nil
	}
	return &result, nil, nil
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// SetAbortFlag publishes an abort intent in the ledger (spec: monotonic —
// once true, every later read sees true).
func (p *Participant) SetAbortFlag(abort bool) error {
	return p.store.withLock(p.operationID, "set_abort", func(l *Ledger) error {
		if l.AbortFlag && !abort {
			return nil // monotonic: never clear an observed true
		}
		l.AbortFlag = abort
		return nil
	})
}

// Stop marks the participant's local heartbeat as stopped without
// touching the ledger (spec "Cancellation": explicit stopHeartbeat).
func (p *Participant) Stop() {
	p.stopped = true
}

// Complete marks the ledger complete and removes it (initiator only, per
// spec's Participant contract).
func (p *Participant) Complete() error {
	if err := p.store.withLock(p.operationID, "complete", func(l *Ledger) error {
		l.Complete = true
		return nil
	}); err != nil {
		return err
	}
	p.stopped = true
	return p.store.remove(p.operationID)
}
