package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAndJoinOperation(t *testing.T) {
	store := newStore(t)
	a, err := CreateOperation(store, "op1", "A", 3*time.Second)
	require.NoError(t, err)
	b, err := JoinOperation(store, "op1", "B", 3*time.Second)
	require.NoError(t, err)

	_, failure, err := a.Heartbeat()
	require.NoError(t, err)
	require.Nil(t, failure)

	_, failure, err = b.Heartbeat()
	require.NoError(t, err)
	require.Nil(t, failure)
}

func TestAbortFlagIsMonotonicAndPropagates(t *testing.T) {
	store := newStore(t)
	a, err := CreateOperation(store, "op-abort", "A", 3*time.Second)
	require.NoError(t, err)
	b, err := JoinOperation(store, "op-abort", "B", 3*time.Second)
	require.NoError(t, err)

	require.NoError(t, a.SetAbortFlag(true))

	_, failureA, err := a.Heartbeat()
	require.NoError(t, err)
	require.NotNil(t, failureA)
	require.Equal(t, FailureAbortRequested, failureA.Kind)

	// A fresh participant re-heartbeating still observes the abort flag.
	b2, err := JoinOperation(store, "op-abort", "B", 3*time.Second)
	require.NoError(t, err)
	_, failureB, err := b2.Heartbeat()
	require.NoError(t, err)
	require.NotNil(t, failureB)
	require.Equal(t, FailureAbortRequested, failureB.Kind)
	_ = b
}

func TestStaleHeartbeatDetected(t *testing.T) {
	store := newStore(t)
	a, err := CreateOperation(store, "op-stale", "A", 50*time.Millisecond)
	require.NoError(t, err)
	_, err = JoinOperation(store, "op-stale", "B", 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	_, failure, err := a.Heartbeat()
	require.NoError(t, err)
	require.NotNil(t, failure)
	require.Equal(t, FailureStaleHeartbeat, failure.Kind)
}

func TestCompleteRemovesLedger(t *testing.T) {
	store := newStore(t)
	a, err := CreateOperation(store, "op-complete", "A", time.Second)
	require.NoError(t, err)
	require.True(t, store.Exists("op-complete"))
	require.NoError(t, a.Complete())
	require.False(t, store.Exists("op-complete"))
}

func TestHeartbeatErrorWhenLedgerAbsent(t *testing.T) {
	store := newStore(t)
	p := &Participant{store: store, operationID: "missing", id: "A", stalenessThreshold: time.Second}
	_, failure, err := p.Heartbeat()
	require.NoError(t, err)
	require.NotNil(t, failure)
	require.Equal(t, FailureHeartbeatError, failure.Kind)
}

func TestJoinOperationMissingLedgerErrors(t *testing.T) {
	store := newStore(t)
	_, err := JoinOperation(store, "nope", "A", time.Second)
	require.Error(t, err)
}

func TestCallFrameChildDisappeared(t *testing.T) {
	store := newStore(t)
	a, err := CreateOperation(store, "op-frames", "A", time.Second)
	require.NoError(t, err)
	require.NoError(t, a.CreateCallFrame("f1"))
	require.NoError(t, a.CreateCallFrame("f2"))
	_, failure, err := a.Heartbeat()
	require.NoError(t, err)
	require.Nil(t, failure)

	// Simulate a frame vanishing out from under the caller by truncating
	// the ledger's persisted record directly, without going through this
	// participant's own CreateCallFrame/DeleteCallFrame (which would
	// resync the ledger to match local state).
	require.NoError(t, store.withLock("op-frames", "test-truncate", func(l *Ledger) error {
		l.Participants["A"].CallFrames = nil
		return nil
	}))

	_, failure, err = a.Heartbeat()
	require.NoError(t, err)
	require.NotNil(t, failure)
	require.Equal(t, FailureChildDisappeared, failure.Kind)
}
