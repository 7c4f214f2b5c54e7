// Package heartbeat implements the crash detection engine (spec §4.5):
// participants in an Operation exchange liveness through a shared ledger
// file, detecting abort requests, stale peers, and vanished call frames
// without relying on OS-level parent-child relationships.
package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/monitd/internal/errs"
	"github.com/loykin/monitd/internal/registry"
)

// FailureKind enumerates the failure taxonomy the engine can detect
// (spec §4.5).
type FailureKind string

const (
	FailureAbortRequested   FailureKind = "abortRequested"
	FailureStaleHeartbeat   FailureKind = "staleHeartbeat"
	FailureChildDisappeared FailureKind = "childDisappeared"
	FailureHeartbeatError   FailureKind = "heartbeatError"
	FailureUserAbort        FailureKind = "userAbort"
)

// FailureDetection is emitted at most once per tick per participant when
// the detection algorithm matches a failure kind (spec §4.5, ordering:
// abort > staleness > frame-shape > healthy).
type FailureDetection struct {
	Kind        FailureKind
	Operation   string
	Participant string
	Message     string
}

// ParticipantRecord is one participant's entry in the ledger.
type ParticipantRecord struct {
	ID            string    `json:"id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CallFrames    []string  `json:"call_frames"`
}

// Ledger is the shared document backing one Operation (spec §3, §6).
type Ledger struct {
	OperationID string                        `json:"operation_id"`
	CreatedAt   time.Time                      `json:"created_at"`
	Initiator   string                         `json:"initiator"`
	AbortFlag   bool                           `json:"abort_flag"`
	Complete    bool                           `json:"complete"`
	Participants map[string]*ParticipantRecord `json:"participants"`
}

// HeartbeatResult reports what a heartbeat tick observed in the ledger
// (spec §3 "HeartbeatResult").
type HeartbeatResult struct {
	CallFrameCount    int
	Ages              map[string]time.Duration
	AbortFlag         bool
	StaleParticipants []string
	Err               error
}

// Store manages ledger files under dir, one JSON file plus sibling lock
// per operation, mirroring the Registry Store's atomic-write/lock-steal
// discipline (spec §4.1, reused verbatim via registry.Lock).
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir (created if absent).
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(errs.LedgerIOError, "create ledger directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) ledgerPath(operationID string) string {
	return filepath.Join(s.dir, operationID+".ledger.json")
}

func (s *Store) lockPath(operationID string) string {
	return filepath.Join(s.dir, operationID+".ledger.lock")
}

func (s *Store) newLock(operationID string) *registry.Lock {
	return registry.NewLock(s.lockPath(operationID))
}

// Exists reports whether operationID has a ledger file.
func (s *Store) Exists(operationID string) bool {
	_, err := os.Stat(s.ledgerPath(operationID))
	return err == nil
}

func (s *Store) load(operationID string) (*Ledger, error) {
	b, err := os.ReadFile(s.ledgerPath(operationID))
	if err != nil {
		return nil, err
	}
	var l Ledger
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, errs.Wrap(errs.LedgerIOError, "parse ledger", err)
	}
	return &l, nil
}

func (s *Store) save(l *Ledger) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return errs.Wrap(errs.LedgerIOError, "marshal ledger", err)
	}
	path := s.ledgerPath(l.OperationID)
	tmp, err := os.CreateTemp(s.dir, "."+l.OperationID+"-*.tmp")
	if err != nil {
		return errs.Wrap(errs.LedgerIOError, "create temp ledger file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.LedgerIOError, "write temp ledger file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.LedgerIOError, "sync temp ledger file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.LedgerIOError, "close temp ledger file", err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		return errs.Wrap(errs.LedgerIOError, "chmod temp ledger file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.LedgerIOError, "rename temp ledger file", err)
	}
	return nil
}

// withLock acquires the operation's ledger lock, loads the ledger, runs
// fn, and saves if fn succeeds. Mirrors registry.Store.WithLock.
func (s *Store) withLock(operationID, op string, fn func(*Ledger) error) error {
	lock := s.newLock(operationID)
	release, err := lock.Acquire(op)
	if err != nil {
		return err
	}
	defer release()

	l, err := s.load(operationID)
	if err != nil {
		return errs.Wrap(errs.LedgerIOError, "load ledger", err)
	}
	if err := fn(l); err != nil {
		return err
	}
	return s.save(l)
}

// create writes a fresh ledger for operationID, initiated by initiator.
func (s *Store) create(operationID, initiator string) error {
	l := &Ledger{
		OperationID:  operationID,
		CreatedAt:    time.Now(),
		Initiator:    initiator,
		Participants: make(map[string]*ParticipantRecord),
	}
	return s.save(l)
}

// remove deletes the ledger file (spec: complete() removes the ledger).
func (s *Store) remove(operationID string) error {
	if err := os.Remove(s.ledgerPath(operationID)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.LedgerIOError, "remove ledger", err)
	}
	_ = os.Remove(s.lockPath(operationID) + ".info")
	_ = os.Remove(s.lockPath(operationID))
	return nil
}
