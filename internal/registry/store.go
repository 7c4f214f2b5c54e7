package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/monitd/internal/errs"
)

// Store owns the on-disk registry document for one monitor instance.
// All mutation goes through WithLock; Load/Save alone do not coordinate
// with other processes.
type Store struct {
	dir  string
	lock *Lock
}

func registryPath(dir string) string { return filepath.Join(dir, "registry.json") }
func lockPath(dir string) string     { return filepath.Join(dir, "registry.lock") }

// NewStore returns a Store rooted at dir, creating dir if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.LedgerIOError, "create registry directory", err)
	}
	return &Store{dir: dir, lock: NewLock(lockPath(dir))}, nil
}

// Exists reports whether a registry document has already been initialized.
func (s *Store) Exists() bool {
	_, err := os.Stat(registryPath(s.dir))
	return err == nil
}

// Initialize writes a fresh registry document if one does not already
// exist. It is a no-op (not an error) when the registry already exists,
// so daemon startup can call it unconditionally.
func (s *Store) Initialize(instanceID string, monitorIntervalMs int) error {
	if s.Exists() {
		return nil
	}
	return s.WithLock("initialize", func(r *Registry) (*Registry, error) {
		return NewRegistry(instanceID, monitorIntervalMs), nil
	})
}

// Load reads the registry document without acquiring the lock. Callers
// that intend to mutate and persist must use WithLock instead.
func (s *Store) Load() (*Registry, error) {
	data, err := os.ReadFile(registryPath(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.InvalidState, "registry not initialized")
		}
		return nil, errs.Wrap(errs.LedgerIOError, "read registry", err)
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errs.Wrap(errs.LedgerIOError, "parse registry", err)
	}
	if r.Processes == nil {
		r.Processes = make(map[string]ProcessEntry)
	}
	resetTransientFailureCounters(&r)
	return &r, nil
}

// resetTransientFailureCounters implements the §9 decision: consecutiveFailures
// resets to zero on load for entries not already running, since a monitor
// restart cannot distinguish a stale counter from a since-fixed process.
func resetTransientFailureCounters(r *Registry) {
	for name, entry := range r.Processes {
		if entry.State != StateRunning {
			entry.ConsecutiveFailures = 0
			r.Processes[name] = entry
		}
	}
}

// Save atomically persists r: write to a temp file in the same directory,
// fsync, then rename over the destination. Rename is atomic on the same
// filesystem, so readers never observe a partially written document.
func (s *Store) Save(r *Registry) error {
	r.LastModified = time.Now()
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errs.Wrap(errs.LedgerIOError, "marshal registry", err)
	}

	dest := registryPath(s.dir)
	tmp, err := os.CreateTemp(s.dir, ".registry-*.tmp")
	if err != nil {
		return errs.Wrap(errs.LedgerIOError, "create temp registry file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.LedgerIOError, "write temp registry file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.LedgerIOError, "sync temp registry file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.LedgerIOError, "close temp registry file", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return errs.Wrap(errs.LedgerIOError, "chmod temp registry file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return errs.Wrap(errs.LedgerIOError, "rename registry file into place", err)
	}
	return nil
}

// Mutator receives the current registry and returns the document to persist.
type Mutator func(r *Registry) (*Registry, error)

// WithLock acquires the cross-process registry lock tagged with
// operation, loads the current document (or starts a fresh one when this
// is the very first write), applies fn, and atomically saves the result.
// The lock is released before WithLock returns, win or lose.
func (s *Store) WithLock(operation string, fn Mutator) error {
	release, err := s.lock.Acquire(operation)
	if err != nil {
		return err
	}
	defer release()

	var r *Registry
	if s.Exists() {
		r, err = s.Load()
		if err != nil {
			return err
		}
	} else {
		r = NewRegistry("", 0)
	}

	updated, err := fn(r)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	return s.Save(updated)
}

// WithLockReadOnly acquires the lock for a read, hands fn the current
// document, and releases without writing. Used by control-API read
// endpoints that still need a consistent snapshot under concurrent writers.
func (s *Store) WithLockReadOnly(operation string, fn func(r *Registry) error) error {
	release, err := s.lock.Acquire(operation)
	if err != nil {
		return err
	}
	defer release()

	r, err := s.Load()
	if err != nil {
		return err
	}
	return fn(r)
}

func (s *Store) String() string {
	return fmt.Sprintf("registry.Store{dir=%s}", s.dir)
}
