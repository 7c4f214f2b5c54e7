package registry

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/monitd/internal/errs"
)

// staleAfter is how long a held lock is trusted before a contender is
// allowed to steal it. A monitor that crashed while holding the lock
// leaves behind a LockInfo file that would otherwise block every future
// writer forever.
const staleAfter = 30 * time.Second

// acquireTimeout bounds how long Acquire retries before giving up with
// errs.LockTimeout.
const acquireTimeout = 10 * time.Second

// Lock coordinates exclusive access to the registry document across
// processes and, via the LockInfo content check, across hosts sharing a
// network filesystem where flock's semantics are unreliable.
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock returns a Lock guarding the sibling lock file at path.
func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire blocks (with jittered backoff, up to acquireTimeout) until it
// wins the lock, stealing a stale holder's lock if one is found. It
// returns a release function that must be called to give the lock back.
func (l *Lock) Acquire(operation string) (release func(), err error) {
	deadline := time.Now().Add(acquireTimeout)
	holder := holderID()

	for {
		locked, err := l.fl.TryLock()
		if err != nil {
			return nil, errs.Wrap(errs.LockTimeout, "acquire file lock", err)
		}
		if locked {
			info := LockInfo{LockedBy: holder, LockedAt: time.Now(), PID: os.Getpid(), Operation: operation}
			if err := l.writeInfo(info); err != nil {
				_ = l.fl.Unlock()
				return nil, err
			}
			return func() {
				_ = os.Remove(l.path + ".info")
				_ = l.fl.Unlock()
			}, nil
		}

		if stolen := l.tryStealStale(operation, holder); stolen != nil {
			return stolen, nil
		}

		if time.Now().After(deadline) {
			return nil, errs.New(errs.LockTimeout, fmt.Sprintf("timed out acquiring registry lock for %q", operation))
		}
		time.Sleep(backoffJitter())
	}
}

// tryStealStale reads the current LockInfo; if it is older than
// staleAfter, or its recorded holder pid is no longer alive, it replaces
// the lock file with a fresh one (the stale holder is presumed dead or
// unreachable) and locks that under this holder's name. Returns nil if
// the current holder is neither stale nor dead, or the steal loses a race.
func (l *Lock) tryStealStale(operation, holder string) func() {
	info, err := l.readInfo()
	if err != nil {
		return nil
	}
	if time.Since(info.LockedAt) < staleAfter && holderAlive(info) {
		return nil
	}

	// The stale holder may still keep a descriptor open on the lock file
	// with its flock held, so remove that file and lock a fresh one at the
	// same path; the old descriptor then no longer blocks. If another
	// contender wins the race, we simply retry the normal loop.
	_ = os.Remove(l.path)
	l.fl = flock.New(l.path)
	locked, err := l.fl.TryLock()
	if err != nil || !locked {
		return nil
	}
	newInfo := LockInfo{LockedBy: holder, LockedAt: time.Now(), PID: os.Getpid(), Operation: operation}
	if err := l.writeInfo(newInfo); err != nil {
		_ = l.fl.Unlock()
		return nil
	}
	return func() {
		_ = os.Remove(l.path + ".info")
		_ = l.fl.Unlock()
	}
}

func (l *Lock) writeInfo(info LockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errs.Wrap(errs.LedgerIOError, "marshal lock info", err)
	}
	if err := os.WriteFile(l.path+".info", data, 0o644); err != nil {
		return errs.Wrap(errs.LedgerIOError, "write lock info", err)
	}
	return nil
}

func (l *Lock) readInfo() (LockInfo, error) {
	var info LockInfo
	data, err := os.ReadFile(l.path + ".info")
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, nil
}

func holderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// holderAlive reports whether pid is still running, but only when the
// recorded holder shares this host: a pid number from a peer host on a
// shared network filesystem isn't comparable to the local process table,
// so a cross-host holder is only ever judged stale by its timestamp.
func holderAlive(info LockInfo) bool {
	host, _ := os.Hostname()
	if !strings.HasPrefix(info.LockedBy, host+":") {
		return true
	}
	alive, err := gopsprocess.PidExists(int32(info.PID))
	if err != nil {
		return true
	}
	return alive
}

// backoffJitter spreads out retries between 20ms and 80ms so multiple
// contenders racing for the same lock don't lockstep.
func backoffJitter() time.Duration {
	return 20*time.Millisecond + time.Duration(rand.Intn(60))*time.Millisecond
}
