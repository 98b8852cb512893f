// Package atomiclock implements the Atomic Lock (spec §4.1): single-writer
// exclusion over a backup destination, with stale-holder recovery that is
// race-free because the PID check happens only after the flock(2) is held.
//
// It is a sibling of lock/flock rather than a user of it: lock.Locker's
// contract (Lock/Unlock/TryLock) has no room for "fail because another live
// process holds it" or "read the holder's PID", so this package talks to
// gofrs/flock directly, the way lock/flock does, and adds the PID bookkeeping
// spec §4.1 requires on top.
package atomiclock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/devbackup/devbackup/utils"
)

// retryDelay is the bounded-polling interval for Acquire (spec §4.1 step 4,
// §9 "Retry/backoff").
const retryDelay = 100 * time.Millisecond

// LockError indicates the lock is held by another live process (spec §7).
type LockError struct {
	Path      string
	Holder    int
	HasHolder bool
}

func (e *LockError) Error() string {
	if e.HasHolder {
		return fmt.Sprintf("lock %s held by pid %d", e.Path, e.Holder)
	}
	return fmt.Sprintf("lock %s: timed out waiting for acquisition", e.Path)
}

// Manager is the Atomic Lock: exclusive access to one backup destination.
// Not safe for concurrent use by multiple goroutines against the same
// Manager value — callers coordinating in-process should share one Manager
// and serialize their own calls, or use lock/flock.Lock instead, which adds
// in-process exclusion via a channel.
type Manager struct {
	path string
	fl   *flock.Flock
}

// New creates a Manager for the given lock file path.
func New(path string) *Manager {
	return &Manager{path: path}
}

// Acquire takes the exclusive lock, retrying every retryDelay until timeout
// elapses or ctx is cancelled. Stale-holder detection happens strictly after
// the flock is held (spec §4.1: "never before, to prevent two concurrent
// acquirers from both deciding a stale lock is takeable").
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) error {
	if err := utils.EnsureDirs(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("ensure lock dir: %w", err)
	}
	if _, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o600); err != nil { //nolint:gosec // path is operator-supplied config
		return fmt.Errorf("create lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	fl := flock.New(m.path)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("flock %s: %w", m.path, err)
		}
		if locked {
			if err := m.takeOver(); err != nil {
				_ = fl.Unlock()
				return err
			}
			m.fl = fl
			return nil
		}

		if time.Now().After(deadline) {
			holder, ok := m.HolderPID()
			return &LockError{Path: m.path, Holder: holder, HasHolder: ok}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// takeOver runs spec §4.1 step 3 once the flock is confirmed held: read the
// prior PID, fail if it is live and not us, otherwise claim the file.
func (m *Manager) takeOver() error {
	prior, err := utils.ReadPIDFile(m.path)
	if err == nil && prior > 0 && prior != os.Getpid() && utils.IsProcessAlive(prior) {
		return &LockError{Path: m.path, Holder: prior, HasHolder: true}
	}
	return utils.WritePIDFile(m.path, os.Getpid())
}

// Release unlocks and removes the lock file. Idempotent: calling it without
// a held lock is a no-op.
func (m *Manager) Release() error {
	if m.fl == nil {
		return nil
	}
	fl := m.fl
	m.fl = nil
	_ = os.Remove(m.path)
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", m.path, err)
	}
	return nil
}

// IsLocked probes whether the lock is currently held, without acquiring it.
func (m *Manager) IsLocked() bool {
	fl := flock.New(m.path)
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if !locked {
		return true
	}
	_ = fl.Unlock()
	return false
}

// HolderPID returns the PID recorded in the lock file, if any.
func (m *Manager) HolderPID() (int, bool) {
	pid, err := utils.ReadPIDFile(m.path)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
