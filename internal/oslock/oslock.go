// Package oslock wraps an advisory filesystem lock on a single path.
//
// It is the leaf dependency of the ipmutex state machine: it knows
// nothing about reference counting, waiting, or reporting, only how to
// ask the OS for a shared or exclusive advisory lock on a file.
package oslock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// retryDelay is how often a context-bounded attempt polls the OS lock.
// gofrs/flock has no native "lock until absolute time" call, so timed
// acquisition is built from repeated non-blocking attempts.
const retryDelay = 20 * time.Millisecond

// Lock is an advisory lock on a single filesystem path.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock bound to path. The file is opened lazily on first
// use by the underlying flock, not here.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Path returns the underlying lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Lock blocks until an exclusive lock is obtained.
func (l *Lock) Lock() error {
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("oslock: lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// LockShared blocks until a shared lock is obtained.
func (l *Lock) LockShared() error {
	if err := l.fl.RLock(); err != nil {
		return fmt.Errorf("oslock: lock_sharable %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Unlock releases whichever lock (shared or exclusive) is held.
// Safe to call when no lock is held.
func (l *Lock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("oslock: unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// UnlockShared is equivalent to Unlock; the OS primitive does not
// distinguish which mode is being released.
func (l *Lock) UnlockShared() error {
	return l.Unlock()
}

// TryLock attempts to obtain an exclusive lock without waiting.
func (l *Lock) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("oslock: try_lock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// TryLockShared attempts to obtain a shared lock without waiting.
func (l *Lock) TryLockShared() (bool, error) {
	ok, err := l.fl.TryRLock()
	if err != nil {
		return false, fmt.Errorf("oslock: try_lock_sharable %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// TimedLock attempts to obtain an exclusive lock before deadline.
func (l *Lock) TimedLock(deadline time.Time) (bool, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("oslock: timed_lock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// TimedLockShared attempts to obtain a shared lock before deadline.
func (l *Lock) TimedLockShared(deadline time.Time) (bool, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	ok, err := l.fl.TryRLockContext(ctx, retryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("oslock: timed_lock_sharable %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}
