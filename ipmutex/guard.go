package ipmutex

import "time"

// Guard is a scoped reference to one target state (Shared or
// Exclusive) on a Mutex. Multiple Guards for the same target, even
// nested ones created by unrelated callers in the same process, share
// one underlying reference slot: the mutex only drops to a weaker
// state (or unlocks) once every Guard for its current target has
// released (the composition rule).
//
// A Guard's zero behavior matters: one constructed with a Deferred
// constructor, or one whose acquisition attempt failed, does not own
// the lock (Owns reports false) and Unlock is a no-op.
type Guard struct {
	mu     *Mutex
	target State
	ref    *stateRef
}

func newGuard(mu *Mutex, target State) *Guard {
	return &Guard{mu: mu, target: target}
}

// Mutex returns the Mutex this Guard is scoped to.
func (g *Guard) Mutex() *Mutex { return g.mu }

// Owns reports whether this Guard currently holds a reference.
func (g *Guard) Owns() bool { return g != nil && g.ref != nil }

// register asks the mutex for a reference to the Guard's target,
// unconditionally — even when the underlying state change was a
// no-op because the mutex already sat at or above target. Composition
// of nested/sibling Guards depends on every successful acquisition
// being registered, regardless of whether it actually moved the OS
// lock (the composition rule).
func (g *Guard) register() {
	g.ref = g.mu.getRef(g.target)
}

// Lock blocks until the target state is obtained, report aborts the
// wait, or the active timeout elapses. A no-op if the Guard already
// owns a reference.
func (g *Guard) Lock(report LockReport) error {
	if g.Owns() {
		return nil
	}
	var err error
	if g.target == Exclusive {
		err = g.mu.Lock(report)
	} else {
		err = g.mu.LockShared(report)
	}
	if err != nil {
		return err
	}
	g.register()
	return nil
}

// SleepLock blocks indefinitely until the target state is obtained.
func (g *Guard) SleepLock() error {
	if g.Owns() {
		return nil
	}
	var err error
	if g.target == Exclusive {
		err = g.mu.SleepLock()
	} else {
		err = g.mu.SleepLockShared()
	}
	if err != nil {
		return err
	}
	g.register()
	return nil
}

// TryLock attempts to obtain the target state immediately, reporting
// whether the Guard now owns it.
func (g *Guard) TryLock() bool {
	if g.Owns() {
		return true
	}
	var ok bool
	var err error
	if g.target == Exclusive {
		ok, err = g.mu.TryLock()
	} else {
		ok, err = g.mu.TryLockShared()
	}
	if err != nil || !ok {
		return false
	}
	g.register()
	return true
}

// TimedLock attempts to obtain the target state before deadline,
// reporting whether the Guard now owns it.
func (g *Guard) TimedLock(deadline time.Time) bool {
	if g.Owns() {
		return true
	}
	var ok bool
	var err error
	if g.target == Exclusive {
		ok, err = g.mu.TimedLock(deadline)
	} else {
		ok, err = g.mu.TimedLockShared(deadline)
	}
	if err != nil || !ok {
		return false
	}
	g.register()
	return true
}

// WaitLock attempts to obtain the target state within d of now.
func (g *Guard) WaitLock(d time.Duration) bool {
	return g.TimedLock(time.Now().Add(d))
}

// Unlock releases the Guard's reference, if any. Safe to call on a
// Guard that owns nothing, and safe to call more than once.
func (g *Guard) Unlock() {
	if !g.Owns() {
		return
	}
	g.ref.release()
	g.ref = nil
}

// NewSharableLock blocks until a shared lock is obtained, using the
// default wait behavior (no progress callback, default timeout).
func NewSharableLock(mu *Mutex) (*Guard, error) {
	g := newGuard(mu, Shared)
	if err := g.Lock(nil); err != nil {
		return nil, err
	}
	return g, nil
}

// NewSharableLockDeferred constructs a Guard for a shared lock without
// acquiring it; the caller must Lock/TryLock/TimedLock it explicitly.
func NewSharableLockDeferred(mu *Mutex) *Guard {
	return newGuard(mu, Shared)
}

// TrySharableLock attempts to obtain a shared lock immediately. Check
// Owns to see whether it succeeded.
func TrySharableLock(mu *Mutex) *Guard {
	g := newGuard(mu, Shared)
	g.TryLock()
	return g
}

// TimedSharableLock attempts to obtain a shared lock before deadline.
// Check Owns to see whether it succeeded.
func TimedSharableLock(mu *Mutex, deadline time.Time) *Guard {
	g := newGuard(mu, Shared)
	g.TimedLock(deadline)
	return g
}

// NewExclusiveLock blocks until an exclusive lock is obtained, using
// the default wait behavior (no progress callback, default timeout).
func NewExclusiveLock(mu *Mutex) (*Guard, error) {
	g := newGuard(mu, Exclusive)
	if err := g.Lock(nil); err != nil {
		return nil, err
	}
	return g, nil
}

// NewExclusiveLockDeferred constructs a Guard for an exclusive lock
// without acquiring it.
func NewExclusiveLockDeferred(mu *Mutex) *Guard {
	return newGuard(mu, Exclusive)
}

// TryExclusiveLock attempts to obtain an exclusive lock immediately.
// Check Owns to see whether it succeeded.
func TryExclusiveLock(mu *Mutex) *Guard {
	g := newGuard(mu, Exclusive)
	g.TryLock()
	return g
}

// TimedExclusiveLock attempts to obtain an exclusive lock before
// deadline. Check Owns to see whether it succeeded.
func TimedExclusiveLock(mu *Mutex, deadline time.Time) *Guard {
	g := newGuard(mu, Exclusive)
	g.TimedLock(deadline)
	return g
}
