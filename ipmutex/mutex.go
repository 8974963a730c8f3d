// Package ipmutex implements a mutex that synchronizes filesystem
// access across distinct OS processes cooperating on shared state (for
// example, a package database). It layers a reference-counted,
// multi-state lock protocol (Unlocked / Shared / Exclusive) over an OS
// advisory file lock, and exposes scoped-acquisition Guards that
// release on every exit path.
//
// The mutex is not upgradable: moving from Shared to Exclusive may
// have to drop the shared lock first to avoid a cross-process
// deadlock. See Mutex.Lock.
package ipmutex

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/cocoonstack/lockctl/internal/oslock"
)

// Mutex is a handle to the lock state of one mutex file, shared by
// every caller in this process that requested the same path. Use Open
// to obtain one; the zero value is not usable (a nil *Mutex plays the
// role of a default-constructed mutex: every lock and unlock method on
// it fails with UnusableError instead of panicking, and the query
// methods Path, IsFake, State, Poisoned and String return zero values).
type Mutex struct {
	path   string
	isFake bool
	os     *oslock.Lock // nil for fake mutexes

	mu           sync.Mutex // serializes state + both ref slots + the release hook
	state        State
	sharedRef    *stateRef
	exclusiveRef *stateRef
	poisoned     bool
}

// Path returns the mutex file path. For fake mutexes this is
// FakeLockPath.
func (m *Mutex) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

// IsFake reports whether this is a fake mutex that performs no OS
// locking.
func (m *Mutex) IsFake() bool {
	return m != nil && m.isFake
}

// State returns the mutex's current logical state.
func (m *Mutex) State() State {
	if m == nil {
		return Unlocked
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Poisoned reports whether a demotion during a release hook failed
// (the lock-demotion rule). A poisoned mutex keeps functioning — callers may
// attempt further acquires — but the failure has already been logged
// at error severity.
func (m *Mutex) Poisoned() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poisoned
}

// String renders "[state(sharedCount,exclusiveCount)path]", the same
// compact debug form zypp's lock dump uses.
func (m *Mutex) String() string {
	if m == nil {
		return "[NO MUTEX]"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("[%s(%d,%d)%s]", m.state, refCount(m.sharedRef), refCount(m.exclusiveRef), m.path)
}

func refCount(r *stateRef) int32 {
	if r == nil {
		return 0
	}
	return r.count
}

func newFakeMutex() *Mutex {
	return &Mutex{path: FakeLockPath, isFake: true, state: Unlocked}
}

// newMutex constructs a real mutex bound to path. The backing file
// must already exist and be readable and writable by the caller.
func newMutex(path string) (*Mutex, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &FileUnavailableError{Path: path, Err: err}
	}
	_ = f.Close()
	return &Mutex{path: path, os: oslock.New(path), state: Unlocked}, nil
}

// --- exclusive, low level (never waits more than one attempt) ---

func (m *Mutex) sleepLockLocked() error {
	if m.state == Exclusive {
		return nil
	}
	if m.os != nil {
		if err := m.os.Lock(); err != nil {
			return err
		}
	}
	m.state = Exclusive
	return nil
}

// SleepLock blocks indefinitely until an exclusive lock is obtained.
// Unlike Lock, it never reports progress and never times out.
func (m *Mutex) SleepLock() error {
	if m == nil {
		return &UnusableError{Op: "sleep_lock"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleepLockLocked()
}

func (m *Mutex) tryLockLocked() (bool, error) {
	if m.state == Exclusive {
		return true, nil
	}
	if m.os == nil {
		m.state = Exclusive
		return true, nil
	}
	ok, err := m.os.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		m.state = Exclusive
	}
	return ok, nil
}

// TryLock attempts to obtain an exclusive lock immediately.
func (m *Mutex) TryLock() (bool, error) {
	if m == nil {
		return false, &UnusableError{Op: "try_lock"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryLockLocked()
}

func (m *Mutex) timedLockLocked(deadline time.Time) (bool, error) {
	if m.state == Exclusive {
		return true, nil
	}
	if m.os == nil {
		m.state = Exclusive
		return true, nil
	}
	ok, err := m.os.TimedLock(deadline)
	if err != nil {
		return false, err
	}
	if ok {
		m.state = Exclusive
	}
	return ok, nil
}

// TimedLock attempts to obtain an exclusive lock before deadline.
func (m *Mutex) TimedLock(deadline time.Time) (bool, error) {
	if m == nil {
		return false, &UnusableError{Op: "timed_lock"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timedLockLocked(deadline)
}

// --- sharable, low level ---

func (m *Mutex) sleepLockSharedLocked() error {
	if m.state == Shared || m.state == Exclusive {
		return nil
	}
	if m.os != nil {
		if err := m.os.LockShared(); err != nil {
			return err
		}
	}
	m.state = Shared
	return nil
}

// demoteToSharedLocked unconditionally re-acquires the OS lock in
// shared mode, used only by releaseHook when downgrading from
// Exclusive. Unlike sleepLockSharedLocked, it does not treat an
// already-Exclusive state as satisfying the request — demotion must
// actually issue the OS-level downgrade. Per the composition rule this is
// expected to succeed instantly, since the calling process already
// holds the file locked.
func (m *Mutex) demoteToSharedLocked() error {
	if m.os != nil {
		if err := m.os.LockShared(); err != nil {
			return err
		}
	}
	m.state = Shared
	return nil
}

// SleepLockShared blocks indefinitely until a shared lock is obtained.
func (m *Mutex) SleepLockShared() error {
	if m == nil {
		return &UnusableError{Op: "sleep_lock_sharable"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleepLockSharedLocked()
}

func (m *Mutex) tryLockSharedLocked() (bool, error) {
	if m.state == Shared || m.state == Exclusive {
		return true, nil
	}
	if m.os == nil {
		m.state = Shared
		return true, nil
	}
	ok, err := m.os.TryLockShared()
	if err != nil {
		return false, err
	}
	if ok {
		m.state = Shared
	}
	return ok, nil
}

// TryLockShared attempts to obtain a shared lock immediately. Already
// holding Exclusive counts as success (idempotence rule, the idempotence rule).
func (m *Mutex) TryLockShared() (bool, error) {
	if m == nil {
		return false, &UnusableError{Op: "try_lock_sharable"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryLockSharedLocked()
}

func (m *Mutex) timedLockSharedLocked(deadline time.Time) (bool, error) {
	if m.state == Shared || m.state == Exclusive {
		return true, nil
	}
	if m.os == nil {
		m.state = Shared
		return true, nil
	}
	ok, err := m.os.TimedLockShared(deadline)
	if err != nil {
		return false, err
	}
	if ok {
		m.state = Shared
	}
	return ok, nil
}

// TimedLockShared attempts to obtain a shared lock before deadline.
func (m *Mutex) TimedLockShared(deadline time.Time) (bool, error) {
	if m == nil {
		return false, &UnusableError{Op: "timed_lock_sharable"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timedLockSharedLocked(deadline)
}

// --- unlock ---

func (m *Mutex) unlockLocked() error {
	if m.state == Unlocked {
		return nil
	}
	if m.os != nil {
		if err := m.os.Unlock(); err != nil {
			return err
		}
	}
	m.state = Unlocked
	return nil
}

// Unlock unconditionally drops the mutex to Unlocked. Safe to call
// repeatedly. This bypasses the reference registry entirely: any
// Guard still believing it owns a reference no longer corresponds to
// a held lock (the explicit-unlock rule, "explicit mutex unlock overrides
// references").
func (m *Mutex) Unlock() error {
	if m == nil {
		return &UnusableError{Op: "unlock"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockLocked()
}

// UnlockShared is equivalent to Unlock.
func (m *Mutex) UnlockShared() error {
	return m.Unlock()
}

// --- reference registry (the composition rule) ---

// getRef returns a live reference to target's slot, creating one if
// none is currently live. A request for Unlocked returns nil (the
// inert sentinel — no bookkeeping).
//
// Acquiring and revival both happen under m.mu, the same lock release
// holds while decrementing and tearing down a ref at zero, so this can
// never hand out a reference to a stateRef whose count has already
// dropped to zero and is mid release.
func (m *Mutex) getRef(target State) *stateRef {
	if target == Unlocked {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.slotFor(target)
	if *slot != nil {
		return (*slot).acquireLocked()
	}
	ref := newStateRef(m, target)
	*slot = ref
	return ref
}

func (m *Mutex) slotFor(target State) **stateRef {
	if target == Exclusive {
		return &m.exclusiveRef
	}
	return &m.sharedRef
}

// releaseHookLocked runs when a stateRef's last holder drops it. It is
// the entire composition rule for nested/sibling guards within one
// process (the composition rule). Caller must hold m.mu; this keeps
// the holder-count decrement that triggers it and the state teardown
// it performs atomic with respect to getRef, so a concurrent acquire
// can never revive a reference whose count has already reached zero.
func (m *Mutex) releaseHookLocked(expired State) {
	ctx := context.Background()

	if expired != m.state {
		// Superseded by a higher state, or someone fiddled with the
		// mutex directly via Unlock/UnlockShared. No state change, but
		// the expired token still leaves its slot.
		*m.slotFor(expired) = nil
		return
	}

	switch m.state {
	case Exclusive:
		m.exclusiveRef = nil
		if m.sharedRef == nil {
			if err := m.unlockLocked(); err != nil {
				m.poison(ctx, "unlock", err)
			}
			return
		}
		if err := m.demoteToSharedLocked(); err != nil {
			m.poison(ctx, "demote to shared", err)
		}
	case Shared:
		m.sharedRef = nil
		if m.exclusiveRef != nil {
			log.WithFunc("ipmutex.releaseHook").Errorf(ctx, "invariant violation: exclusive ref live while in Shared state; %s", m)
		}
		if err := m.unlockLocked(); err != nil {
			m.poison(ctx, "unlock_sharable", err)
		}
	case Unlocked:
		log.WithFunc("ipmutex.releaseHook").Errorf(ctx, "invariant violation: dropped a %s ref while already Unlocked; %s", expired, m)
	}
}

// poison records a fatal demotion/release failure. The process keeps
// running, but the mutex is marked so callers can notice.
func (m *Mutex) poison(ctx context.Context, op string, err error) {
	m.poisoned = true
	log.WithFunc("ipmutex.releaseHook").Errorf(ctx, "poisoned: %s failed during release hook: %v; %s", op, err, m)
}
