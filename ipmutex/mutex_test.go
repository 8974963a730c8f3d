package ipmutex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempMutexFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.lock")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestMutex bypasses the process-wide registry so each call returns
// an independent Mutex with its own OS file descriptor. flock(2) locks
// belong to the open file description, not the process, so two such
// Mutexes on the same path contend exactly as two separate processes
// would — this stands in for "process A" / "process B" in the tests
// below without needing to fork a second OS process.
func newTestMutex(t *testing.T, path string) *Mutex {
	t.Helper()
	m, err := newMutex(path)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNilMutexIsUnusable(t *testing.T) {
	var m *Mutex
	if m.State() != Unlocked {
		t.Fatal("nil mutex should report Unlocked")
	}
	if m.IsFake() {
		t.Fatal("nil mutex should not be fake")
	}
	if err := m.Lock(nil); err == nil {
		t.Fatal("expected UnusableError locking a nil mutex")
	}
	if _, ok := any(m.Unlock()).(*UnusableError); !ok {
		t.Fatal("expected UnusableError unlocking a nil mutex")
	}
}

// S1. Basic acquire/release.
func TestBasicAcquireRelease(t *testing.T) {
	path := tempMutexFile(t)
	owner := newTestMutex(t, path)
	probe := newTestMutex(t, path)

	g, err := NewExclusiveLock(owner)
	if err != nil {
		t.Fatal(err)
	}
	if owner.State() != Exclusive {
		t.Fatalf("owner state = %s, want EXCL", owner.State())
	}

	if ok, err := probe.TryLock(); err != nil || ok {
		t.Fatalf("probe try_lock on held mutex: ok=%v err=%v, want false", ok, err)
	}
	if ok, err := probe.TryLockShared(); err != nil || ok {
		t.Fatalf("probe try_lock_sharable on held mutex: ok=%v err=%v, want false", ok, err)
	}

	g.Unlock()
	if owner.State() != Unlocked {
		t.Fatalf("owner state after unlock = %s, want -nl-", owner.State())
	}

	if ok, err := probe.TryLock(); err != nil || !ok {
		t.Fatalf("probe try_lock after release: ok=%v err=%v, want true", ok, err)
	}
	_ = probe.Unlock()
}

// S2. Nested composition: shared -> exclusive -> (nested shared, no
// change) -> still exclusive when the innermost exits -> demote to
// shared when the middle exits -> unlock on outer exit.
func TestNestedComposition(t *testing.T) {
	path := tempMutexFile(t)
	m := newTestMutex(t, path)

	outer := NewSharableLockDeferred(m)
	if err := outer.Lock(nil); err != nil {
		t.Fatal(err)
	}
	if m.State() != Shared {
		t.Fatalf("after outer lock: state = %s, want shar", m.State())
	}

	middle := NewExclusiveLockDeferred(m)
	if err := middle.Lock(nil); err != nil {
		t.Fatal(err)
	}
	if m.State() != Exclusive {
		t.Fatalf("after middle lock: state = %s, want EXCL", m.State())
	}

	inner := NewSharableLockDeferred(m)
	if err := inner.Lock(nil); err != nil {
		t.Fatal(err)
	}
	if m.State() != Exclusive {
		t.Fatalf("after inner shared lock: state = %s, want EXCL (unchanged)", m.State())
	}

	inner.Unlock()
	if m.State() != Exclusive {
		t.Fatalf("after inner unlock: state = %s, want EXCL (middle still holds it)", m.State())
	}

	middle.Unlock()
	if m.State() != Shared {
		t.Fatalf("after middle unlock: state = %s, want shar (outer still holds it)", m.State())
	}

	outer.Unlock()
	if m.State() != Unlocked {
		t.Fatalf("after outer unlock: state = %s, want -nl-", m.State())
	}
	if m.Poisoned() {
		t.Fatal("mutex unexpectedly poisoned")
	}
}

// Explicit Mutex.Unlock overrides any outstanding Guard references:
// a Guard's own Unlock afterward must not re-trigger a release hook
// against whatever new state someone else has since established.
func TestExplicitUnlockOverridesGuard(t *testing.T) {
	path := tempMutexFile(t)
	m := newTestMutex(t, path)

	g, err := NewExclusiveLock(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
	if m.State() != Unlocked {
		t.Fatal("expected Unlocked after direct unlock")
	}

	// A second guard takes ownership of a fresh shared lock.
	g2, err := NewSharableLock(m)
	if err != nil {
		t.Fatal(err)
	}

	// The stale guard's release must not disturb g2's hold.
	g.Unlock()
	if m.State() != Shared {
		t.Fatalf("state = %s, want shar; stale guard release corrupted live state", m.State())
	}
	g2.Unlock()
	if m.State() != Unlocked {
		t.Fatal("expected Unlocked after g2 release")
	}
}

// S6. Fake lock: transitions happen instantly and never touch the
// filesystem.
func TestFakeLock(t *testing.T) {
	m := NewFake()
	if !m.IsFake() {
		t.Fatal("expected fake mutex")
	}
	if m.Path() != FakeLockPath {
		t.Fatalf("path = %q, want %q", m.Path(), FakeLockPath)
	}

	g, err := NewExclusiveLock(m)
	if err != nil {
		t.Fatal(err)
	}
	if m.State() != Exclusive {
		t.Fatal("fake mutex did not reach Exclusive")
	}
	g.Unlock()
	if m.State() != Unlocked {
		t.Fatal("fake mutex did not return to Unlocked")
	}

	// Two independent fake mutexes never contend with each other.
	other := NewFake()
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Fatal("independent fake mutex should never be blocked")
	}
}

func TestTimedLockDeadlineExceeded(t *testing.T) {
	path := tempMutexFile(t)
	owner := newTestMutex(t, path)
	probe := newTestMutex(t, path)

	og, err := NewExclusiveLock(owner)
	if err != nil {
		t.Fatal(err)
	}
	defer og.Unlock()

	start := time.Now()
	ok, err := probe.TimedLock(time.Now().Add(200 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected timed_lock to fail while owner holds the mutex")
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("timed_lock returned too early: %s", elapsed)
	}
}
