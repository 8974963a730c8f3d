package ipmutex

import (
	"testing"
	"time"
)

// S3. Try-lock semantics across two independent holders of the same
// file (see newTestMutex for why two in-process Mutexes stand in for
// two OS processes here).
func TestTryLockAcrossHolders(t *testing.T) {
	path := tempMutexFile(t)
	a := newTestMutex(t, path)
	b := newTestMutex(t, path)

	ga, err := NewExclusiveLock(a)
	if err != nil {
		t.Fatal(err)
	}

	if ok, err := b.TryLock(); err != nil || ok {
		t.Fatalf("b.TryLock() = %v, %v; want false, nil", ok, err)
	}
	if ok, err := b.TryLockShared(); err != nil || ok {
		t.Fatalf("b.TryLockShared() = %v, %v; want false, nil", ok, err)
	}

	ga.Unlock()

	if ok, err := b.TryLock(); err != nil || !ok {
		t.Fatalf("b.TryLock() after release = %v, %v; want true, nil", ok, err)
	}
	_ = b.Unlock()
}

// S4. Wait with callback: holder releases partway through B's wait;
// the report callback must be invoked at least once with a nonzero
// total, and B's wait must then succeed.
func TestLockWaitWithReport(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises real multi-second wait timing")
	}
	path := tempMutexFile(t)
	a := newTestMutex(t, path)
	b := newTestMutex(t, path)

	ga, err := NewExclusiveLock(a)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		// Longer than the fixed 3s initial wait, so the wait loop's
		// report callback fires at least once before b succeeds.
		time.Sleep(3500 * time.Millisecond)
		ga.Unlock()
	}()

	var invocations int
	var lastTotal time.Duration
	report := func(path string, target State, total time.Duration, next, timeout *time.Duration) bool {
		invocations++
		lastTotal = total
		return true
	}

	gb := newGuard(b, Exclusive)
	if err := gb.Lock(report); err != nil {
		t.Fatalf("b.Lock(report) failed: %v", err)
	}
	defer gb.Unlock()

	if invocations < 1 {
		t.Fatal("expected at least one report invocation while waiting")
	}
	if lastTotal <= 0 {
		t.Fatal("expected nonzero cumulative wait reported")
	}
	if b.State() != Exclusive {
		t.Fatal("b should hold the lock after a successful wait")
	}
}

// Testable property: abort honours state. An observer that aborts an
// exclusive wait which already had to force-drop the waiter's own
// Shared hold (to avoid deadlocking against another Shared holder)
// must leave the mutex Unlocked — the forced demotion is not
// reversible just because the wait itself didn't succeed.
func TestAbortAfterForcedDemotion(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises real multi-second wait timing")
	}
	path := tempMutexFile(t)
	a := newTestMutex(t, path)
	b := newTestMutex(t, path)

	// a holds Shared via its own fd. b also takes Shared — compatible
	// with a, so this succeeds — then tries to upgrade to Exclusive,
	// which a's independent hold blocks, forcing b to drop its own
	// Shared lock before it can retry.
	ga, err := NewSharableLock(a)
	if err != nil {
		t.Fatal(err)
	}
	defer ga.Unlock()

	gb := NewSharableLockDeferred(b)
	if err := gb.Lock(nil); err != nil {
		t.Fatal(err)
	}

	abort := func(path string, target State, total time.Duration, next, timeout *time.Duration) bool {
		return false
	}

	ge := newGuard(b, Exclusive)
	err = ge.Lock(abort)
	if err == nil {
		t.Fatal("expected an AbortError")
	}
	if _, ok := err.(*AbortError); !ok {
		t.Fatalf("expected *AbortError, got %T: %v", err, err)
	}
	if b.State() != Unlocked {
		t.Fatalf("b state after abort = %s, want -nl- (forced demotion must not survive an aborted wait)", b.State())
	}
}

// S5. Timeout: a short ZYPP_MAX_LOCK_WAIT causes the waiting side to
// raise a TimeoutError, and its own state stays Unlocked.
func TestLockWaitTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises real multi-second wait timing")
	}
	old := maxLockWait
	maxLockWait = func() time.Duration { return 5 * time.Second }
	t.Cleanup(func() { maxLockWait = old })

	path := tempMutexFile(t)
	a := newTestMutex(t, path)
	b := newTestMutex(t, path)

	ga, err := NewExclusiveLock(a)
	if err != nil {
		t.Fatal(err)
	}
	defer ga.Unlock()

	start := time.Now()
	err = b.Lock(nil)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if err == nil {
		t.Fatal("expected a TimeoutError")
	}
	if e, ok := err.(*TimeoutError); ok {
		timeoutErr = e
	} else {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.Total < 5*time.Second {
		t.Fatalf("total = %s, want >= 5s", timeoutErr.Total)
	}
	if elapsed > 7*time.Second {
		t.Fatalf("wait took %s, want <= 7s", elapsed)
	}
	if !timeoutErr.TimedOut() {
		t.Fatal("expected TimedOut() true")
	}
	if b.State() != Unlocked {
		t.Fatalf("b state after timeout = %s, want -nl-", b.State())
	}
}

