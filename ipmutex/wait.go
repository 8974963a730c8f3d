package ipmutex

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
)

// LockReport observes a bounded wait in progress. It is called once
// per retry interval after the initial attempt fails, and may adjust
// the wait before the next attempt: setting *next changes how long the
// caller sleeps before retrying, and setting *timeout changes the
// active deadline for the whole wait (0 means wait forever). Returning
// false aborts the wait, surfacing an *AbortError from Lock/LockShared.
//
// total is the cumulative wait time so far, including the fixed
// initial attempt.
type LockReport func(path string, target State, total time.Duration, next, timeout *time.Duration) bool

const defaultMaxLockWait = 180 * time.Second

func parseMaxLockWait(v string) time.Duration {
	if v == "" {
		return defaultMaxLockWait
	}
	sec, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return defaultMaxLockWait
	}
	return time.Duration(sec) * time.Second
}

// cachedMaxLockWait is read once per process, matching zypp's own
// cached static lookup of ZYPP_MAX_LOCK_WAIT. The variable is read
// directly from the environment: it predates and bypasses any config
// layer, exactly like the upstream env var it mirrors.
var cachedMaxLockWait = sync.OnceValue(func() time.Duration {
	return parseMaxLockWait(os.Getenv("ZYPP_MAX_LOCK_WAIT"))
})

// maxLockWait resolves the active timeout. It is a package variable,
// not a direct call to cachedMaxLockWait, so tests can substitute a
// fixed value without disturbing the once-cached production path.
var maxLockWait = cachedMaxLockWait

// Lock blocks until an exclusive lock is obtained, report aborts the
// wait, or the active timeout elapses. report may be nil, in which
// case the wait never aborts and the timeout is never adjusted from
// its initial value (maxLockWait()).
func (m *Mutex) Lock(report LockReport) error {
	if m == nil {
		return &UnusableError{Op: "lock"}
	}
	return m.waitAcquire(Exclusive, report)
}

// LockShared blocks until a shared lock is obtained, report aborts the
// wait, or the active timeout elapses.
func (m *Mutex) LockShared(report LockReport) error {
	if m == nil {
		return &UnusableError{Op: "lock_sharable"}
	}
	return m.waitAcquire(Shared, report)
}

func (m *Mutex) waitAcquire(target State, report LockReport) error {
	logger := log.WithFunc("ipmutex.waitAcquire")
	waitID := uuid.NewString()

	attempt := func(deadline time.Time) (bool, error) {
		if target == Exclusive {
			return m.TimedLock(deadline)
		}
		return m.TimedLockShared(deadline)
	}

	ok, err := attempt(DeadlineIn(uint(initialLockWait.Seconds())))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// The first attempt failed. If we are already holding a weaker
	// state, drop it before looping: holding SHARED_LOCK while another
	// process wants to upgrade to EXCLUSIVE_LOCK on the same file is a
	// classic cross-process deadlock, so an upgrade attempt must give
	// up its own shared hold first.
	if target == Exclusive && m.State() != Unlocked {
		logger.Warnf(context.Background(), "%s: dropping %s lock on %s to avoid deadlock waiting for EXCL", waitID, m.State(), m.path)
		if err := m.Unlock(); err != nil {
			return err
		}
	}

	timeout := maxLockWait()
	var total time.Duration
	next := initialLockWait

	for {
		total += next
		ctx := context.Background()
		if timeout > 0 && total >= timeout {
			logger.Warnf(ctx, "%s: timed out waiting for lock on %s after %s", waitID, m.path, total)
			return &TimeoutError{LockError{Path: m.path, Target: target, Total: total, Timeout: timeout}}
		}
		if report != nil {
			if !report(m.path, target, total, &next, &timeout) {
				logger.Infof(ctx, "%s: wait on %s aborted by caller after %s", waitID, m.path, total)
				return &AbortError{LockError{Path: m.path, Target: target, Total: total, Timeout: timeout}}
			}
		}
		logger.Infof(ctx, "%s: still waiting for lock on %s, total %s", waitID, m.path, total)

		ok, err := attempt(DeadlineIn(uint(next.Seconds())))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}
