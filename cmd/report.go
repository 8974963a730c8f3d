package cmd

import (
	"context"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/cocoonstack/lockctl/ipmutex"
)

// progressReport logs one line per retry interval while a wait is in
// progress, and never aborts.
func progressReport(logPrefix string) ipmutex.LockReport {
	return func(path string, target ipmutex.State, total time.Duration, next, timeout *time.Duration) bool {
		log.WithFunc(logPrefix).Infof(context.Background(), "waiting for %s on %s: %s elapsed", target, path, total)
		return true
	}
}

// withInitialTimeout wraps report so the active timeout is pinned to
// seconds on the first invocation, letting the --wait-timeout-seconds
// flag override ZYPP_MAX_LOCK_WAIT for this one command. The override
// applies from the first report call on: the wait loop checks the
// ZYPP_MAX_LOCK_WAIT timeout once before that call, after the initial
// 3s attempt.
func withInitialTimeout(seconds int, report ipmutex.LockReport) ipmutex.LockReport {
	applied := false
	return func(path string, target ipmutex.State, total time.Duration, next, timeout *time.Duration) bool {
		if !applied {
			*timeout = time.Duration(seconds) * time.Second
			applied = true
		}
		if report != nil {
			return report(path, target, total, next, timeout)
		}
		return true
	}
}
