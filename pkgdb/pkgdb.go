// Package pkgdb is a minimal external collaborator over the common
// mutex: it stands in for package metadata parsing, repository
// downloaders, and the other subsystems that merely need to serialize
// their filesystem access against one well-known lock file. It does
// not implement any real package database; it demonstrates how a
// caller is expected to use commonlock and ipmutex together.
package pkgdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/cocoonstack/lockctl/ipmutex"
)

// DB is a toy on-disk database: a directory of files plus a mutex
// guarding concurrent readers and writers across processes.
type DB struct {
	sysroot string
	mutex   *ipmutex.Mutex
}

// Open creates sysroot's database directory if needed and binds it to
// mutex, which the caller has already opened; callers normally obtain
// it via commonlock.OpenRooted rather than constructing one by hand.
func Open(sysroot string, mutex *ipmutex.Mutex) (*DB, error) {
	dir := filepath.Join(sysroot, "var/lib/pkgdb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pkgdb: create database directory: %w", err)
	}
	return &DB{sysroot: sysroot, mutex: mutex}, nil
}

// Read takes a shared lock for the duration of fn, allowing concurrent
// readers but excluding any writer.
func (db *DB) Read(ctx context.Context, fn func() error) error {
	g, err := ipmutex.NewSharableLock(db.mutex)
	if err != nil {
		return fmt.Errorf("pkgdb: acquire read lock: %w", err)
	}
	defer g.Unlock()
	return fn()
}

// Write takes an exclusive lock for the duration of fn, excluding
// every other reader and writer.
func (db *DB) Write(ctx context.Context, fn func() error) error {
	logger := log.WithFunc("pkgdb.Write")
	start := time.Now()
	g, err := ipmutex.NewExclusiveLock(db.mutex)
	if err != nil {
		return fmt.Errorf("pkgdb: acquire write lock: %w", err)
	}
	defer g.Unlock()
	if waited := time.Since(start); waited > time.Second {
		logger.Warnf(ctx, "waited %s for the database write lock", waited)
	}
	return fn()
}

// TryWrite attempts to take the exclusive lock without blocking. It
// reports false immediately if another process currently holds any
// lock. A guard already held in this process on the same mutex does not
// block it: the new guard composes with the held one.
func (db *DB) TryWrite(fn func() error) (bool, error) {
	g := ipmutex.TryExclusiveLock(db.mutex)
	if !g.Owns() {
		return false, nil
	}
	defer g.Unlock()
	return true, fn()
}

// WriteWithDeadline attempts to take the exclusive lock, reporting
// progress through report and giving up once d has elapsed.
func (db *DB) WriteWithDeadline(ctx context.Context, d time.Duration, report ipmutex.LockReport, fn func() error) error {
	capDeadline := func(path string, target ipmutex.State, total time.Duration, next, timeout *time.Duration) bool {
		*timeout = d
		if report != nil {
			return report(path, target, total, next, timeout)
		}
		return true
	}
	g := ipmutex.NewExclusiveLockDeferred(db.mutex)
	if err := g.Lock(capDeadline); err != nil {
		return fmt.Errorf("pkgdb: acquire write lock: %w", err)
	}
	defer g.Unlock()
	return fn()
}
