// Package commonlock resolves the one well-known mutex file every
// collaborator on a package database agrees to synchronize on, and
// wraps it as an ipmutex.Mutex. It is the Go counterpart of zypp's
// IPMutex: a thin naming and bootstrap layer over the generic mutex.
package commonlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cocoonstack/lockctl/ipmutex"
)

const (
	defaultMutexDir  = "/var/run/pkgdb"
	defaultMutexName = "common.lock"
)

// DefaultPath returns the well-known mutex file path for mutexName
// under sysroot, or the package database's own default name when
// mutexName is empty. An empty sysroot means "/".
func DefaultPath(sysroot, mutexName string) string {
	if mutexName == "" {
		mutexName = defaultMutexName
	}
	if sysroot == "" {
		sysroot = "/"
	}
	return filepath.Join(sysroot, defaultMutexDir, mutexName)
}

// lockfileRoot mirrors ZYPP_LOCKFILE_ROOT: a hack that lets the lock
// file live under a different root than the rest of a --root
// operation, for callers who created the lock before they knew their
// eventual sysroot.
func lockfileRoot() string {
	if v := os.Getenv("ZYPP_LOCKFILE_ROOT"); v != "" {
		return v
	}
	return "/"
}

// Open resolves and opens the default common mutex (sysroot guessed
// from ZYPP_LOCKFILE_ROOT, defaulting to "/").
func Open() (*ipmutex.Mutex, error) {
	return OpenNamed("")
}

// OpenNamed resolves and opens a special-purpose mutex sharing the
// common mutex's directory, or the common mutex itself when name is
// empty.
func OpenNamed(name string) (*ipmutex.Mutex, error) {
	return OpenRooted(lockfileRoot(), name)
}

// OpenRooted resolves and opens the mutex for name (or the common
// mutex, if empty) assuming sysroot as the system root, creating the
// backing file on demand.
func OpenRooted(sysroot, name string) (*ipmutex.Mutex, error) {
	path := DefaultPath(sysroot, name)
	resolved, err := ensureLockFile(path)
	if err != nil {
		return nil, err
	}
	return ipmutex.Open(resolved)
}

// UsePath opens a caller-supplied mutex file directly. Unlike Open and
// OpenRooted, the file is never created — it must already exist.
func UsePath(path string) (*ipmutex.Mutex, error) {
	return ipmutex.Open(path)
}

// UsePathRooted opens a caller-supplied mutex file under sysroot.
// Unlike Open and OpenRooted, the file is never created.
func UsePathRooted(sysroot, path string) (*ipmutex.Mutex, error) {
	return UsePath(filepath.Join(sysroot, path))
}

// ensureLockFile mirrors IPMutexUseLockFile/IPMutexCreateLockFile: if
// the file already exists and is read/write for the caller, use it as
// is. If it doesn't exist, try to create it world-writable-adjacent
// (0644, then widened to 0660) so later non-root callers can fake
// their lock against it. Callers without root and without access fall
// back to ipmutex.FakeLockPath.
func ensureLockFile(path string) (string, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		if userMayReadWrite(path) {
			return path, nil
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			if os.Geteuid() != 0 {
				return ipmutex.FakeLockPath, nil
			}
			return "", fmt.Errorf("commonlock: create lock directory for %s: %w", path, mkErr)
		}
		f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if createErr == nil {
			_ = f.Close()
			if chErr := os.Chmod(path, 0o660); chErr != nil {
				return "", fmt.Errorf("commonlock: widen permissions on %s: %w", path, chErr)
			}
			return path, nil
		}
		if !os.IsExist(createErr) && os.Geteuid() == 0 {
			return "", fmt.Errorf("commonlock: create lock file %s: %w", path, createErr)
		}
	default:
		return "", fmt.Errorf("commonlock: stat lock file %s: %w", path, err)
	}

	if os.Geteuid() == 0 {
		return path, nil
	}
	return ipmutex.FakeLockPath, nil
}

func userMayReadWrite(path string) bool {
	if os.Geteuid() == 0 {
		return true
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
