package cmd

import (
	"github.com/cocoonstack/lockctl/commonlock"
	"github.com/cocoonstack/lockctl/ipmutex"
)

// openConfiguredMutex resolves the mutex named by the current config:
// an explicit mutex-path wins, otherwise the sysroot/mutex-name pair
// is resolved through commonlock the same way the common lock is.
func openConfiguredMutex() (*ipmutex.Mutex, error) {
	if conf.MutexPath != "" {
		return commonlock.UsePath(conf.MutexPath)
	}
	return commonlock.OpenRooted(conf.Sysroot, conf.MutexName)
}
