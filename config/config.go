package config

import (
	coretypes "github.com/projecteru2/core/types"
)

// Config holds global lockctl configuration.
type Config struct {
	// Sysroot is the assumed system root the common mutex and any
	// named mutex resolve under.
	// Env: LOCKCTL_SYSROOT. Default: /.
	Sysroot string `json:"sysroot" mapstructure:"sysroot"`
	// MutexName selects a special-purpose mutex sharing the common
	// mutex's directory. Empty uses the common mutex itself.
	// Env: LOCKCTL_MUTEX_NAME.
	MutexName string `json:"mutex_name" mapstructure:"mutex_name"`
	// MutexPath, if set, bypasses Sysroot/MutexName resolution
	// entirely and opens this file directly. It must already exist.
	// Env: LOCKCTL_MUTEX_PATH.
	MutexPath string `json:"mutex_path" mapstructure:"mutex_path"`
	// WaitTimeoutSeconds bounds how long an acquire waits before
	// raising a timeout error. 0 defers entirely to ZYPP_MAX_LOCK_WAIT
	// (itself defaulting to 180s).
	// Default: 0.
	WaitTimeoutSeconds int `json:"wait_timeout_seconds" mapstructure:"wait_timeout_seconds"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config populated with lockctl's defaults.
// Callers still need to run it through viper.Unmarshal to apply any
// config file or environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Sysroot: "/",
		Log: coretypes.ServerLogConfig{
			Level: "info",
		},
	}
}
