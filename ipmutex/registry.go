package ipmutex

import (
	"sync"
	"weak"

	"golang.org/x/sync/singleflight"
)

// registry maps mutex file path to a weak handle of its live Mutex.
// Two Open calls for the same path in the same process return the
// same *Mutex, so its reference slots are shared — a weak map keyed
// by path, playing the role zypp's path-to-impl registry of weak
// pointers plays in the C++ lock code.
//
// registryGroup collapses concurrent first-creation races for the
// same path onto a single file-existence check and *Mutex allocation,
// the same singleflight idiom commonly used to dedupe concurrent
// first-open/pull races onto one in-flight request.
var (
	registryMu    sync.Mutex
	registry      = map[string]weak.Pointer[Mutex]{}
	registryGroup singleflight.Group
)

// Open returns the process-wide Mutex bound to path, constructing one
// if none is currently live. Passing FakeLockPath (or calling NewFake)
// bypasses the registry entirely: every fake-lock request gets its own
// independent instance, per the fake-lock rule.
//
// path must name an existing file the caller can read and write;
// otherwise Open returns a *FileUnavailableError.
func Open(path string) (*Mutex, error) {
	if path == FakeLockPath {
		return newFakeMutex(), nil
	}

	registryMu.Lock()
	if wp, ok := registry[path]; ok {
		if m := wp.Value(); m != nil {
			registryMu.Unlock()
			return m, nil
		}
		delete(registry, path)
	}
	registryMu.Unlock()

	v, err, _ := registryGroup.Do(path, func() (any, error) {
		registryMu.Lock()
		if wp, ok := registry[path]; ok {
			if m := wp.Value(); m != nil {
				registryMu.Unlock()
				return m, nil
			}
			delete(registry, path)
		}
		registryMu.Unlock()

		m, err := newMutex(path)
		if err != nil {
			return nil, err
		}

		registryMu.Lock()
		registry[path] = weak.Make(m)
		registryMu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Mutex), nil
}

// NewFake returns an independent fake mutex that performs state
// bookkeeping but issues no OS calls (the fake-lock and idempotence rules).
func NewFake() *Mutex {
	return newFakeMutex()
}
