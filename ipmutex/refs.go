package ipmutex

// stateRef is a reference-counted token for one target state slot of a
// Mutex, its shared or exclusive weak reference count. Every Guard
// that holds a reference to the same slot shares
// the same stateRef; release fires the mutex's release hook exactly
// once, when the last holder drops it.
//
// This is the Go analogue of the C++ shared_ptr<void> with a custom
// deleter: since a Guard's lifetime here is explicit (the caller calls
// Unlock or lets a defer run it), plain refcounting is simpler and
// more predictable than a GC-driven finalizer would be.
//
// count is protected by mu.mu, not a separate atomic: acquiring,
// decrementing, and the release-hook dispatch that follows a
// decrement to zero must all happen as one step with respect to each
// other, or a concurrent getRef could hand out a reference to a token
// that is already being torn down.
type stateRef struct {
	mu     *Mutex
	target State
	count  int32
}

func newStateRef(mu *Mutex, target State) *stateRef {
	return &stateRef{mu: mu, target: target, count: 1}
}

// acquireLocked adds one holder and returns the same token. Caller
// must hold mu.mu.
func (r *stateRef) acquireLocked() *stateRef {
	r.count++
	return r
}

// release drops one holder. If this was the last holder, it runs the
// mutex's release hook for this token's target state, all under one
// hold of mu.mu.
func (r *stateRef) release() {
	m := r.mu
	m.mu.Lock()
	defer m.mu.Unlock()
	r.count--
	if r.count == 0 {
		m.releaseHookLocked(r.target)
	}
}
