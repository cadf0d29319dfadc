// Package handle provides ownership tracked wrappers over raw OS
// resource references (file descriptors on unix, HANDLEs on windows).
// Every Handle has exactly one logical owner: closing releases the
// underlying resource exactly once, duplication creates an independent
// Handle for the same kernel object, and Release moves the raw value
// out for transfer to another owner (or another process).
package handle

import (
	"errors"
	"sync/atomic"
)

// ErrClosed is returned when operating on a closed or released handle.
var ErrClosed = errors.New("handle: closed")

// ErrTransfer indicates an OS level duplication or inheritance failure,
// e.g. descriptor table exhaustion. It is surfaced, never retried.
var ErrTransfer = errors.New("handle: transfer failed")

// Handle is an owned reference to a kernel object.
type Handle struct {
	raw  uintptr
	open atomic.Bool
}

// New wraps an already open raw descriptor / handle value.
// The Handle takes ownership.
func New(raw uintptr) *Handle {
	h := &Handle{raw: raw}
	h.open.Store(true)
	return h
}

// Raw returns the underlying value without transferring ownership.
func (h *Handle) Raw() (uintptr, error) {
	if !h.open.Load() {
		return 0, ErrClosed
	}
	return h.raw, nil
}

// Valid reports whether the handle still owns a resource.
func (h *Handle) Valid() bool {
	return h.open.Load()
}

// Release moves the raw value out of the handle. The caller becomes
// responsible for closing it; subsequent Close is a no-op.
func (h *Handle) Release() (uintptr, error) {
	if !h.open.CompareAndSwap(true, false) {
		return 0, ErrClosed
	}
	return h.raw, nil
}

// Close releases the underlying resource. Safe to call more than once;
// only the first call closes.
func (h *Handle) Close() error {
	if !h.open.CompareAndSwap(true, false) {
		return nil
	}
	return closeRaw(h.raw)
}
