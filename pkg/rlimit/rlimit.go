// Package rlimit provides resource limits for spawned worker processes.
// The limits travel in the bootstrap frame and are applied by the child
// before its entry point runs.
package rlimit

import (
	"github.com/procchan/procchan/object"
)

// RLimits defines the limits applied to a worker by the setrlimit
// syscall. Zero fields are left untouched.
type RLimits struct {
	CPU          uint64 // in s
	CPUHard      uint64 // in s
	Data         uint64 // in bytes
	FileSize     uint64 // in bytes
	Stack        uint64 // in bytes
	AddressSpace uint64 // in bytes
	OpenFile     uint64 // count
	DisableCore  bool   // set core to 0
}

var _ object.Object = (*RLimits)(nil)

func (r *RLimits) Flatten(e *object.Encoder) {
	e.Uint64(r.CPU)
	e.Uint64(r.CPUHard)
	e.Uint64(r.Data)
	e.Uint64(r.FileSize)
	e.Uint64(r.Stack)
	e.Uint64(r.AddressSpace)
	e.Uint64(r.OpenFile)
	e.Bool(r.DisableCore)
}

func (r *RLimits) Unflatten(d *object.Decoder) error {
	r.CPU = d.Uint64()
	r.CPUHard = d.Uint64()
	r.Data = d.Uint64()
	r.FileSize = d.Uint64()
	r.Stack = d.Uint64()
	r.AddressSpace = d.Uint64()
	r.OpenFile = d.Uint64()
	r.DisableCore = d.Bool()
	return d.Err()
}
