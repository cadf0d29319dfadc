// Package seccomp provides a syscall policy for spawned worker
// processes. The policy travels in the bootstrap frame and is loaded
// by the child before its entry point runs. Loading is supported on
// linux only.
package seccomp

import (
	"github.com/procchan/procchan/object"
)

// Policy restricts the syscalls available to a worker. Syscalls in
// Allowed always proceed; syscalls in Errno fail with the return code
// carried by ErrnoAction; everything else gets DefaultAction.
type Policy struct {
	DefaultAction Action
	ErrnoAction   Action
	Allowed       []string
	Errno         []string
}

var _ object.Object = (*Policy)(nil)

func (p *Policy) Flatten(e *object.Encoder) {
	e.Uint32(uint32(p.DefaultAction))
	e.Uint32(uint32(p.ErrnoAction))
	e.Length(len(p.Allowed))
	for _, s := range p.Allowed {
		e.String(s)
	}
	e.Length(len(p.Errno))
	for _, s := range p.Errno {
		e.String(s)
	}
}

func (p *Policy) Unflatten(d *object.Decoder) error {
	p.DefaultAction = Action(d.Uint32())
	p.ErrnoAction = Action(d.Uint32())
	n := d.Count()
	p.Allowed = p.Allowed[:0]
	for i := 0; i < n && d.Err() == nil; i++ {
		p.Allowed = append(p.Allowed, d.String())
	}
	n = d.Count()
	p.Errno = p.Errno[:0]
	for i := 0; i < n && d.Err() == nil; i++ {
		p.Errno = append(p.Errno, d.String())
	}
	return d.Err()
}
