//go:build !linux

package seccomp

import "errors"

// Load is only supported on linux.
func (p *Policy) Load() error {
	return errors.New("seccomp: not supported on this platform")
}
