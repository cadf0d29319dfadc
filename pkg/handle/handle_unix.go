//go:build linux || darwin

package handle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FromFile duplicates the descriptor owned by f into a new Handle.
// f remains usable and still needs its own Close.
func FromFile(f *os.File) (*Handle, error) {
	return dupRaw(uintptr(f.Fd()))
}

// Dup creates an independent Handle referencing the same kernel object.
func (h *Handle) Dup() (*Handle, error) {
	raw, err := h.Raw()
	if err != nil {
		return nil, err
	}
	return dupRaw(raw)
}

// File adopts the handle into an *os.File. The Handle is consumed.
func (h *Handle) File(name string) (*os.File, error) {
	raw, err := h.Release()
	if err != nil {
		return nil, err
	}
	return os.NewFile(raw, name), nil
}

func dupRaw(raw uintptr) (*Handle, error) {
	nfd, err := unix.FcntlInt(raw, unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: dup fd %d: %v", ErrTransfer, raw, err)
	}
	return New(uintptr(nfd)), nil
}

func closeRaw(raw uintptr) error {
	return unix.Close(int(raw))
}
