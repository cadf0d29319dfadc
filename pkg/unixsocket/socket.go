//go:build linux || darwin

// Package unixsocket provides a connected unix stream socket pair with
// SCM_RIGHTS descriptor passing. It works on raw descriptors rather
// than net.UnixConn so the callers stay in control of blocking mode
// instead of the runtime poller.
package unixsocket

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// oob size default to page size
const oobSize = 4096

// use pool to avoid allocate
var oobPool = sync.Pool{
	New: func() any {
		b := make([]byte, oobSize)
		return &b
	},
}

// Socket is one end of a connected unix socket pair.
type Socket struct {
	fd int
}

// New adopts an existing unix socket descriptor. The descriptor is
// marked close-on-exec to avoid leaking into spawned processes.
func New(fd int) (*Socket, error) {
	if fd < 0 {
		return nil, fmt.Errorf("unixsocket: invalid fd %d", fd)
	}
	unix.CloseOnExec(fd)
	return &Socket{fd: fd}, nil
}

// NewPair creates a connected socket pair using SOCK_STREAM. Both ends
// are close-on-exec; pass a descriptor explicitly to inherit it.
func NewPair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("unixsocket: socketpair: %w", err)
	}
	return &Socket{fd: fds[0]}, &Socket{fd: fds[1]}, nil
}

// Fd returns the underlying descriptor.
func (s *Socket) Fd() int {
	return s.fd
}

// SetNonblock switches the descriptor between blocking and
// non-blocking mode.
func (s *Socket) SetNonblock(nonblock bool) error {
	return unix.SetNonblock(s.fd, nonblock)
}

// SendMsg writes b with the given descriptors attached as SCM_RIGHTS
// ancillary data. Returns the number of payload bytes written. The
// kernel duplicates the descriptors at send time; the caller keeps
// ownership of its copies.
func (s *Socket) SendMsg(b []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	for {
		n, err := unix.SendmsgN(s.fd, b, oob, nil, 0)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// Write writes plain payload bytes with no ancillary data.
func (s *Socket) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, b)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// RecvMsg reads into b and parses any SCM_RIGHTS ancillary data.
// Returned descriptors are marked close-on-exec. n == 0 with a nil
// error means the peer closed the connection.
func (s *Socket) RecvMsg(b []byte) (n int, fds []int, err error) {
	oobp := oobPool.Get().(*[]byte)
	defer oobPool.Put(oobp)
	oob := *oobp

	var oobn int
	for {
		n, oobn, _, _, err = unix.Recvmsg(s.fd, b, oob, recvFlags)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return 0, nil, err
	}
	if oobn == 0 {
		return n, nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, nil, fmt.Errorf("unixsocket: parse control message: %w", err)
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			return n, nil, fmt.Errorf("unixsocket: parse rights: %w", err)
		}
		for _, fd := range got {
			unix.CloseOnExec(fd)
		}
		fds = append(fds, got...)
	}
	return n, fds, nil
}

// Close closes the descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
