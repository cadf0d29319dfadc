//go:build linux || darwin

package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/pkg/handle"
	"github.com/procchan/procchan/pkg/unixsocket"
)

// Conn is one end of a frame transport over a unix stream socket pair.
// The zero value is not usable; create with Pair or FromHandle.
//
// A Conn is not safe for concurrent use of the same direction; callers
// serialize sends against sends and receives against receives (the
// channel package does this with a per-endpoint semaphore).
type Conn struct {
	sock  *unixsocket.Socket
	sendq []*sendOp
	rop   *recvOp
}

type sendOp struct {
	wire     []byte // length prefix followed by payload
	off      int
	handles  []*handle.Handle
	attached bool
}

type recvOp struct {
	head    [4]byte
	headN   int
	payload []byte
	off     int
	handles []*handle.Handle
}

// Pair creates two connected frame endpoints.
func Pair() (*Conn, *Conn, error) {
	a, b, err := unixsocket.NewPair()
	if err != nil {
		return nil, nil, err
	}
	return &Conn{sock: a}, &Conn{sock: b}, nil
}

// FromHandle adopts a transport descriptor, consuming h. Used when an
// endpoint arrives embedded in an incoming frame or is inherited at
// process creation.
func FromHandle(h *handle.Handle) (*Conn, error) {
	raw, err := h.Release()
	if err != nil {
		return nil, err
	}
	sock, err := unixsocket.New(int(raw))
	if err != nil {
		return nil, err
	}
	return &Conn{sock: sock}, nil
}

// Handle moves the transport descriptor out of the Conn so the
// endpoint itself can travel through a channel. The Conn becomes
// unusable. Fails if a frame is partially sent or received.
func (c *Conn) Handle() (*handle.Handle, error) {
	if c.sock == nil {
		return nil, ErrConsumed
	}
	if len(c.sendq) > 0 || c.rop != nil {
		return nil, fmt.Errorf("frame: cannot move endpoint mid-frame")
	}
	h := handle.New(uintptr(c.sock.Fd()))
	c.sock = nil
	return h, nil
}

// FlattenTo moves the endpoint into an encoder as one handle slot, so
// a channel endpoint can itself travel through a channel.
func (c *Conn) FlattenTo(e *object.Encoder) {
	h, err := c.Handle()
	if err != nil {
		e.Fail(err)
		return
	}
	e.Handle(h)
}

// UnflattenConn reconstructs an endpoint from one handle slot.
func UnflattenConn(d *object.Decoder) (*Conn, error) {
	h := d.Handle()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return FromHandle(h)
}

// RecvNoWait attempts to receive a complete frame without blocking.
// Returns ErrWouldBlock when no complete frame is available yet.
func (c *Conn) RecvNoWait() (*Frame, error) {
	if c.sock == nil {
		return nil, ErrConsumed
	}
	if err := c.sock.SetNonblock(true); err != nil {
		return nil, fmt.Errorf("frame: set nonblock: %w", err)
	}
	f, err := c.PumpRecv()
	if nberr := c.sock.SetNonblock(false); nberr != nil && err == nil {
		return nil, fmt.Errorf("frame: restore blocking: %w", nberr)
	}
	return f, err
}

// Fd returns the transport descriptor for reactor registration.
func (c *Conn) Fd() (int, error) {
	if c.sock == nil {
		return 0, ErrConsumed
	}
	return c.sock.Fd(), nil
}

// SetNonblock switches the transport between the blocking and
// non-blocking disciplines.
func (c *Conn) SetNonblock(nonblock bool) error {
	if c.sock == nil {
		return ErrConsumed
	}
	return c.sock.SetNonblock(nonblock)
}

// Close closes the transport and releases any handles still queued on
// unfinished outgoing frames.
func (c *Conn) Close() error {
	for _, op := range c.sendq {
		for _, h := range op.handles {
			h.Close()
		}
	}
	c.sendq = nil
	if c.rop != nil {
		closeAll(c.rop.handles)
		c.rop = nil
	}
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}

// StartSend queues one fully buffered frame. The first transport write
// that could be partially delivered happens only in PumpSend, so a
// caller cancelled before pumping has committed nothing.
func (c *Conn) StartSend(payload []byte, handles []*handle.Handle) error {
	if c.sock == nil {
		return ErrConsumed
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: frame payload %d exceeds limit", object.ErrMalformed, len(payload))
	}
	wire := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(wire, uint32(len(payload)))
	copy(wire[4:], payload)
	c.sendq = append(c.sendq, &sendOp{wire: wire, handles: handles})
	return nil
}

// PumpSend drives queued outgoing frames. It returns true once the
// queue is empty, ErrWouldBlock when a non-blocking descriptor cannot
// accept more, and resumes the exact same frame after a suspension so
// the peer never observes an abandoned partial frame.
func (c *Conn) PumpSend() (bool, error) {
	if c.sock == nil {
		return false, ErrConsumed
	}
	for len(c.sendq) > 0 {
		op := c.sendq[0]
		if !op.attached {
			fds := make([]int, len(op.handles))
			for i, h := range op.handles {
				raw, err := h.Raw()
				if err != nil {
					return false, err
				}
				fds[i] = int(raw)
			}
			end := min(len(op.wire), 4+chunkSize)
			n, err := c.sock.SendMsg(op.wire[:end], fds)
			if err != nil {
				return false, sendErr(err)
			}
			// the kernel duplicated the descriptors together
			// with the first byte of this frame
			op.attached = true
			op.off = n
		} else {
			end := min(len(op.wire), op.off+chunkSize)
			n, err := c.sock.Write(op.wire[op.off:end])
			if err != nil {
				return false, sendErr(err)
			}
			op.off += n
		}
		if op.off == len(op.wire) {
			// transfer complete: the move closes local copies
			closeAll(op.handles)
			c.sendq = c.sendq[1:]
		}
	}
	return true, nil
}

// PumpRecv drives the incoming frame assembly until a complete frame
// is available. It returns ErrWouldBlock on a non-blocking descriptor,
// io.EOF on a clean close at a frame boundary, and ErrDisconnected
// when the peer vanished mid-frame. Partial progress is retained
// across calls, so a suspended receive resumes the same frame.
func (c *Conn) PumpRecv() (*Frame, error) {
	if c.sock == nil {
		return nil, ErrConsumed
	}
	if c.rop == nil {
		c.rop = &recvOp{}
	}
	op := c.rop

	for op.headN < 4 {
		n, fds, err := c.sock.RecvMsg(op.head[op.headN:4])
		if err != nil {
			return nil, recvErr(err)
		}
		op.handles = appendRights(op.handles, fds)
		if n == 0 {
			if op.headN == 0 && len(op.handles) == 0 {
				c.rop = nil
				return nil, io.EOF
			}
			return nil, c.abortRecv(ErrDisconnected)
		}
		op.headN += n
	}

	if op.payload == nil {
		need := binary.LittleEndian.Uint32(op.head[:])
		if need > maxPayload {
			return nil, c.abortRecv(fmt.Errorf("%w: frame length %d exceeds limit", object.ErrMalformed, need))
		}
		op.payload = make([]byte, need)
	}

	for op.off < len(op.payload) {
		n, fds, err := c.sock.RecvMsg(op.payload[op.off:])
		if err != nil {
			return nil, recvErr(err)
		}
		op.handles = appendRights(op.handles, fds)
		if n == 0 {
			return nil, c.abortRecv(ErrDisconnected)
		}
		op.off += n
	}

	f := &Frame{Payload: op.payload, Handles: op.handles}
	c.rop = nil
	return f, nil
}

func (c *Conn) abortRecv(err error) error {
	closeAll(c.rop.handles)
	c.rop = nil
	return err
}

func appendRights(hs []*handle.Handle, fds []int) []*handle.Handle {
	for _, fd := range fds {
		hs = append(hs, handle.New(uintptr(fd)))
	}
	return hs
}

func sendErr(err error) error {
	switch err {
	case unix.EAGAIN:
		return ErrWouldBlock
	case unix.EPIPE, unix.ECONNRESET:
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return fmt.Errorf("frame: send: %w", err)
}

func recvErr(err error) error {
	switch err {
	case unix.EAGAIN:
		return ErrWouldBlock
	case unix.ECONNRESET:
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return fmt.Errorf("frame: recv: %w", err)
}
