//go:build windows

package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/windows"

	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/pkg/handle"
)

// Conn is one end of a frame transport over a pair of anonymous pipes
// (one per direction, the original-process layout for platforms
// without ancillary handle delivery).
//
// Handle transfer works in the pull direction: the sender embeds its
// pid and the raw handle values in the frame header; the receiver
// imports each one with DuplicateHandle(DUPLICATE_CLOSE_SOURCE), which
// atomically moves it out of the sender's handle table. If the sender
// exits before the import, the transfer fails with ErrTransfer.
type Conn struct {
	r, w windows.Handle
	rop  *recvOp
}

type recvOp struct {
	head    [4]byte
	headN   int
	body    []byte
	off     int
	handles []*handle.Handle
}

// Pair creates two connected frame endpoints.
func Pair() (*Conn, *Conn, error) {
	var r1, w1, r2, w2 windows.Handle
	if err := windows.CreatePipe(&r1, &w1, nil, 0); err != nil {
		return nil, nil, fmt.Errorf("frame: create pipe: %w", err)
	}
	if err := windows.CreatePipe(&r2, &w2, nil, 0); err != nil {
		windows.CloseHandle(r1)
		windows.CloseHandle(w1)
		return nil, nil, fmt.Errorf("frame: create pipe: %w", err)
	}
	return &Conn{r: r2, w: w1}, &Conn{r: r1, w: w2}, nil
}

// FromRawHandles adopts an inherited read/write pipe handle pair, e.g.
// the bootstrap endpoint whose values arrived on the command line.
func FromRawHandles(r, w uintptr) *Conn {
	return &Conn{r: windows.Handle(r), w: windows.Handle(w)}
}

// RawHandles exposes the two pipe handles for inheritance setup.
// Ownership stays with the Conn.
func (c *Conn) RawHandles() (r, w uintptr, err error) {
	if c.r == 0 && c.w == 0 {
		return 0, 0, ErrConsumed
	}
	return uintptr(c.r), uintptr(c.w), nil
}

// FlattenTo moves the endpoint into an encoder as two handle slots
// (read side first).
func (c *Conn) FlattenTo(e *object.Encoder) {
	if c.r == 0 && c.w == 0 {
		e.Fail(ErrConsumed)
		return
	}
	if c.rop != nil {
		e.Fail(fmt.Errorf("frame: cannot move endpoint mid-frame"))
		return
	}
	e.Handle(handle.New(uintptr(c.r)))
	e.Handle(handle.New(uintptr(c.w)))
	c.r, c.w = 0, 0
}

// UnflattenConn reconstructs an endpoint from two handle slots.
func UnflattenConn(d *object.Decoder) (*Conn, error) {
	rh := d.Handle()
	wh := d.Handle()
	if err := d.Err(); err != nil {
		return nil, err
	}
	r, err := rh.Release()
	if err != nil {
		return nil, err
	}
	w, err := wh.Release()
	if err != nil {
		return nil, err
	}
	return FromRawHandles(r, w), nil
}

// Close closes both pipe ends.
func (c *Conn) Close() error {
	if c.rop != nil {
		closeAll(c.rop.handles)
		c.rop = nil
	}
	var first error
	if c.r != 0 {
		if err := windows.CloseHandle(c.r); err != nil {
			first = err
		}
		c.r = 0
	}
	if c.w != 0 {
		if err := windows.CloseHandle(c.w); err != nil && first == nil {
			first = err
		}
		c.w = 0
	}
	return first
}

// StartSend queues one frame. Pipes here are blocking, so the queue is
// drained synchronously by PumpSend.
func (c *Conn) StartSend(payload []byte, handles []*handle.Handle) error {
	if c.w == 0 {
		return ErrConsumed
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: frame payload %d exceeds limit", object.ErrMalformed, len(payload))
	}
	// [u32 body length][u32 sender pid][u32 handle count]
	// [count x u64 handle values][payload]
	body := 8 + 8*len(handles) + len(payload)
	wire := make([]byte, 4+body)
	binary.LittleEndian.PutUint32(wire, uint32(body))
	binary.LittleEndian.PutUint32(wire[4:], uint32(windows.GetCurrentProcessId()))
	binary.LittleEndian.PutUint32(wire[8:], uint32(len(handles)))
	for i, h := range handles {
		raw, err := h.Raw()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(wire[12+8*i:], uint64(raw))
	}
	copy(wire[12+8*len(handles):], payload)

	if err := c.writeFull(wire); err != nil {
		return err
	}
	// the receiver imports with DUPLICATE_CLOSE_SOURCE; dropping our
	// reference without closing completes the move
	for _, h := range handles {
		h.Release()
	}
	return nil
}

// PumpSend exists for interface parity with the unix transport; the
// windows pipes are blocking so StartSend already committed the frame.
func (c *Conn) PumpSend() (bool, error) {
	if c.w == 0 {
		return false, ErrConsumed
	}
	return true, nil
}

func (c *Conn) writeFull(b []byte) error {
	for len(b) > 0 {
		var n uint32
		err := windows.WriteFile(c.w, b, &n, nil)
		if err != nil {
			if err == windows.ERROR_BROKEN_PIPE || err == windows.ERROR_NO_DATA {
				return fmt.Errorf("%w: %v", ErrDisconnected, err)
			}
			return fmt.Errorf("frame: write: %w", err)
		}
		b = b[n:]
	}
	return nil
}

// PumpRecv reads one complete frame, importing any transferred handles
// from the sending process.
func (c *Conn) PumpRecv() (*Frame, error) {
	if c.r == 0 {
		return nil, ErrConsumed
	}
	if c.rop == nil {
		c.rop = &recvOp{}
	}
	op := c.rop

	for op.headN < 4 {
		n, err := c.read(op.head[op.headN:4])
		if err != nil {
			if err == io.EOF {
				if op.headN == 0 {
					c.rop = nil
					return nil, io.EOF
				}
				err = ErrDisconnected
			}
			return nil, c.abortRecv(err)
		}
		op.headN += n
	}
	if op.body == nil {
		need := binary.LittleEndian.Uint32(op.head[:])
		if need < 8 || need > maxPayload {
			return nil, c.abortRecv(fmt.Errorf("%w: frame length %d", object.ErrMalformed, need))
		}
		op.body = make([]byte, need)
	}
	for op.off < len(op.body) {
		n, err := c.read(op.body[op.off:])
		if err != nil {
			if err == io.EOF {
				err = ErrDisconnected
			}
			return nil, c.abortRecv(err)
		}
		op.off += n
	}

	pid := binary.LittleEndian.Uint32(op.body)
	count := binary.LittleEndian.Uint32(op.body[4:])
	if int64(8+8*int64(count)) > int64(len(op.body)) {
		return nil, c.abortRecv(fmt.Errorf("%w: handle count %d exceeds frame", object.ErrMalformed, count))
	}
	handles := make([]*handle.Handle, 0, count)
	for i := 0; i < int(count); i++ {
		raw := binary.LittleEndian.Uint64(op.body[8+8*i:])
		h, err := importHandle(pid, uintptr(raw))
		if err != nil {
			closeAll(handles)
			return nil, c.abortRecv(err)
		}
		handles = append(handles, h)
	}

	f := &Frame{Payload: op.body[8+8*count:], Handles: handles}
	c.rop = nil
	return f, nil
}

func (c *Conn) abortRecv(err error) error {
	closeAll(c.rop.handles)
	c.rop = nil
	return err
}

func (c *Conn) read(b []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(c.r, b, &n, nil)
	if err != nil {
		if err == windows.ERROR_BROKEN_PIPE {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("frame: read: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return int(n), nil
}

// RecvNoWait attempts to receive a frame without blocking, using a
// pipe peek. Best effort: once a frame has started arriving the read
// of its remainder may block briefly.
func (c *Conn) RecvNoWait() (*Frame, error) {
	if c.r == 0 {
		return nil, ErrConsumed
	}
	var avail uint32
	if err := windows.PeekNamedPipe(c.r, nil, 0, nil, &avail, nil); err != nil {
		if err == windows.ERROR_BROKEN_PIPE {
			return c.PumpRecv()
		}
		return nil, fmt.Errorf("frame: peek: %w", err)
	}
	if avail == 0 && c.rop == nil {
		return nil, ErrWouldBlock
	}
	return c.PumpRecv()
}

// importHandle pulls one handle value out of the sending process,
// closing the source copy as part of the duplication.
func importHandle(pid uint32, raw uintptr) (*handle.Handle, error) {
	proc, err := windows.OpenProcess(windows.PROCESS_DUP_HANDLE, false, pid)
	if err != nil {
		return nil, fmt.Errorf("%w: open process %d: %v", handle.ErrTransfer, pid, err)
	}
	defer windows.CloseHandle(proc)
	var out windows.Handle
	err = windows.DuplicateHandle(proc, windows.Handle(raw), windows.CurrentProcess(), &out,
		0, false, windows.DUPLICATE_SAME_ACCESS|windows.DUPLICATE_CLOSE_SOURCE)
	if err != nil {
		return nil, fmt.Errorf("%w: import handle %#x from %d: %v", handle.ErrTransfer, raw, pid, err)
	}
	return handle.New(uintptr(out)), nil
}
