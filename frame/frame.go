// Package frame moves length prefixed byte payloads together with
// their OS handle lists atomically across a local transport.
//
// One frame is one payload plus an ordered sequence of handles. The
// handles ride the same underlying write as the payload they belong to
// (SCM_RIGHTS on unix, explicit cross process duplication on windows),
// so the receiver always associates them with exactly that frame.
//
// Send and receive are resumable state machines: a pump step either
// completes, fails, or reports ErrWouldBlock on a non-blocking
// descriptor without losing progress. The blocking Send / Recv calls
// and the channel package's suspending variants drive the same steps,
// so the two execution disciplines cannot diverge in protocol terms.
package frame

import (
	"errors"

	"github.com/procchan/procchan/pkg/handle"
)

// ErrDisconnected reports that the peer endpoint closed or its process
// exited while a frame was outstanding. A clean close at a frame
// boundary is reported as io.EOF instead.
var ErrDisconnected = errors.New("frame: peer disconnected")

// ErrWouldBlock is returned by pump steps when the descriptor is in
// non-blocking mode and the operation cannot make progress. It is part
// of the normal suspension cycle, not a failure.
var ErrWouldBlock = errors.New("frame: operation would block")

// ErrConsumed is returned when using a Conn whose descriptor was moved
// out, e.g. after the endpoint itself was sent through a channel.
var ErrConsumed = errors.New("frame: endpoint consumed")

// frames larger than one chunk are written in pieces; the handle list
// always travels with the first piece
const chunkSize = 16 << 10

// defensive cap on a single decoded frame
const maxPayload = 1 << 30

// Frame is one atomically transferred unit.
type Frame struct {
	Payload []byte
	Handles []*handle.Handle
}

// Close releases all handles still carried by the frame.
func (f *Frame) Close() {
	closeAll(f.Handles)
	f.Handles = nil
}

func closeAll(hs []*handle.Handle) {
	for _, h := range hs {
		h.Close()
	}
}

// Send writes one frame, blocking until it is fully committed. On
// success the given handles are consumed (the transfer is a move); on
// failure the caller keeps ownership.
func (c *Conn) Send(payload []byte, handles []*handle.Handle) error {
	if err := c.StartSend(payload, handles); err != nil {
		return err
	}
	for {
		done, err := c.PumpSend()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Recv reads one complete frame, blocking until every payload byte and
// handle has arrived. A clean close at a frame boundary returns
// io.EOF; a close mid-frame returns ErrDisconnected.
func (c *Conn) Recv() (*Frame, error) {
	return c.PumpRecv()
}
