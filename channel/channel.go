// Package channel provides typed duplex endpoint pairs for exchanging
// flattenable values, including embedded OS handles and other channel
// endpoints, between processes.
//
// A Sender and Receiver are the two ends of one transport pair created
// together by New. Both exist in a blocking flavour here and a
// reactor-driven flavour in AsyncSender / AsyncReceiver; the two share
// the frame package's state machines, so their protocol semantics are
// identical.
//
// Sending is a move: handles embedded in a sent value (and endpoints
// sent through a channel) are consumed locally once the frame is
// committed. Flatten a duplicate when the local process needs to keep
// the resource.
package channel

import (
	"errors"
	"fmt"
	"io"

	"github.com/procchan/procchan/frame"
	"github.com/procchan/procchan/object"
)

// ErrDisconnected reports that the peer endpoint was dropped or its
// process exited.
var ErrDisconnected = frame.ErrDisconnected

// errNotInit guards zero-value endpoints that were never created by
// New or reconstructed from a frame.
var errNotInit = errors.New("channel: endpoint not initialized")

// Sender is the transmitting end of a channel of T.
type Sender[T any, P object.Ptr[T]] struct {
	conn *frame.Conn
	sem  chan struct{}
}

// Receiver is the receiving end of a channel of T.
type Receiver[T any, P object.Ptr[T]] struct {
	conn *frame.Conn
	sem  chan struct{}
}

// New creates a matched channel pair. The two endpoints are always
// created together; either may subsequently travel to another process
// inside a frame.
func New[T any, P object.Ptr[T]]() (*Sender[T, P], *Receiver[T, P], error) {
	a, b, err := frame.Pair()
	if err != nil {
		return nil, nil, err
	}
	return senderOver[T, P](a), receiverOver[T, P](b), nil
}

func senderOver[T any, P object.Ptr[T]](c *frame.Conn) *Sender[T, P] {
	return &Sender[T, P]{conn: c, sem: make(chan struct{}, 1)}
}

func receiverOver[T any, P object.Ptr[T]](c *frame.Conn) *Receiver[T, P] {
	return &Receiver[T, P]{conn: c, sem: make(chan struct{}, 1)}
}

// Send flattens v and commits it as one frame. Concurrent Send calls
// on the same Sender serialize; a frame is never interleaved with
// another. On success any handles embedded in v are consumed.
func (s *Sender[T, P]) Send(v T) error {
	if s.sem == nil {
		return errNotInit
	}
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	e, err := object.Flatten[T, P](&v)
	if err != nil {
		return err
	}
	return s.conn.Send(e.Payload(), e.Handles())
}

// Close drops the endpoint. The peer's next Recv observes
// ErrDisconnected once all in-flight frames are drained.
func (s *Sender[T, P]) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Flatten moves the endpoint into an encoder so the channel itself can
// be sent through another channel. The local Sender is consumed.
func (s *Sender[T, P]) Flatten(e *object.Encoder) {
	if s.conn == nil {
		e.Fail(errNotInit)
		return
	}
	s.conn.FlattenTo(e)
}

// Unflatten reconstructs a Sender from an incoming frame.
func (s *Sender[T, P]) Unflatten(d *object.Decoder) error {
	c, err := frame.UnflattenConn(d)
	if err != nil {
		return err
	}
	*s = Sender[T, P]{conn: c, sem: make(chan struct{}, 1)}
	return nil
}

// Recv blocks for one frame and reconstructs a T. It fails with
// ErrDisconnected when the peer endpoint was dropped and with
// object.ErrMalformed when the payload does not match T's shape (a
// sender/receiver type mismatch; unrecoverable for this channel).
func (r *Receiver[T, P]) Recv() (T, error) {
	var zero T
	if r.sem == nil {
		return zero, errNotInit
	}
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	f, err := r.conn.Recv()
	if err != nil {
		return zero, recvErr(err)
	}
	return decodeFrame[T, P](f)
}

// TryRecv is the non-blocking poll variant. ok is false when no
// complete frame is available (or another Recv holds the endpoint).
func (r *Receiver[T, P]) TryRecv() (v T, ok bool, err error) {
	var zero T
	if r.sem == nil {
		return zero, false, errNotInit
	}
	select {
	case r.sem <- struct{}{}:
	default:
		return zero, false, nil
	}
	defer func() { <-r.sem }()

	f, err := r.conn.RecvNoWait()
	if errors.Is(err, frame.ErrWouldBlock) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, recvErr(err)
	}
	v, err = decodeFrame[T, P](f)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Close drops the endpoint.
func (r *Receiver[T, P]) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Flatten moves the endpoint into an encoder. The local Receiver is
// consumed.
func (r *Receiver[T, P]) Flatten(e *object.Encoder) {
	if r.conn == nil {
		e.Fail(errNotInit)
		return
	}
	r.conn.FlattenTo(e)
}

// Unflatten reconstructs a Receiver from an incoming frame.
func (r *Receiver[T, P]) Unflatten(d *object.Decoder) error {
	c, err := frame.UnflattenConn(d)
	if err != nil {
		return err
	}
	*r = Receiver[T, P]{conn: c, sem: make(chan struct{}, 1)}
	return nil
}

func decodeFrame[T any, P object.Ptr[T]](f *frame.Frame) (T, error) {
	v, err := object.Unflatten[T, P](f.Payload, f.Handles)
	if err != nil {
		// handles not adopted into v must not leak
		f.Close()
		var zero T
		return zero, err
	}
	return v, nil
}

func recvErr(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: peer endpoint dropped", ErrDisconnected)
	}
	return err
}
