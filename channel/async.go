//go:build linux || darwin

package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/procchan/procchan/frame"
	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/poll"
)

// AsyncSender is the reactor-driven flavour of Sender. Operations take
// a context and suspend instead of blocking an OS thread; a would-block
// condition registers interest with the reactor and resumes on the next
// writable edge. Cancelling a suspended Send leaves the endpoint
// well-defined: the fully buffered frame stays queued and the next Send
// on this endpoint finishes it before starting its own.
type AsyncSender[T any, P object.Ptr[T]] struct {
	conn *frame.Conn
	src  *poll.Source
	r    poll.Reactor
	fd   int
	sem  chan struct{}
}

// AsyncReceiver is the reactor-driven flavour of Receiver. A suspended
// Recv keeps the partially assembled frame on the endpoint, so a
// cancelled call never discards mid-frame progress.
type AsyncReceiver[T any, P object.Ptr[T]] struct {
	conn *frame.Conn
	src  *poll.Source
	r    poll.Reactor
	fd   int
	sem  chan struct{}
}

// NewAsyncSender converts s to the non-blocking discipline, consuming
// it. The endpoint is switched to non-blocking mode and registered
// with the reactor.
func NewAsyncSender[T any, P object.Ptr[T]](s *Sender[T, P], r poll.Reactor) (*AsyncSender[T, P], error) {
	conn, src, fd, err := register(s.conn, r)
	if err != nil {
		return nil, err
	}
	s.conn = nil
	return &AsyncSender[T, P]{conn: conn, src: src, r: r, fd: fd, sem: make(chan struct{}, 1)}, nil
}

// NewAsyncReceiver converts r to the non-blocking discipline,
// consuming it.
func NewAsyncReceiver[T any, P object.Ptr[T]](rc *Receiver[T, P], r poll.Reactor) (*AsyncReceiver[T, P], error) {
	conn, src, fd, err := register(rc.conn, r)
	if err != nil {
		return nil, err
	}
	rc.conn = nil
	return &AsyncReceiver[T, P]{conn: conn, src: src, r: r, fd: fd, sem: make(chan struct{}, 1)}, nil
}

func register(conn *frame.Conn, r poll.Reactor) (*frame.Conn, *poll.Source, int, error) {
	if conn == nil {
		return nil, nil, 0, errNotInit
	}
	fd, err := conn.Fd()
	if err != nil {
		return nil, nil, 0, err
	}
	if err := conn.SetNonblock(true); err != nil {
		return nil, nil, 0, fmt.Errorf("channel: set nonblock: %w", err)
	}
	src, err := r.Register(fd)
	if err != nil {
		return nil, nil, 0, err
	}
	return conn, src, fd, nil
}

// Send commits v as one frame, suspending on back-pressure until the
// transport is writable again or ctx is done. Identical protocol
// semantics to Sender.Send.
func (s *AsyncSender[T, P]) Send(ctx context.Context, v T) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	e, err := object.Flatten[T, P](&v)
	if err != nil {
		return err
	}
	if err := s.conn.StartSend(e.Payload(), e.Handles()); err != nil {
		return err
	}
	return s.pump(ctx)
}

func (s *AsyncSender[T, P]) pump(ctx context.Context) error {
	for {
		done, err := s.conn.PumpSend()
		if done {
			return nil
		}
		if errors.Is(err, frame.ErrWouldBlock) {
			// suspension point; the frame survives cancellation
			if err := s.src.AwaitWritable(ctx); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

// Sync converts back to the blocking discipline, consuming the async
// endpoint.
func (s *AsyncSender[T, P]) Sync() (*Sender[T, P], error) {
	if err := deregister(s.conn, s.r, s.fd); err != nil {
		return nil, err
	}
	conn := s.conn
	s.conn = nil
	return senderOver[T, P](conn), nil
}

// Close unregisters and drops the endpoint.
func (s *AsyncSender[T, P]) Close() error {
	if s.conn == nil {
		return nil
	}
	s.r.Unregister(s.fd)
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Recv reconstructs one T, suspending until a complete frame has
// arrived or ctx is done. Identical protocol semantics to
// Receiver.Recv.
func (r *AsyncReceiver[T, P]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-r.sem }()

	for {
		f, err := r.conn.PumpRecv()
		if err == nil {
			return decodeFrame[T, P](f)
		}
		if errors.Is(err, frame.ErrWouldBlock) {
			// suspension point; partial assembly is endpoint state
			if err := r.src.AwaitReadable(ctx); err != nil {
				return zero, err
			}
			continue
		}
		return zero, recvErr(err)
	}
}

// Sync converts back to the blocking discipline, consuming the async
// endpoint.
func (r *AsyncReceiver[T, P]) Sync() (*Receiver[T, P], error) {
	if err := deregister(r.conn, r.r, r.fd); err != nil {
		return nil, err
	}
	conn := r.conn
	r.conn = nil
	return receiverOver[T, P](conn), nil
}

// Close unregisters and drops the endpoint.
func (r *AsyncReceiver[T, P]) Close() error {
	if r.conn == nil {
		return nil
	}
	r.r.Unregister(r.fd)
	err := r.conn.Close()
	r.conn = nil
	return err
}

func deregister(conn *frame.Conn, r poll.Reactor, fd int) error {
	if conn == nil {
		return errNotInit
	}
	if err := r.Unregister(fd); err != nil {
		return err
	}
	return conn.SetNonblock(false)
}
