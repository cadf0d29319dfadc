//go:build linux || darwin

// Package poll translates OS readiness notifications into suspension
// points for non-blocking channel operations.
//
// A Reactor watches registered descriptors from one background
// goroutine and wakes waiters on readiness edges. Each back-end
// (epoll on linux, kqueue on darwin) implements the same small
// contract; everything above it is back-end independent.
package poll

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Reactor delivers readiness for registered descriptors.
type Reactor interface {
	// Register starts watching fd and returns its readiness source.
	// The descriptor should already be in non-blocking mode.
	Register(fd int) (*Source, error)

	// Unregister stops watching fd. Pending waiters are woken so
	// they can observe the state change.
	Unregister(fd int) error

	// Close shuts down the reactor and its background goroutine.
	Close() error
}

// Source is the readiness subscription for one descriptor. Readiness
// edges are latched, so an edge that fires before anyone waits is not
// lost; concurrent waiters are served in FIFO order, one per edge.
type Source struct {
	mu         sync.Mutex
	readers    *queue.Queue
	writers    *queue.Queue
	readReady  bool
	writeReady bool
}

type waiter struct {
	ch      chan struct{}
	aborted bool
}

func newSource() *Source {
	return &Source{
		readers: queue.New(),
		writers: queue.New(),
	}
}

// AwaitReadable blocks until the descriptor sees a readable edge or
// ctx is done.
func (s *Source) AwaitReadable(ctx context.Context) error {
	return s.await(ctx, s.readers, &s.readReady)
}

// AwaitWritable blocks until the descriptor sees a writable edge or
// ctx is done.
func (s *Source) AwaitWritable(ctx context.Context) error {
	return s.await(ctx, s.writers, &s.writeReady)
}

func (s *Source) await(ctx context.Context, q *queue.Queue, latch *bool) error {
	s.mu.Lock()
	if *latch {
		*latch = false
		s.mu.Unlock()
		return nil
	}
	w := &waiter{ch: make(chan struct{}, 1)}
	q.Add(w)
	s.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-w.ch:
			// the edge raced with cancellation; pass it on
			s.mu.Unlock()
			s.wake(q, latch)
		default:
			w.aborted = true
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// one readiness edge wakes at most one live waiter, or latches
func (s *Source) wake(q *queue.Queue, latch *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q.Length() > 0 {
		w := q.Remove().(*waiter)
		if w.aborted {
			continue
		}
		w.ch <- struct{}{}
		return
	}
	*latch = true
}

// wakeAll releases every waiter, used on hangup and unregister.
func (s *Source) wakeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range []*queue.Queue{s.readers, s.writers} {
		for q.Length() > 0 {
			w := q.Remove().(*waiter)
			if !w.aborted {
				w.ch <- struct{}{}
			}
		}
	}
	s.readReady = true
	s.writeReady = true
}

func (s *Source) onReadable() {
	s.wake(s.readers, &s.readReady)
}

func (s *Source) onWritable() {
	s.wake(s.writers, &s.writeReady)
}
