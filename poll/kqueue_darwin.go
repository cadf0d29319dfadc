package poll

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// kqueueReactor is the darwin back-end. EV_CLEAR gives the same
// edge-latching behaviour the linux back-end gets from EPOLLET.
type kqueueReactor struct {
	kq      int
	mu      sync.Mutex
	sources map[uint64]*Source
	closed  bool
}

// New creates the platform reactor.
func New() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("poll: kqueue: %w", err)
	}
	unix.CloseOnExec(kq)
	r := &kqueueReactor{
		kq:      kq,
		sources: make(map[uint64]*Source),
	}
	go r.loop()
	return r, nil
}

func (r *kqueueReactor) Register(fd int) (*Source, error) {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("poll: reactor closed")
	}
	if _, ok := r.sources[uint64(fd)]; ok {
		return nil, fmt.Errorf("poll: fd %d already registered", fd)
	}
	if _, err := unix.Kevent(r.kq, changes, nil, nil); err != nil {
		return nil, fmt.Errorf("poll: kevent add fd %d: %w", fd, err)
	}
	s := newSource()
	r.sources[uint64(fd)] = s
	return s, nil
}

func (r *kqueueReactor) Unregister(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	r.mu.Lock()
	s, ok := r.sources[uint64(fd)]
	if ok {
		delete(r.sources, uint64(fd))
		unix.Kevent(r.kq, changes, nil, nil)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("poll: fd %d not registered", fd)
	}
	s.wakeAll()
	return nil
}

func (r *kqueueReactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sources := r.sources
	r.sources = make(map[uint64]*Source)
	err := unix.Close(r.kq)
	r.mu.Unlock()
	for _, s := range sources {
		s.wakeAll()
	}
	return err
}

func (r *kqueueReactor) loop() {
	events := make([]unix.Kevent_t, 64)
	for {
		n, err := unix.Kevent(r.kq, nil, events, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			// closed reactor
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			r.mu.Lock()
			s := r.sources[ev.Ident]
			r.mu.Unlock()
			if s == nil {
				continue
			}
			if ev.Flags&unix.EV_EOF != 0 {
				s.wakeAll()
				continue
			}
			switch ev.Filter {
			case unix.EVFILT_READ:
				s.onReadable()
			case unix.EVFILT_WRITE:
				s.onWritable()
			}
		}
	}
}
