package poll

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// epollReactor is the linux back-end, one edge-triggered epoll
// instance drained by a single goroutine.
type epollReactor struct {
	epfd    int
	mu      sync.Mutex
	sources map[int32]*Source
	closed  bool
}

// New creates the platform reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poll: epoll_create1: %w", err)
	}
	r := &epollReactor{
		epfd:    epfd,
		sources: make(map[int32]*Source),
	}
	go r.loop()
	return r, nil
}

func (r *epollReactor) Register(fd int) (*Source, error) {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("poll: reactor closed")
	}
	if _, ok := r.sources[int32(fd)]; ok {
		return nil, fmt.Errorf("poll: fd %d already registered", fd)
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("poll: epoll_ctl add fd %d: %w", fd, err)
	}
	s := newSource()
	r.sources[int32(fd)] = s
	return s, nil
}

func (r *epollReactor) Unregister(fd int) error {
	r.mu.Lock()
	s, ok := r.sources[int32(fd)]
	if ok {
		delete(r.sources, int32(fd))
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("poll: fd %d not registered", fd)
	}
	s.wakeAll()
	return nil
}

func (r *epollReactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sources := r.sources
	r.sources = make(map[int32]*Source)
	err := unix.Close(r.epfd)
	r.mu.Unlock()
	for _, s := range sources {
		s.wakeAll()
	}
	return err
}

func (r *epollReactor) loop() {
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
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
			s := r.sources[ev.Fd]
			r.mu.Unlock()
			if s == nil {
				continue
			}
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
				s.wakeAll()
				continue
			}
			if ev.Events&unix.EPOLLIN != 0 {
				s.onReadable()
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				s.onWritable()
			}
		}
	}
}
