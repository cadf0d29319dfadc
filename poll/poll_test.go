//go:build linux || darwin

package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newReactor(t *testing.T) Reactor {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestAwaitReadable(t *testing.T) {
	r := newReactor(t)
	a, b := socketpair(t)

	src, err := r.Register(b)
	require.NoError(t, err)
	defer r.Unregister(b)

	done := make(chan error, 1)
	go func() {
		done <- src.AwaitReadable(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = unix.Write(a, []byte{1})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("readable edge never delivered")
	}
}

func TestAwaitWritableImmediate(t *testing.T) {
	r := newReactor(t)
	a, _ := socketpair(t)

	src, err := r.Register(a)
	require.NoError(t, err)
	defer r.Unregister(a)

	// a fresh socket is writable; the latched edge satisfies the wait
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, src.AwaitWritable(ctx))
}

func TestAwaitCancel(t *testing.T) {
	r := newReactor(t)
	_, b := socketpair(t)

	src, err := r.Register(b)
	require.NoError(t, err)
	defer r.Unregister(b)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, src.AwaitReadable(ctx), context.DeadlineExceeded)
}

func TestHangupWakesWaiters(t *testing.T) {
	r := newReactor(t)
	a, b := socketpair(t)

	src, err := r.Register(b)
	require.NoError(t, err)
	defer r.Unregister(b)

	done := make(chan error, 1)
	go func() {
		done <- src.AwaitReadable(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, unix.Close(a))

	select {
	case err := <-done:
		// hangup counts as a readable edge: the read returns EOF
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hangup never delivered")
	}
}

func TestFIFOWaiters(t *testing.T) {
	r := newReactor(t)
	a, b := socketpair(t)

	src, err := r.Register(b)
	require.NoError(t, err)
	defer r.Unregister(b)

	order := make(chan int, 2)
	ready := make(chan struct{})
	go func() {
		close(ready)
		src.AwaitReadable(context.Background())
		order <- 1
	}()
	<-ready
	time.Sleep(20 * time.Millisecond)
	go func() {
		src.AwaitReadable(context.Background())
		order <- 2
	}()
	time.Sleep(20 * time.Millisecond)

	// each byte wakes one waiter, first in first out
	_, err = unix.Write(a, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, 1, <-order)

	_, err = unix.Write(a, []byte{2})
	require.NoError(t, err)
	assert.Equal(t, 2, <-order)
}
