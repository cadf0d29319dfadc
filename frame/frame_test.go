//go:build linux || darwin

package frame

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procchan/procchan/pkg/handle"
)

func pair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b, err := Pair()
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendRecv(t *testing.T) {
	a, b := pair(t)

	payload := []byte("one frame")
	done := make(chan error, 1)
	go func() {
		done <- a.Send(payload, nil)
	}()

	f, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, payload, f.Payload)
	assert.Empty(t, f.Handles)
	require.NoError(t, <-done)
}

func TestEmptyPayload(t *testing.T) {
	a, b := pair(t)

	done := make(chan error, 1)
	go func() {
		done <- a.Send(nil, nil)
	}()

	f, err := b.Recv()
	require.NoError(t, err)
	assert.Empty(t, f.Payload)
	require.NoError(t, <-done)
}

func TestLargeFrameChunking(t *testing.T) {
	a, b := pair(t)

	// several write chunks and a buffer larger than the socket's
	payload := make([]byte, 5*chunkSize+17)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- a.Send(payload, nil)
	}()

	f, err := b.Recv()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, f.Payload))
	require.NoError(t, <-done)
}

func TestFrameBoundariesPreserved(t *testing.T) {
	a, b := pair(t)

	frames := [][]byte{
		[]byte("first"),
		{},
		[]byte("third, a bit longer than the others"),
	}
	done := make(chan error, 1)
	go func() {
		for _, p := range frames {
			if err := a.Send(p, nil); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i, want := range frames {
		f, err := b.Recv()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, len(want), len(f.Payload), "frame %d", i)
		assert.Equal(t, string(want), string(f.Payload), "frame %d", i)
	}
	require.NoError(t, <-done)
}

func TestHandleRidesFrame(t *testing.T) {
	a, b := pair(t)

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()

	h, err := handle.FromFile(pw)
	require.NoError(t, err)
	pw.Close()

	done := make(chan error, 1)
	go func() {
		done <- a.Send([]byte("with fd"), []*handle.Handle{h})
	}()

	f, err := b.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, f.Handles, 1)

	// sending is a move: the origin handle is dead
	assert.False(t, h.Valid())

	w, err := f.Handles[0].File("w")
	require.NoError(t, err)
	_, err = w.WriteString("ping")
	require.NoError(t, err)
	w.Close()

	got, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestCleanEOF(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, a.Close())

	_, err := b.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecvNoWait(t *testing.T) {
	a, b := pair(t)

	_, err := b.RecvNoWait()
	assert.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, a.Send([]byte("now"), nil))
	f, err := b.RecvNoWait()
	require.NoError(t, err)
	assert.Equal(t, "now", string(f.Payload))
}

func TestEndpointTravelsThroughFrame(t *testing.T) {
	a, b := pair(t)
	inner, innerPeer := pair(t)

	h, err := inner.Handle()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- a.Send(nil, []*handle.Handle{h})
	}()
	f, err := b.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, f.Handles, 1)

	carried, err := FromHandle(f.Handles[0])
	require.NoError(t, err)
	defer carried.Close()

	go func() {
		done <- carried.Send([]byte("nested"), nil)
	}()
	nf, err := innerPeer.Recv()
	require.NoError(t, err)
	assert.Equal(t, "nested", string(nf.Payload))
	require.NoError(t, <-done)
}

func TestHandleMoveBlockedMidFrame(t *testing.T) {
	a, _ := pair(t)

	require.NoError(t, a.SetNonblock(true))
	require.NoError(t, a.StartSend(make([]byte, 1<<20), nil))
	for {
		ok, err := a.PumpSend()
		if ok {
			// socket buffers swallowed it all; nothing left to assert
			t.Skip("kernel buffered the whole frame")
		}
		if err != nil {
			require.ErrorIs(t, err, ErrWouldBlock)
			break
		}
	}

	_, err := a.Handle()
	assert.Error(t, err)
}

func BenchmarkSendRecv(b *testing.B) {
	x, y, err := Pair()
	if err != nil {
		b.Fatal(err)
	}
	defer x.Close()
	defer y.Close()

	payload := make([]byte, 1024)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	go func() {
		for i := 0; i < b.N; i++ {
			if err := x.Send(payload, nil); err != nil {
				return
			}
		}
	}()
	for i := 0; i < b.N; i++ {
		if _, err := y.Recv(); err != nil {
			b.Fatal(err)
		}
	}
}
