//go:build linux || darwin

package handle

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeHandle(t *testing.T) (*Handle, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	h, err := FromFile(w)
	require.NoError(t, err)
	w.Close()
	return h, r
}

func TestLifecycle(t *testing.T) {
	h, _ := pipeHandle(t)
	assert.True(t, h.Valid())

	raw, err := h.Raw()
	require.NoError(t, err)
	assert.NotZero(t, raw)

	require.NoError(t, h.Close())
	assert.False(t, h.Valid())

	// exactly-once close; repeats are a no-op
	assert.NoError(t, h.Close())
	_, err = h.Raw()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRelease(t *testing.T) {
	h, _ := pipeHandle(t)
	raw, err := h.Release()
	require.NoError(t, err)
	assert.False(t, h.Valid())
	_, err = h.Release()
	assert.ErrorIs(t, err, ErrClosed)

	// the descriptor itself is still live after the move
	f := os.NewFile(raw, "moved")
	_, err = f.WriteString("x")
	require.NoError(t, err)
	f.Close()
}

func TestDup(t *testing.T) {
	h, r := pipeHandle(t)
	d, err := h.Dup()
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.True(t, d.Valid())

	w, err := d.File("dup-w")
	require.NoError(t, err)
	_, err = w.WriteString("still open")
	require.NoError(t, err)
	w.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "still open", string(got))
}

func TestFileAdoption(t *testing.T) {
	h, r := pipeHandle(t)
	w, err := h.File("w")
	require.NoError(t, err)
	// adoption is a move
	assert.False(t, h.Valid())

	_, err = w.WriteString("adopted")
	require.NoError(t, err)
	w.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "adopted", string(got))
}
