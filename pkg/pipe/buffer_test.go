package pipe

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferWriteAndRead(t *testing.T) {
	const max = 10
	buf, err := NewBuffer(max)
	require.NoError(t, err)
	defer buf.W.Close()

	input := "hello"
	n, err := buf.W.Write([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, len(input), n)
	buf.W.Close()
	<-buf.Done

	assert.Equal(t, input, buf.Buffer.String())
	assert.False(t, buf.Overflown())
}

func TestNewBufferMaxBytes(t *testing.T) {
	const max = 5
	buf, err := NewBuffer(max)
	require.NoError(t, err)
	defer buf.W.Close()

	// one byte past max is kept so overflow is observable
	input := "toolonginput"
	_, err = io.Copy(buf.W, strings.NewReader(input))
	require.NoError(t, err)
	buf.W.Close()
	<-buf.Done

	assert.Equal(t, input[:max+1], buf.Buffer.String())
	assert.True(t, buf.Overflown())
}

func TestBufferString(t *testing.T) {
	const max = 8
	buf, err := NewBuffer(max)
	require.NoError(t, err)
	defer buf.W.Close()

	_, _ = buf.W.Write([]byte("abc"))
	buf.W.Close()
	<-buf.Done

	assert.Equal(t, "Buffer[3/8]", buf.String())
}

func TestNewBufferDoneCloses(t *testing.T) {
	const max = 4
	buf, err := NewBuffer(max)
	require.NoError(t, err)
	defer buf.W.Close()

	go func() {
		_, _ = buf.W.Write([]byte("test"))
		buf.W.Close()
	}()

	select {
	case <-buf.Done:
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for Done channel")
	}
}
