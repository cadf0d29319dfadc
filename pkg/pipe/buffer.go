// Package pipe collects at most max bytes written to the write end of an
// os pipe, used to capture diagnostic output of spawned workers.
package pipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Buffer holds the write end of a pipe and the bytes collected from
// the read end. At most Max+1 bytes are collected so overflow is
// detectable.
type Buffer struct {
	W      *os.File
	Max    int64
	Buffer *bytes.Buffer
	Done   <-chan struct{}
}

// NewPipe creates a pipe with a goroutine copying the read end into
// writer, up to n bytes. Returns the write end and a done signal.
// Caller needs to close w.
func NewPipe(writer io.Writer, n int64) (<-chan struct{}, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		io.CopyN(writer, r, n)
		close(done)
		// ensure no blocking / SIGPIPE on the other end
		io.Copy(io.Discard, r)
		r.Close()
	}()
	return done, w, nil
}

// NewBuffer creates a capped collector over an os pipe. Caller needs
// to close W; Done fires only after W is closed in every process that
// inherited it.
func NewBuffer(max int64) (*Buffer, error) {
	buffer := new(bytes.Buffer)
	done, w, err := NewPipe(buffer, max+1)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		W:      w,
		Max:    max,
		Buffer: buffer,
		Done:   done,
	}, nil
}

// Overflown reports whether more than Max bytes were written.
func (b Buffer) Overflown() bool {
	return int64(b.Buffer.Len()) > b.Max
}

func (b Buffer) String() string {
	return fmt.Sprintf("Buffer[%d/%d]", b.Buffer.Len(), b.Max)
}
