package object

import (
	"encoding/binary"
	"math"

	"github.com/procchan/procchan/pkg/handle"
)

// Encoder accumulates the flat byte payload and the ordered handle
// list for one value. Errors are sticky: the first failure is recorded
// and later writes are no-ops, so Flatten implementations stay free of
// error plumbing.
type Encoder struct {
	buf     []byte
	handles []*handle.Handle
	err     error
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Payload returns the accumulated bytes.
func (e *Encoder) Payload() []byte {
	return e.buf
}

// Handles returns the accumulated handle list in traversal order.
func (e *Encoder) Handles() []*handle.Handle {
	return e.handles
}

// Err returns the first recorded failure, if any.
func (e *Encoder) Err() error {
	return e.err
}

// Fail records err if no earlier failure was recorded.
func (e *Encoder) Fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

func (e *Encoder) Uint8(v uint8) {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, v)
}

func (e *Encoder) Uint16(v uint16) {
	if e.err != nil {
		return
	}
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) Uint32(v uint32) {
	if e.err != nil {
		return
	}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) Uint64(v uint64) {
	if e.err != nil {
		return
	}
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) Int32(v int32) {
	e.Uint32(uint32(v))
}

func (e *Encoder) Int64(v int64) {
	e.Uint64(uint64(v))
}

func (e *Encoder) Float64(v float64) {
	e.Uint64(math.Float64bits(v))
}

// Length writes a sequence length as a uint32 prefix.
func (e *Encoder) Length(n int) {
	if n < 0 || int64(n) > math.MaxUint32 {
		e.Fail(ErrMalformed)
		return
	}
	e.Uint32(uint32(n))
}

func (e *Encoder) Bytes(b []byte) {
	e.Length(len(b))
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, b...)
}

func (e *Encoder) String(s string) {
	e.Length(len(s))
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, s...)
}

// Handle appends one handle slot. No payload bytes are written; the
// handle travels on the transport's side channel in list order.
func (e *Encoder) Handle(h *handle.Handle) {
	if e.err != nil {
		return
	}
	if h == nil || !h.Valid() {
		e.Fail(handle.ErrClosed)
		return
	}
	e.handles = append(e.handles, h)
}
