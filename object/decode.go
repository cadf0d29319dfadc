package object

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/procchan/procchan/pkg/handle"
)

// Decoder walks one byte cursor and one handle cursor over a received
// frame. Errors are sticky and always wrap ErrMalformed; after a
// failure all reads return zero values.
type Decoder struct {
	buf     []byte
	off     int
	handles []*handle.Handle
	hoff    int
	err     error
}

// NewDecoder creates a decoder over payload and its handle list.
func NewDecoder(payload []byte, handles []*handle.Handle) *Decoder {
	return &Decoder{buf: payload, handles: handles}
}

// Err returns the first recorded failure, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Finish reports an error if decoding failed or if payload bytes or
// handles remain unconsumed. Trailing data means the sender flattened
// a different shape than the receiver expects.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing payload bytes", ErrMalformed, len(d.buf)-d.off)
	}
	if d.hoff != len(d.handles) {
		return fmt.Errorf("%w: %d trailing handles", ErrMalformed, len(d.handles)-d.hoff)
	}
	return nil
}

func (d *Decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

func (d *Decoder) need(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.fail("need %d bytes, %d remain", n, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) Bool() bool {
	switch d.Uint8() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("bool tag out of range")
		return false
	}
}

func (d *Decoder) Uint8() uint8 {
	b := d.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) Uint16() uint16 {
	b := d.need(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *Decoder) Uint32() uint32 {
	b := d.need(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) Uint64() uint64 {
	b := d.need(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Decoder) Int32() int32 {
	return int32(d.Uint32())
}

func (d *Decoder) Int64() int64 {
	return int64(d.Uint64())
}

func (d *Decoder) Float64() float64 {
	return math.Float64frombits(d.Uint64())
}

// Count reads a uint32 element count for a sequence whose element
// sizes are not known up front. Callers must grow storage
// incrementally rather than preallocating count elements.
func (d *Decoder) Count() int {
	n := d.Uint32()
	if d.err != nil {
		return 0
	}
	return int(n)
}

// Length reads a uint32 byte length and bounds it against the
// remaining payload so a corrupted prefix cannot trigger a huge
// allocation.
func (d *Decoder) Length() int {
	n := d.Uint32()
	if d.err != nil {
		return 0
	}
	if int64(n) > int64(len(d.buf)-d.off) {
		d.fail("length %d exceeds %d remaining bytes", n, len(d.buf)-d.off)
		return 0
	}
	return int(n)
}

func (d *Decoder) Bytes() []byte {
	n := d.Length()
	b := d.need(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *Decoder) String() string {
	n := d.Length()
	b := d.need(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Handle consumes exactly one handle from the side list.
func (d *Decoder) Handle() *handle.Handle {
	if d.err != nil {
		return nil
	}
	if d.hoff >= len(d.handles) {
		d.fail("handle cursor exhausted")
		return nil
	}
	h := d.handles[d.hoff]
	d.hoff++
	return h
}
