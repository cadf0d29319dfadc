// Package object defines the flatten / unflatten contract that lets a
// typed value cross a byte oriented transport together with the OS
// handles embedded in it.
//
// A value flattens into a flat byte payload plus an ordered list of
// handles. Reconstruction walks the same fields in the same declared
// order over a single byte cursor and a single handle cursor, so the
// encode and decode traversals must match exactly. Composite types
// delegate to their fields; generated code for user defined structs
// only needs to call the Encoder / Decoder primitives in field order.
//
// Wire rules: fixed width little endian for fixed size numerics,
// uint32 length prefixes for strings, byte slices and sequences, a one
// byte presence tag for options and a one byte discriminant for
// results. A handle occupies no payload bytes and exactly one slot in
// the handle list.
package object

import (
	"errors"

	"github.com/procchan/procchan/pkg/handle"
)

// ErrMalformed reports a decode-time structural mismatch: an exhausted
// byte or handle cursor, an out of range tag, or trailing data. It is
// unrecoverable for the stream that produced it.
var ErrMalformed = errors.New("object: malformed data")

// Object is the contract every transmissible type implements.
// Flatten appends the value to the encoder; Unflatten reconstructs it
// from the decoder. Both use pointer receivers.
type Object interface {
	Flatten(*Encoder)
	Unflatten(*Decoder) error
}

// Ptr constrains a pointer to T implementing Object, letting channel
// and spawn construct values without reflection.
type Ptr[T any] interface {
	*T
	Object
}

// Flatten encodes v into a fresh encoder. On failure any handles the
// traversal already collected are closed; they were moved into the
// encoder and have no owner left.
func Flatten[T any, P Ptr[T]](v *T) (*Encoder, error) {
	e := NewEncoder()
	P(v).Flatten(e)
	if err := e.Err(); err != nil {
		for _, h := range e.Handles() {
			h.Close()
		}
		return nil, err
	}
	return e, nil
}

// Unflatten decodes one value from payload and handles and verifies
// both cursors are fully consumed.
func Unflatten[T any, P Ptr[T]](payload []byte, handles []*handle.Handle) (T, error) {
	var v T
	d := NewDecoder(payload, handles)
	if err := P(&v).Unflatten(d); err != nil {
		return v, err
	}
	return v, d.Finish()
}
