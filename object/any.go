package object

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Any adapts an arbitrary msgpack encodable value to the Object
// contract without a hand written Flatten. It cannot carry handles;
// values that embed OS resources need a real Object implementation.
type Any[T any] struct {
	Value T
}

// Wrap creates an Any around v.
func Wrap[T any](v T) Any[T] {
	return Any[T]{Value: v}
}

func (a *Any[T]) Flatten(e *Encoder) {
	b, err := msgpack.Marshal(a.Value)
	if err != nil {
		e.Fail(fmt.Errorf("object: msgpack encode: %w", err))
		return
	}
	e.Bytes(b)
}

func (a *Any[T]) Unflatten(d *Decoder) error {
	b := d.Bytes()
	if err := d.Err(); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(b, &a.Value); err != nil {
		return fmt.Errorf("%w: msgpack decode: %v", ErrMalformed, err)
	}
	return nil
}
