package object

// Built-in transmissible kinds. These cover the primitive shapes the
// protocol defines natively; user defined structs implement Object by
// flattening their fields in declared order.

// Bool is a transmissible bool.
type Bool bool

func (v *Bool) Flatten(e *Encoder) { e.Bool(bool(*v)) }
func (v *Bool) Unflatten(d *Decoder) error {
	*v = Bool(d.Bool())
	return d.Err()
}

// Int32 is a transmissible int32.
type Int32 int32

func (v *Int32) Flatten(e *Encoder) { e.Int32(int32(*v)) }
func (v *Int32) Unflatten(d *Decoder) error {
	*v = Int32(d.Int32())
	return d.Err()
}

// Int64 is a transmissible int64.
type Int64 int64

func (v *Int64) Flatten(e *Encoder) { e.Int64(int64(*v)) }
func (v *Int64) Unflatten(d *Decoder) error {
	*v = Int64(d.Int64())
	return d.Err()
}

// Uint32 is a transmissible uint32.
type Uint32 uint32

func (v *Uint32) Flatten(e *Encoder) { e.Uint32(uint32(*v)) }
func (v *Uint32) Unflatten(d *Decoder) error {
	*v = Uint32(d.Uint32())
	return d.Err()
}

// Uint64 is a transmissible uint64.
type Uint64 uint64

func (v *Uint64) Flatten(e *Encoder) { e.Uint64(uint64(*v)) }
func (v *Uint64) Unflatten(d *Decoder) error {
	*v = Uint64(d.Uint64())
	return d.Err()
}

// Float64 is a transmissible float64.
type Float64 float64

func (v *Float64) Flatten(e *Encoder) { e.Float64(float64(*v)) }
func (v *Float64) Unflatten(d *Decoder) error {
	*v = Float64(d.Float64())
	return d.Err()
}

// String is a transmissible string.
type String string

func (v *String) Flatten(e *Encoder) { e.String(string(*v)) }
func (v *String) Unflatten(d *Decoder) error {
	*v = String(d.String())
	return d.Err()
}

// Bytes is a transmissible byte slice.
type Bytes []byte

func (v *Bytes) Flatten(e *Encoder) { e.Bytes(*v) }
func (v *Bytes) Unflatten(d *Decoder) error {
	*v = Bytes(d.Bytes())
	return d.Err()
}

// Empty carries no data. It marks entry points that return nothing.
type Empty struct{}

func (*Empty) Flatten(*Encoder) {}
func (*Empty) Unflatten(d *Decoder) error {
	return d.Err()
}

// List is a transmissible sequence of T.
type List[T any, P Ptr[T]] []T

func (l *List[T, P]) Flatten(e *Encoder) {
	e.Length(len(*l))
	for i := range *l {
		P(&(*l)[i]).Flatten(e)
	}
}

func (l *List[T, P]) Unflatten(d *Decoder) error {
	n := d.Count()
	if err := d.Err(); err != nil {
		return err
	}
	out := make(List[T, P], 0, min(n, 1024))
	for i := 0; i < n; i++ {
		var v T
		if err := P(&v).Unflatten(d); err != nil {
			return err
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// Dict is a transmissible mapping from K to V. Entry order on the wire
// follows map iteration and is not deterministic; the round trip is
// value equivalent, not byte equivalent.
type Dict[K comparable, V any, PK Ptr[K], PV Ptr[V]] map[K]V

func (m *Dict[K, V, PK, PV]) Flatten(e *Encoder) {
	e.Length(len(*m))
	for k, v := range *m {
		PK(&k).Flatten(e)
		PV(&v).Flatten(e)
	}
}

func (m *Dict[K, V, PK, PV]) Unflatten(d *Decoder) error {
	n := d.Count()
	if err := d.Err(); err != nil {
		return err
	}
	out := make(Dict[K, V, PK, PV], min(n, 1024))
	for i := 0; i < n; i++ {
		var k K
		var v V
		if err := PK(&k).Unflatten(d); err != nil {
			return err
		}
		if err := PV(&v).Unflatten(d); err != nil {
			return err
		}
		out[k] = v
	}
	*m = out
	return nil
}

// Option is a transmissible optional T with a one byte presence tag.
type Option[T any, P Ptr[T]] struct {
	OK    bool
	Value T
}

// Some creates a present Option.
func Some[T any, P Ptr[T]](v T) Option[T, P] {
	return Option[T, P]{OK: true, Value: v}
}

func (o *Option[T, P]) Flatten(e *Encoder) {
	if !o.OK {
		e.Uint8(0)
		return
	}
	e.Uint8(1)
	P(&o.Value).Flatten(e)
}

func (o *Option[T, P]) Unflatten(d *Decoder) error {
	switch d.Uint8() {
	case 0:
		*o = Option[T, P]{}
		return d.Err()
	case 1:
		o.OK = true
		return P(&o.Value).Unflatten(d)
	default:
		d.fail("option tag out of range")
		return d.Err()
	}
}

// Result is a transmissible success value or error message, with a one
// byte discriminant.
type Result[T any, P Ptr[T]] struct {
	OK    bool
	Value T
	Err   string
}

// Ok creates a successful Result.
func Ok[T any, P Ptr[T]](v T) Result[T, P] {
	return Result[T, P]{OK: true, Value: v}
}

// Fault creates a failed Result carrying the error text.
func Fault[T any, P Ptr[T]](err error) Result[T, P] {
	return Result[T, P]{Err: err.Error()}
}

func (r *Result[T, P]) Flatten(e *Encoder) {
	if r.OK {
		e.Uint8(0)
		P(&r.Value).Flatten(e)
		return
	}
	e.Uint8(1)
	e.String(r.Err)
}

func (r *Result[T, P]) Unflatten(d *Decoder) error {
	switch d.Uint8() {
	case 0:
		r.OK = true
		return P(&r.Value).Unflatten(d)
	case 1:
		r.OK = false
		r.Err = d.String()
		return d.Err()
	default:
		d.fail("result tag out of range")
		return d.Err()
	}
}
