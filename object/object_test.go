package object

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procchan/procchan/pkg/handle"
)

type record struct {
	Name  String
	Score Float64
	Tags  List[String, *String]
	Note  Option[String, *String]
}

func (r *record) Flatten(e *Encoder) {
	r.Name.Flatten(e)
	r.Score.Flatten(e)
	r.Tags.Flatten(e)
	r.Note.Flatten(e)
}

func (r *record) Unflatten(d *Decoder) error {
	if err := r.Name.Unflatten(d); err != nil {
		return err
	}
	if err := r.Score.Unflatten(d); err != nil {
		return err
	}
	if err := r.Tags.Unflatten(d); err != nil {
		return err
	}
	return r.Note.Unflatten(d)
}

func roundTrip[T any, P Ptr[T]](t *testing.T, in T) T {
	t.Helper()
	e, err := Flatten[T, P](&in)
	require.NoError(t, err)
	out, err := Unflatten[T, P](e.Payload(), e.Handles())
	require.NoError(t, err)
	return out
}

func TestRoundTripStruct(t *testing.T) {
	in := record{
		Name:  "alpha",
		Score: 0.5,
		Tags:  List[String, *String]{"x", "y", ""},
		Note:  Some[String](String("unicode: héllo")),
	}
	assert.Equal(t, in, roundTrip[record, *record](t, in))
}

func TestRoundTripKinds(t *testing.T) {
	assert.Equal(t, Bool(true), roundTrip[Bool, *Bool](t, Bool(true)))
	assert.Equal(t, Int32(-7), roundTrip[Int32, *Int32](t, Int32(-7)))
	assert.Equal(t, Int64(1<<40), roundTrip[Int64, *Int64](t, Int64(1<<40)))
	assert.Equal(t, Uint64(^uint64(0)>>1), roundTrip[Uint64, *Uint64](t, Uint64(^uint64(0)>>1)))
	assert.Equal(t, String(""), roundTrip[String, *String](t, String("")))
	assert.Equal(t, Bytes{0, 255, 1}, roundTrip[Bytes, *Bytes](t, Bytes{0, 255, 1}))
	assert.Equal(t, Empty{}, roundTrip[Empty, *Empty](t, Empty{}))
}

func TestRoundTripDict(t *testing.T) {
	in := Dict[String, Int64, *String, *Int64]{"a": 1, "b": -2, "": 0}
	assert.Equal(t, in, roundTrip[Dict[String, Int64, *String, *Int64], *Dict[String, Int64, *String, *Int64]](t, in))
}

func TestRoundTripResult(t *testing.T) {
	ok := Ok[Int64](Int64(9))
	assert.Equal(t, ok, roundTrip[Result[Int64, *Int64], *Result[Int64, *Int64]](t, ok))

	fault := Fault[Int64](assert.AnError)
	out := roundTrip[Result[Int64, *Int64], *Result[Int64, *Int64]](t, fault)
	assert.False(t, out.OK)
	assert.Equal(t, assert.AnError.Error(), out.Err)
}

func TestUnflattenTruncated(t *testing.T) {
	in := record{Name: "x", Tags: List[String, *String]{"a"}}
	e, err := Flatten[record, *record](&in)
	require.NoError(t, err)

	payload := e.Payload()
	for _, cut := range []int{0, 1, len(payload) / 2, len(payload) - 1} {
		_, err := Unflatten[record, *record](payload[:cut], nil)
		assert.ErrorIs(t, err, ErrMalformed, "cut at %d", cut)
	}
}

func TestUnflattenTrailingBytes(t *testing.T) {
	in := Int32(5)
	e, err := Flatten[Int32, *Int32](&in)
	require.NoError(t, err)

	_, err = Unflatten[Int32, *Int32](append(e.Payload(), 0), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnflattenShapeMismatch(t *testing.T) {
	// an Int64 payload read back as a String: the length prefix is
	// garbage and the cursor runs out
	in := Int64(3)
	e, err := Flatten[Int64, *Int64](&in)
	require.NoError(t, err)

	_, err = Unflatten[String, *String](e.Payload(), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOptionTagValidation(t *testing.T) {
	var o Option[Int32, *Int32]
	d := NewDecoder([]byte{2}, nil)
	assert.ErrorIs(t, o.Unflatten(d), ErrMalformed)
}

func TestResultTagValidation(t *testing.T) {
	var r Result[Int32, *Int32]
	d := NewDecoder([]byte{7}, nil)
	assert.ErrorIs(t, r.Unflatten(d), ErrMalformed)
}

func TestDecoderSticky(t *testing.T) {
	d := NewDecoder(nil, nil)
	d.Uint32()
	first := d.Err()
	require.ErrorIs(t, first, ErrMalformed)
	d.Uint64()
	assert.Same(t, first, d.Err())
	assert.Zero(t, d.Int64())
}

func TestHandleCursorExhausted(t *testing.T) {
	d := NewDecoder(nil, nil)
	h := d.Handle()
	assert.Nil(t, h)
	assert.ErrorIs(t, d.Err(), ErrMalformed)
}

func TestEncoderRejectsClosedHandle(t *testing.T) {
	e := NewEncoder()
	e.Handle(nil)
	assert.Error(t, e.Err())
}

type twoHandles struct {
	A, B *handle.Handle
}

func (m *twoHandles) Flatten(e *Encoder) {
	e.Handle(m.A)
	e.Handle(m.B)
}

func (m *twoHandles) Unflatten(d *Decoder) error {
	m.A = d.Handle()
	m.B = d.Handle()
	return d.Err()
}

func TestFlattenFailureClosesCollectedHandles(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	h, err := handle.FromFile(w)
	require.NoError(t, err)

	// B left nil fails the traversal after A was already moved in
	m := twoHandles{A: h}
	_, ferr := Flatten[twoHandles](&m)
	require.Error(t, ferr)
	assert.False(t, h.Valid())
}
