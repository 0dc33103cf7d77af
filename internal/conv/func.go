// Package conv keeps the registry of datatype conversion functions and the
// table of conversion paths resolved from it.
//
// A path binds one (source, destination) pair of datatypes to the function
// that converts between them. Hard functions are registered for an exact
// pair and always win. Soft functions are registered for a pair of classes;
// when a pair is first resolved the soft list is scanned from the most
// recent registration backwards and the first function whose Init accepts
// the pair is bound.
package conv

import (
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/typevault/internal/dtype"
)

// Persistence selects hard or soft registrations.
type Persistence int

const (
	// DontCare matches both hard and soft entries. It is only valid for
	// Unregister.
	DontCare Persistence = iota
	Hard
	Soft
)

func (p Persistence) String() string {
	switch p {
	case DontCare:
		return "any"
	case Hard:
		return "hard"
	case Soft:
		return "soft"
	default:
		return fmt.Sprintf("persistence(%d)", int(p))
	}
}

// Data is the per-path state a conversion function keeps between calls.
type Data struct {
	// Recalc is set when the registry changed in a way that may invalidate
	// state cached in Priv, such as member paths. Functions that cache paths
	// rebuild them and clear the flag.
	Recalc bool

	// NeedBackground is set by Init when Apply reads the background buffer.
	NeedBackground bool

	// Priv is owned by the conversion function.
	Priv any
}

// Buffers describes the elements handed to Apply. Buf holds N source
// elements on entry and N destination elements on return, so it must be
// large enough for the bigger of the two layouts. A zero stride means
// elements are packed at their type's size.
type Buffers struct {
	N         int
	Stride    int
	BkgStride int
	Buf       []byte
	Bkg       []byte
}

// Func converts elements from one datatype to another.
type Func interface {
	// Init checks whether the function can convert src to dst and sets up
	// cd. An error means the function does not apply to the pair.
	Init(src, dst *dtype.Datatype, cd *Data) error

	// Apply converts b.N elements in place.
	Apply(src, dst *dtype.Datatype, cd *Data, b Buffers) error

	// Teardown releases whatever Init stored in cd.
	Teardown(src, dst *dtype.Datatype, cd *Data) error
}

// Funcs adapts plain functions to Func. Nil fields succeed without doing
// anything.
type Funcs struct {
	InitFunc     func(src, dst *dtype.Datatype, cd *Data) error
	ApplyFunc    func(src, dst *dtype.Datatype, cd *Data, b Buffers) error
	TeardownFunc func(src, dst *dtype.Datatype, cd *Data) error
}

var _ Func = (*Funcs)(nil)

// FuncOf returns a stateless Func that runs apply on every conversion.
func FuncOf(apply func(src, dst *dtype.Datatype, b Buffers) error) *Funcs {
	return &Funcs{
		ApplyFunc: func(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
			return apply(src, dst, b)
		},
	}
}

func (f *Funcs) Init(src, dst *dtype.Datatype, cd *Data) error {
	if f.InitFunc == nil {
		return nil
	}
	return f.InitFunc(src, dst, cd)
}

func (f *Funcs) Apply(src, dst *dtype.Datatype, cd *Data, b Buffers) error {
	if f.ApplyFunc == nil {
		return nil
	}
	return f.ApplyFunc(src, dst, cd, b)
}

func (f *Funcs) Teardown(src, dst *dtype.Datatype, cd *Data) error {
	if f.TeardownFunc == nil {
		return nil
	}
	return f.TeardownFunc(src, dst, cd)
}

// sameFunc reports whether a and b are the same function value. Values of
// non-comparable dynamic types only match themselves by identity, which
// interface comparison cannot test, so they never match.
func sameFunc(a, b Func) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
