package conv

import (
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/dtype"
)

func (r *Registry) registerBuiltins() {
	for _, c := range []dtype.Class{dtype.ClassReference, dtype.ClassVLen, dtype.ClassArray} {
		r.registerSoft("noop", c, c, noopFunc{})
	}
	r.registerSoft("int_int", dtype.ClassInteger, dtype.ClassInteger, intInt{})
	r.registerSoft("int_float", dtype.ClassInteger, dtype.ClassFloat, intFloat{})
	r.registerSoft("float_int", dtype.ClassFloat, dtype.ClassInteger, floatInt{})
	r.registerSoft("float_float", dtype.ClassFloat, dtype.ClassFloat, floatFloat{})
	for _, c := range []dtype.Class{dtype.ClassInteger, dtype.ClassBitfield, dtype.ClassFloat} {
		r.registerSoft("order", c, c, byteOrder{})
	}
	r.registerSoft("enum_enum", dtype.ClassEnum, dtype.ClassEnum, enumEnum{})
	r.registerSoft("struct", dtype.ClassCompound, dtype.ClassCompound, &structConv{reg: r})

	natives := [][2]*dtype.Datatype{
		{dtype.Float32(), dtype.Float64()},
		{dtype.Float64(), dtype.Float32()},
	}
	for _, pair := range natives {
		if err := r.registerHard("float_float", pair[0], pair[1], floatFloat{}, false); err != nil {
			r.log.Warn("built-in hard conversion failed to initialize", zap.Error(err))
		}
	}
}

// noopFunc copies through types whose layouts are identical. It backs the
// no-op path and the soft entries for classes that always force a
// conversion.
type noopFunc struct{}

func (noopFunc) Init(src, dst *dtype.Datatype, _ *Data) error {
	if dtype.Compare(src, dst, false) != 0 {
		return fmt.Errorf("%s and %s differ", src, dst)
	}
	return nil
}

func (noopFunc) Apply(*dtype.Datatype, *dtype.Datatype, *Data, Buffers) error { return nil }
func (noopFunc) Teardown(*dtype.Datatype, *dtype.Datatype, *Data) error       { return nil }

type stateless struct{}

func (stateless) Teardown(*dtype.Datatype, *dtype.Datatype, *Data) error { return nil }

func checkOrder(t *dtype.Datatype) error {
	switch o := t.Atomic().Order; o {
	case dtype.OrderLE, dtype.OrderBE:
		return nil
	default:
		return fmt.Errorf("%s: byte order %s is not supported", t, o)
	}
}

// plainInt accepts integers that use every bit of at most eight bytes.
func plainInt(t *dtype.Datatype) error {
	if t.Class() != dtype.ClassInteger {
		return fmt.Errorf("%s is not an integer", t)
	}
	a := t.Atomic()
	if t.Size() > 8 || a.Offset != 0 || a.Prec != 8*t.Size() {
		return fmt.Errorf("%s: only full-width integers up to 64 bits are supported", t)
	}
	return checkOrder(t)
}

// ieee accepts standard single and double precision floats.
func ieee(t *dtype.Datatype) error {
	if t.Class() != dtype.ClassFloat || (t.Size() != 4 && t.Size() != 8) {
		return fmt.Errorf("%s is not an IEEE single or double", t)
	}
	if err := checkOrder(t); err != nil {
		return err
	}
	want, err := dtype.NewFloat(t.Size(), t.Atomic().Order)
	if err != nil {
		return err
	}
	if t.Atomic().Float != want.Atomic().Float {
		return fmt.Errorf("%s: non-standard float layout", t)
	}
	return nil
}

// intRange returns the bounds of an integer type.
func intRange(t *dtype.Datatype) (lo int64, hi uint64) {
	bits := 8 * t.Size()
	if t.Atomic().Sign == dtype.Unsigned {
		if bits == 64 {
			return 0, math.MaxUint64
		}
		return 0, 1<<bits - 1
	}
	return -1 << (bits - 1), 1<<(bits-1) - 1
}

// intValue is an integer read from a buffer. Negative values keep their
// magnitude in u.
type intValue struct {
	neg bool
	u   uint64
}

func readInt(t *dtype.Datatype, b []byte) intValue {
	u := dtype.DecodeUint(b, t.Atomic().Order)
	if t.Atomic().Sign == dtype.Signed {
		bits := 8 * len(b)
		x := int64(u<<(64-bits)) >> (64 - bits)
		if x < 0 {
			return intValue{neg: true, u: uint64(-x)}
		}
		return intValue{u: uint64(x)}
	}
	return intValue{u: u}
}

// writeInt stores v in b, saturating at the bounds of t.
func writeInt(t *dtype.Datatype, b []byte, v intValue) {
	lo, hi := intRange(t)
	var bits uint64
	switch {
	case v.neg && lo == 0:
		bits = 0
	case v.neg && v.u > uint64(-(lo+1))+1:
		bits = uint64(lo)
	case v.neg:
		bits = -v.u
	case v.u > hi:
		bits = hi
	default:
		bits = v.u
	}
	dtype.EncodeUint(b, t.Atomic().Order, bits)
}

func (v intValue) float() float64 {
	if v.neg {
		return -float64(v.u)
	}
	return float64(v.u)
}

func readFloat(t *dtype.Datatype, b []byte) float64 {
	u := dtype.DecodeUint(b, t.Atomic().Order)
	if t.Size() == 4 {
		return float64(math.Float32frombits(uint32(u)))
	}
	return math.Float64frombits(u)
}

func writeFloat(t *dtype.Datatype, b []byte, f float64) {
	if t.Size() == 4 {
		dtype.EncodeUint(b, t.Atomic().Order, uint64(math.Float32bits(float32(f))))
		return
	}
	dtype.EncodeUint(b, t.Atomic().Order, math.Float64bits(f))
}

// intInt converts between integer types, saturating out-of-range values.
type intInt struct{ stateless }

func (intInt) Init(src, dst *dtype.Datatype, _ *Data) error {
	if err := plainInt(src); err != nil {
		return err
	}
	return plainInt(dst)
}

func (intInt) Apply(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
	return eachElement(src.Size(), dst.Size(), b, func(in, out []byte) error {
		writeInt(dst, out, readInt(src, in))
		return nil
	})
}

type intFloat struct{ stateless }

func (intFloat) Init(src, dst *dtype.Datatype, _ *Data) error {
	if err := plainInt(src); err != nil {
		return err
	}
	return ieee(dst)
}

func (intFloat) Apply(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
	return eachElement(src.Size(), dst.Size(), b, func(in, out []byte) error {
		writeFloat(dst, out, readInt(src, in).float())
		return nil
	})
}

// floatInt truncates toward zero and saturates. NaN converts to zero.
type floatInt struct{ stateless }

func (floatInt) Init(src, dst *dtype.Datatype, _ *Data) error {
	if err := ieee(src); err != nil {
		return err
	}
	return plainInt(dst)
}

func (floatInt) Apply(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
	lo, hi := intRange(dst)
	return eachElement(src.Size(), dst.Size(), b, func(in, out []byte) error {
		f := math.Trunc(readFloat(src, in))
		var v intValue
		switch {
		case math.IsNaN(f):
		case f < 0 && f <= float64(lo):
			v = intValue{neg: lo < 0, u: uint64(-(lo + 1)) + 1}
		case f < 0:
			v = intValue{neg: true, u: uint64(-f)}
		case f >= float64(hi):
			v = intValue{u: hi}
		default:
			v = intValue{u: uint64(f)}
		}
		if lo == 0 && v.neg {
			v = intValue{}
		}
		writeInt(dst, out, v)
		return nil
	})
}

type floatFloat struct{ stateless }

func (floatFloat) Init(src, dst *dtype.Datatype, _ *Data) error {
	if err := ieee(src); err != nil {
		return err
	}
	return ieee(dst)
}

func (floatFloat) Apply(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
	return eachElement(src.Size(), dst.Size(), b, func(in, out []byte) error {
		writeFloat(dst, out, readFloat(src, in))
		return nil
	})
}

// byteOrder swaps between little and big endian forms of an otherwise
// identical layout.
type byteOrder struct{ stateless }

func (byteOrder) Init(src, dst *dtype.Datatype, _ *Data) error {
	if src.Class() != dst.Class() || src.Size() != dst.Size() {
		return fmt.Errorf("%s and %s differ in more than byte order", src, dst)
	}
	if err := checkOrder(src); err != nil {
		return err
	}
	if err := checkOrder(dst); err != nil {
		return err
	}
	sa, da := src.Atomic(), dst.Atomic()
	sa.Order = da.Order
	if sa != da {
		return fmt.Errorf("%s and %s differ in more than byte order", src, dst)
	}
	return nil
}

func (byteOrder) Apply(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
	swap := src.Atomic().Order != dst.Atomic().Order
	return eachElement(src.Size(), dst.Size(), b, func(in, out []byte) error {
		copy(out, in)
		if swap {
			slices.Reverse(out)
		}
		return nil
	})
}
