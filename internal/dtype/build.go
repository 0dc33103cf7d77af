package dtype

import (
	"encoding/binary"
	"slices"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

func invalid(op, format string, args ...any) error {
	return types.NewError(types.KindInvalid).Op(op).Detail(format, args...).Build()
}

func newAtomic(class Class, size int, order ByteOrder) (*Datatype, error) {
	if size <= 0 {
		return nil, invalid("create "+class.String(), "size %d must be positive", size)
	}
	t := newDatatype(class, size)
	t.sh.atomic = Atomic{Order: order, Prec: 8 * size}
	return t, nil
}

// NewInteger creates an integer type using all bits of size bytes.
func NewInteger(size int, order ByteOrder, sign Sign) (*Datatype, error) {
	t, err := newAtomic(ClassInteger, size, order)
	if err != nil {
		return nil, err
	}
	t.sh.atomic.Sign = sign
	return t, nil
}

// NewFloat creates an IEEE 754 half, single or double precision type.
func NewFloat(size int, order ByteOrder) (*Datatype, error) {
	var f FloatLayout
	switch size {
	case 2:
		f = FloatLayout{SignPos: 15, EPos: 10, ESize: 5, EBias: 15, MSize: 10}
	case 4:
		f = FloatLayout{SignPos: 31, EPos: 23, ESize: 8, EBias: 127, MSize: 23}
	case 8:
		f = FloatLayout{SignPos: 63, EPos: 52, ESize: 11, EBias: 1023, MSize: 52}
	default:
		return nil, invalid("create float", "no IEEE layout for %d bytes", size)
	}
	t, err := newAtomic(ClassFloat, size, order)
	if err != nil {
		return nil, err
	}
	f.Norm = NormImplied
	t.sh.atomic.Float = f
	return t, nil
}

// NewTime creates a time type.
func NewTime(size int, order ByteOrder) (*Datatype, error) {
	return newAtomic(ClassTime, size, order)
}

// NewBitfield creates a bitfield type.
func NewBitfield(size int, order ByteOrder) (*Datatype, error) {
	return newAtomic(ClassBitfield, size, order)
}

// NewString creates a fixed-length string type.
func NewString(size int, cset CharSet, pad StrPad) (*Datatype, error) {
	t, err := newAtomic(ClassString, size, OrderNone)
	if err != nil {
		return nil, err
	}
	t.sh.atomic.CSet = cset
	t.sh.atomic.StrPad = pad
	return t, nil
}

// NewOpaque creates an opaque type. An empty tag means no tag.
func NewOpaque(size int, tag string) (*Datatype, error) {
	if size <= 0 {
		return nil, invalid("create opaque", "size %d must be positive", size)
	}
	t := newDatatype(ClassOpaque, size)
	t.sh.tag = tag
	return t, nil
}

// NewReference creates an object or region reference held in memory.
func NewReference(kind RefKind) *Datatype {
	size := 8
	if kind == RefRegion {
		size = 12
	}
	t := newDatatype(ClassReference, size)
	t.sh.atomic = Atomic{Order: OrderNone, Prec: 8 * size, RefKind: kind, RefLoc: LocMemory}
	t.sh.forceConv = true
	return t
}

// NewCompound creates an empty compound type of the given size.
func NewCompound(size int) (*Datatype, error) {
	if size <= 0 {
		return nil, invalid("create compound", "size %d must be positive", size)
	}
	return newDatatype(ClassCompound, size), nil
}

// Insert adds a copy of member to a compound at offset. Names must be unique
// and members must not overlap or run past the end of the compound.
func (t *Datatype) Insert(name string, offset int, member *Datatype) error {
	if err := t.checkMutable("insert member"); err != nil {
		return err
	}
	sh := t.sh
	if sh.class != ClassCompound {
		return invalid("insert member", "%s is not a compound", t)
	}
	if name == "" {
		return invalid("insert member", "member name must not be empty")
	}
	if offset < 0 || offset+member.Size() > sh.size {
		return invalid("insert member", "member %q at %d does not fit in %d bytes", name, offset, sh.size)
	}
	end := offset + member.Size()
	for _, m := range sh.members {
		if m.Name == name {
			return invalid("insert member", "duplicate member %q", name)
		}
		if offset < m.Offset+m.Type.Size() && m.Offset < end {
			return invalid("insert member", "member %q overlaps %q", name, m.Name)
		}
	}
	sh.members = append(sh.members, Member{Name: name, Offset: offset, Type: member.Copy()})
	if member.ForceConversion() {
		sh.forceConv = true
	}
	return nil
}

// NewEnum creates an empty enum over an integer base type.
func NewEnum(base *Datatype) (*Datatype, error) {
	if base.Class() != ClassInteger {
		return nil, invalid("create enum", "base %s is not an integer", base)
	}
	t := newDatatype(ClassEnum, base.Size())
	t.sh.parent = base.Copy()
	return t, nil
}

// InsertValue adds a member to an enum. The value must be encoded in the
// base type's size and byte order; names and values must be unique.
func (t *Datatype) InsertValue(name string, value []byte) error {
	if err := t.checkMutable("insert enum value"); err != nil {
		return err
	}
	sh := t.sh
	if sh.class != ClassEnum {
		return invalid("insert enum value", "%s is not an enum", t)
	}
	if len(value) != sh.parent.Size() {
		return invalid("insert enum value", "value for %q has %d bytes, want %d", name, len(value), sh.parent.Size())
	}
	for _, v := range sh.values {
		if v.Name == name {
			return invalid("insert enum value", "duplicate name %q", name)
		}
		if slices.Equal(v.Value, value) {
			return invalid("insert enum value", "%q repeats the value of %q", name, v.Name)
		}
	}
	sh.values = append(sh.values, EnumValue{Name: name, Value: append([]byte(nil), value...)})
	return nil
}

// InsertInt adds a member to an enum, encoding v in the base type's layout.
func (t *Datatype) InsertInt(name string, v int64) error {
	if t.sh.class != ClassEnum {
		return invalid("insert enum value", "%s is not an enum", t)
	}
	base := t.sh.parent
	if base.Size() > 8 {
		return invalid("insert enum value", "base %s is wider than 64 bits; use InsertValue", base)
	}
	buf := make([]byte, base.Size())
	EncodeUint(buf, base.Atomic().Order, uint64(v))
	return t.InsertValue(name, buf)
}

// NewVLenSequence creates a variable-length sequence of base held in memory.
func NewVLenSequence(base *Datatype) *Datatype {
	t := newDatatype(ClassVLen, vlenSeqMemSize)
	t.sh.parent = base.Copy()
	t.sh.vlen = VLen{Kind: VLenSequence, Loc: LocMemory}
	t.sh.forceConv = true
	return t
}

// NewVLenString creates a variable-length string held in memory.
func NewVLenString(cset CharSet, pad StrPad) *Datatype {
	t := newDatatype(ClassVLen, vlenStrMemSize)
	t.sh.parent = &Datatype{sh: &shared{class: ClassInteger, size: 1, atomic: Atomic{Order: OrderNone, Prec: 8}}}
	t.sh.vlen = VLen{Kind: VLenString, Loc: LocMemory, CSet: cset, Pad: pad}
	t.sh.forceConv = true
	return t
}

// NewArray creates a fixed-size array of base.
func NewArray(base *Datatype, dims ...int) (*Datatype, error) {
	if len(dims) == 0 {
		return nil, invalid("create array", "at least one dimension is required")
	}
	for _, d := range dims {
		if d <= 0 {
			return nil, invalid("create array", "dimension %d must be positive", d)
		}
	}
	t := newDatatype(ClassArray, base.Size()*elements(dims))
	t.sh.parent = base.Copy()
	t.sh.dims = append([]int(nil), dims...)
	t.sh.forceConv = base.ForceConversion()
	return t, nil
}

// Native little-endian types. Each call returns a fresh transient copy.

func Int8() *Datatype    { return mustInt(1, Signed) }
func Int16() *Datatype   { return mustInt(2, Signed) }
func Int32() *Datatype   { return mustInt(4, Signed) }
func Int64() *Datatype   { return mustInt(8, Signed) }
func Uint8() *Datatype   { return mustInt(1, Unsigned) }
func Uint16() *Datatype  { return mustInt(2, Unsigned) }
func Uint32() *Datatype  { return mustInt(4, Unsigned) }
func Uint64() *Datatype  { return mustInt(8, Unsigned) }
func Float32() *Datatype { return mustFloat(4) }
func Float64() *Datatype { return mustFloat(8) }

func mustInt(size int, sign Sign) *Datatype {
	t, err := NewInteger(size, OrderLE, sign)
	if err != nil {
		panic(err)
	}
	return t
}

func mustFloat(size int) *Datatype {
	t, err := NewFloat(size, OrderLE)
	if err != nil {
		panic(err)
	}
	return t
}

// EncodeUint writes v into buf in the given order. Bytes of buf beyond the
// low eight are zeroed.
func EncodeUint(buf []byte, order ByteOrder, v uint64) {
	var full [8]byte
	clear(buf)
	if order == OrderBE {
		binary.BigEndian.PutUint64(full[:], v)
		if len(buf) >= 8 {
			copy(buf[len(buf)-8:], full[:])
		} else {
			copy(buf, full[8-len(buf):])
		}
		return
	}
	binary.LittleEndian.PutUint64(full[:], v)
	copy(buf, full[:])
}

// DecodeUint reads the low eight bytes of an unsigned value stored in buf in
// the given order.
func DecodeUint(buf []byte, order ByteOrder) uint64 {
	var full [8]byte
	if order == OrderBE {
		if len(buf) >= 8 {
			copy(full[:], buf[len(buf)-8:])
		} else {
			copy(full[8-len(buf):], buf)
		}
		return binary.BigEndian.Uint64(full[:])
	}
	copy(full[:], buf)
	return binary.LittleEndian.Uint64(full[:])
}
