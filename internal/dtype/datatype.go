// Package dtype describes datatypes, orders them structurally, and manages
// the lifecycle of datatypes committed to a container.
//
// A Datatype is a handle onto a shared record. Transient types own their
// record; every open handle onto the same committed address shares one.
package dtype

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Location is the container address a committed type is stored at.
type Location struct {
	Container types.ContainerID
	Addr      types.Address
}

// FloatLayout is the bit layout of a floating point type.
type FloatLayout struct {
	SignPos int
	EPos    int
	ESize   int
	EBias   uint64
	MPos    int
	MSize   int
	Norm    Norm
	Pad     Pad
}

// Atomic holds the bit-layout fields shared by the atomic classes plus the
// class-specific ones. Only the fields of the owning class are meaningful.
type Atomic struct {
	Order  ByteOrder
	Prec   int
	Offset int
	LSBPad Pad
	MSBPad Pad

	Sign   Sign
	Float  FloatLayout
	CSet   CharSet
	StrPad StrPad

	RefKind      RefKind
	RefLoc       Loc
	RefContainer types.ContainerID
}

// VLen describes a variable-length sequence or string.
type VLen struct {
	Kind      VLenKind
	Loc       Loc
	Container types.ContainerID
	CSet      CharSet
	Pad       StrPad
}

// Member is one field of a compound type.
type Member struct {
	Name   string
	Offset int
	Type   *Datatype
}

// Size is the size of the member's type.
func (m Member) Size() int { return m.Type.Size() }

// EnumValue is one name/value pair of an enum type. Value is encoded in the
// base type's byte order and size.
type EnumValue struct {
	Name  string
	Value []byte
}

type shared struct {
	state     State
	class     Class
	size      int
	parent    *Datatype
	forceConv bool

	atomic  Atomic
	members []Member
	values  []EnumValue
	vlen    VLen
	tag     string
	dims    []int

	// handles counts open handles while the type is StateOpen.
	handles int
}

// Datatype is a handle onto a type descriptor.
type Datatype struct {
	sh     *shared
	loc    Location
	closed bool
}

func newDatatype(class Class, size int) *Datatype {
	return &Datatype{sh: &shared{class: class, size: size}}
}

func (t *Datatype) Class() Class          { return t.sh.class }
func (t *Datatype) Size() int             { return t.sh.size }
func (t *Datatype) Parent() *Datatype     { return t.sh.parent }
func (t *Datatype) State() State          { return t.sh.state }
func (t *Datatype) Atomic() Atomic        { return t.sh.atomic }
func (t *Datatype) VLen() VLen            { return t.sh.vlen }
func (t *Datatype) Tag() string           { return t.sh.tag }
func (t *Datatype) Location() Location    { return t.loc }
func (t *Datatype) ForceConversion() bool { return t.sh.forceConv }
func (t *Datatype) Closed() bool          { return t.closed }

// Members returns the compound members in declaration order.
func (t *Datatype) Members() []Member {
	return append([]Member(nil), t.sh.members...)
}

// EnumValues returns the enum members in insertion order.
func (t *Datatype) EnumValues() []EnumValue {
	return append([]EnumValue(nil), t.sh.values...)
}

// Dims returns the extents of an array type.
func (t *Datatype) Dims() []int {
	return append([]int(nil), t.sh.dims...)
}

// IsCommitted reports whether the type is stored in a container.
func (t *Datatype) IsCommitted() bool {
	return t.sh.state == StateNamed || t.sh.state == StateOpen
}

// SameRecord reports whether two handles share one underlying record.
func (t *Datatype) SameRecord(o *Datatype) bool {
	return t.sh == o.sh
}

// Lock makes the type read-only, or immutable when immutable is set. Locking
// is monotonic: a locked type is never made writable again, and committed
// types are left as they are.
func (t *Datatype) Lock(immutable bool) {
	switch t.sh.state {
	case StateTransient:
		if immutable {
			t.sh.state = StateImmutable
		} else {
			t.sh.state = StateReadOnly
		}
	case StateReadOnly:
		if immutable {
			t.sh.state = StateImmutable
		}
	}
}

func (t *Datatype) checkMutable(op string) error {
	if t.closed {
		return fmt.Errorf("%s: %w", op, types.ErrHandleClosed)
	}
	if t.sh.state != StateTransient {
		return types.NewError(types.KindImmutable).Op(op).Type(t).Detail("datatype is %s", t.sh.state).Build()
	}
	return nil
}

// Copy returns a transient deep copy of t. Committed types copy to an
// unnamed, writable type.
func (t *Datatype) Copy() *Datatype {
	return &Datatype{sh: t.sh.clone()}
}

func (s *shared) clone() *shared {
	c := *s
	c.state = StateTransient
	c.handles = 0
	if s.parent != nil {
		c.parent = s.parent.Copy()
	}
	if s.members != nil {
		c.members = make([]Member, len(s.members))
		for i, m := range s.members {
			c.members[i] = Member{Name: m.Name, Offset: m.Offset, Type: m.Type.Copy()}
		}
	}
	if s.values != nil {
		c.values = make([]EnumValue, len(s.values))
		for i, v := range s.values {
			c.values[i] = EnumValue{Name: v.Name, Value: append([]byte(nil), v.Value...)}
		}
	}
	if s.dims != nil {
		c.dims = append([]int(nil), s.dims...)
	}
	return &c
}

// SetSize changes the size of a transient type. Atomic precision is trimmed
// to fit, and a compound cannot shrink below its last member's extent.
func (t *Datatype) SetSize(size int) error {
	if err := t.checkMutable("set size"); err != nil {
		return err
	}
	if size <= 0 {
		return types.NewError(types.KindInvalid).Op("set size").Type(t).Detail("size %d must be positive", size).Build()
	}

	sh := t.sh
	switch sh.class {
	case ClassCompound:
		if end := sh.extent(); size < end {
			return types.NewError(types.KindInvalid).Op("set size").Type(t).
				Detail("size %d is smaller than last member extent %d", size, end).Build()
		}
	case ClassInteger, ClassBitfield, ClassTime:
		a := &sh.atomic
		if a.Offset+a.Prec > 8*size {
			a.Prec = 8*size - a.Offset
			if a.Prec <= 0 {
				a.Offset, a.Prec = 0, 8*size
			}
		}
	case ClassFloat:
		f := sh.atomic.Float
		top := max(f.SignPos+1, f.EPos+f.ESize, f.MPos+f.MSize)
		if top > 8*size {
			return types.NewError(types.KindInvalid).Op("set size").Type(t).
				Detail("float layout needs %d bits", top).Build()
		}
	case ClassString:
		sh.atomic.Prec, sh.atomic.Offset = 8*size, 0
	case ClassOpaque:
	default:
		return types.NewError(types.KindInvalid).Op("set size").Type(t).
			Detail("size of a %s type is derived", sh.class).Build()
	}
	sh.size = size
	return nil
}

func (s *shared) extent() int {
	end := 0
	for _, m := range s.members {
		end = max(end, m.Offset+m.Type.Size())
	}
	return end
}

// Memory and disk footprint of variable-length values.
const (
	vlenSeqMemSize = 16
	vlenStrMemSize = 8
	vlenDiskSize   = 16
)

// setLoc binds variable-length parts and references to a location and
// returns whether anything changed. Compound offsets and array sizes follow
// their members.
func (t *Datatype) setLoc(loc Loc, c types.ContainerID) bool {
	sh := t.sh
	changed := false
	switch sh.class {
	case ClassVLen:
		if sh.parent != nil {
			changed = sh.parent.setLoc(loc, c)
		}
		if sh.vlen.Loc != loc || sh.vlen.Container != c {
			sh.vlen.Loc, sh.vlen.Container = loc, c
			switch {
			case loc == LocDisk:
				sh.size = vlenDiskSize
			case sh.vlen.Kind == VLenString:
				sh.size = vlenStrMemSize
			default:
				sh.size = vlenSeqMemSize
			}
			changed = true
		}
	case ClassReference:
		if sh.atomic.RefLoc != loc || sh.atomic.RefContainer != c {
			sh.atomic.RefLoc, sh.atomic.RefContainer = loc, c
			changed = true
		}
	case ClassArray:
		if sh.parent != nil && sh.parent.setLoc(loc, c) {
			sh.size = sh.parent.Size() * elements(sh.dims)
			changed = true
		}
	case ClassCompound:
		shift := 0
		for _, i := range byOffset(sh.members) {
			m := &sh.members[i]
			old := m.Type.Size()
			m.Offset += shift
			if m.Type.setLoc(loc, c) {
				changed = true
				shift += m.Type.Size() - old
			}
		}
		if shift != 0 {
			sh.size += shift
			changed = true
		}
	}
	return changed
}

func elements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func (t *Datatype) String() string {
	if t == nil {
		return "<nil>"
	}
	sh := t.sh
	a := sh.atomic
	switch sh.class {
	case ClassInteger:
		prefix := "int"
		if a.Sign == Unsigned {
			prefix = "uint"
		}
		return fmt.Sprintf("%s%d%s", prefix, 8*sh.size, a.Order)
	case ClassFloat:
		return fmt.Sprintf("float%d%s", 8*sh.size, a.Order)
	case ClassTime:
		return fmt.Sprintf("time%d%s", 8*sh.size, a.Order)
	case ClassBitfield:
		return fmt.Sprintf("bits%d%s", 8*sh.size, a.Order)
	case ClassString:
		return fmt.Sprintf("string[%d,%s,%s]", sh.size, a.CSet, a.StrPad)
	case ClassOpaque:
		return fmt.Sprintf("opaque[%d,%q]", sh.size, sh.tag)
	case ClassReference:
		return fmt.Sprintf("ref(%s)", a.RefKind)
	case ClassCompound:
		parts := make([]string, len(sh.members))
		for i, m := range sh.members {
			parts[i] = fmt.Sprintf("%s:%s@%d", m.Name, m.Type, m.Offset)
		}
		return "compound{" + strings.Join(parts, ",") + "}"
	case ClassEnum:
		names := make([]string, len(sh.values))
		for i, v := range sh.values {
			names[i] = v.Name
		}
		return fmt.Sprintf("enum(%s){%s}", sh.parent, strings.Join(names, ","))
	case ClassVLen:
		if sh.vlen.Kind == VLenString {
			return "vlen-string"
		}
		return fmt.Sprintf("vlen<%s>", sh.parent)
	case ClassArray:
		dims := make([]string, len(sh.dims))
		for i, d := range sh.dims {
			dims[i] = fmt.Sprint(d)
		}
		return fmt.Sprintf("array[%s]<%s>", strings.Join(dims, "x"), sh.parent)
	}
	return sh.class.String()
}
