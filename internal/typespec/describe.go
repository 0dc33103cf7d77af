package typespec

import (
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/typevault/internal/dtype"
)

// Describe returns the definition of t. Compound members carry explicit
// offsets and the compound its size, so Build(Describe(t)) equals t.
func Describe(t *dtype.Datatype) *Spec {
	for _, n := range natives {
		if dtype.Equal(t, n.new()) {
			return &Spec{Native: n.name}
		}
	}

	a := t.Atomic()
	s := &Spec{Class: t.Class().String()}
	switch t.Class() {
	case dtype.ClassInteger:
		s.Size, s.Order = t.Size(), orderName(a.Order)
		if a.Sign == dtype.Unsigned {
			s.Sign = "unsigned"
		}
	case dtype.ClassFloat, dtype.ClassTime, dtype.ClassBitfield:
		s.Size, s.Order = t.Size(), orderName(a.Order)
	case dtype.ClassString:
		s.Size, s.CharSet, s.Pad = t.Size(), a.CSet.String(), a.StrPad.String()
	case dtype.ClassOpaque:
		s.Size, s.Tag = t.Size(), t.Tag()
	case dtype.ClassReference:
		s.Ref = a.RefKind.String()
	case dtype.ClassCompound:
		s.Size = t.Size()
		for _, m := range t.Members() {
			off := m.Offset
			s.Members = append(s.Members, MemberSpec{Name: m.Name, Offset: &off, Type: Describe(m.Type)})
		}
	case dtype.ClassEnum:
		base := t.Parent()
		s.Base = Describe(base)
		for _, v := range t.EnumValues() {
			s.Values = append(s.Values, ValueSpec{Name: v.Name, Value: enumValue(base, v.Value)})
		}
	case dtype.ClassVLen:
		v := t.VLen()
		if v.Kind == dtype.VLenString {
			s.Kind, s.CharSet, s.Pad = "string", v.CSet.String(), v.Pad.String()
		} else {
			s.Base = Describe(t.Parent())
		}
	case dtype.ClassArray:
		s.Base, s.Dims = Describe(t.Parent()), t.Dims()
	}
	return s
}

// Marshal returns the YAML definition of t.
func Marshal(t *dtype.Datatype) ([]byte, error) {
	return yaml.Marshal(Describe(t))
}

func orderName(o dtype.ByteOrder) string {
	if o == dtype.OrderBE {
		return "be"
	}
	return ""
}

func enumValue(base *dtype.Datatype, b []byte) int64 {
	u := dtype.DecodeUint(b, base.Atomic().Order)
	bits := 8 * base.Size()
	if base.Atomic().Sign == dtype.Signed && bits < 64 && u&(1<<(bits-1)) != 0 {
		u |= ^uint64(0) << bits
	}
	return int64(u)
}
