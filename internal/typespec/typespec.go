// Package typespec reads and writes datatype definitions in YAML.
//
// A definition is either the name of a native type:
//
//	float64
//
// or a mapping that names the class and its class-specific fields:
//
//	class: compound
//	members:
//	  - name: id
//	    type: uint32
//	  - name: position
//	    type: {class: array, base: float32, dims: [3]}
//
// Compound member offsets default to packed layout and the compound size
// defaults to the end of its last member.
package typespec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Spec is the YAML form of a datatype.
type Spec struct {
	// Native names a built-in type. When set, no other field is used.
	Native string `yaml:"-"`

	Class   string       `yaml:"class"`
	Size    int          `yaml:"size,omitempty"`
	Order   string       `yaml:"order,omitempty"`
	Sign    string       `yaml:"sign,omitempty"`
	CharSet string       `yaml:"charset,omitempty"`
	Pad     string       `yaml:"pad,omitempty"`
	Tag     string       `yaml:"tag,omitempty"`
	Ref     string       `yaml:"ref,omitempty"`
	Kind    string       `yaml:"kind,omitempty"`
	Base    *Spec        `yaml:"base,omitempty"`
	Dims    []int        `yaml:"dims,omitempty"`
	Members []MemberSpec `yaml:"members,omitempty"`
	Values  []ValueSpec  `yaml:"values,omitempty"`
}

// MemberSpec is one compound member. A nil Offset places the member right
// after the previous one.
type MemberSpec struct {
	Name   string `yaml:"name"`
	Offset *int   `yaml:"offset,omitempty"`
	Type   *Spec  `yaml:"type"`
}

// ValueSpec is one enum name/value pair.
type ValueSpec struct {
	Name  string `yaml:"name"`
	Value int64  `yaml:"value"`
}

// plain has Spec's fields without its YAML methods.
type plain Spec

// UnmarshalYAML accepts a native type name in place of a mapping.
func (s *Spec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*s = Spec{Native: n.Value}
		return nil
	}
	return n.Decode((*plain)(s))
}

// MarshalYAML writes native types by name.
func (s Spec) MarshalYAML() (any, error) {
	if s.Native != "" {
		return s.Native, nil
	}
	return plain(s), nil
}

var natives = []struct {
	name string
	new  func() *dtype.Datatype
}{
	{"int8", dtype.Int8},
	{"int16", dtype.Int16},
	{"int32", dtype.Int32},
	{"int64", dtype.Int64},
	{"uint8", dtype.Uint8},
	{"uint16", dtype.Uint16},
	{"uint32", dtype.Uint32},
	{"uint64", dtype.Uint64},
	{"float32", dtype.Float32},
	{"float64", dtype.Float64},
}

func invalid(format string, args ...any) error {
	return types.NewError(types.KindInvalid).Op("parse type").Detail(format, args...).Build()
}

// Parse decodes a YAML definition and builds the datatype it describes.
func Parse(data []byte) (*dtype.Datatype, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, types.NewError(types.KindInvalid).Op("parse type").Wrap(err).Build()
	}
	return Build(&s)
}

// Load parses the definition in the file at path.
func Load(path string) (*dtype.Datatype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load type: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load type %s: %w", path, err)
	}
	return t, nil
}

// Build creates the datatype s describes.
func Build(s *Spec) (*dtype.Datatype, error) {
	if s == nil {
		return nil, invalid("missing type")
	}
	if s.Native != "" {
		for _, n := range natives {
			if n.name == s.Native {
				return n.new(), nil
			}
		}
		return nil, invalid("unknown native type %q", s.Native)
	}

	class, ok := dtype.ParseClass(s.Class)
	if !ok {
		return nil, invalid("unknown class %q", s.Class)
	}
	order, err := parseOrder(s.Order)
	if err != nil {
		return nil, err
	}

	switch class {
	case dtype.ClassInteger:
		sign := dtype.Signed
		switch s.Sign {
		case "", "signed":
		case "unsigned":
			sign = dtype.Unsigned
		default:
			return nil, invalid("unknown sign %q", s.Sign)
		}
		return dtype.NewInteger(s.Size, order, sign)
	case dtype.ClassFloat:
		return dtype.NewFloat(s.Size, order)
	case dtype.ClassTime:
		return dtype.NewTime(s.Size, order)
	case dtype.ClassBitfield:
		return dtype.NewBitfield(s.Size, order)
	case dtype.ClassString:
		cset, pad, err := parseText(s)
		if err != nil {
			return nil, err
		}
		return dtype.NewString(s.Size, cset, pad)
	case dtype.ClassOpaque:
		return dtype.NewOpaque(s.Size, s.Tag)
	case dtype.ClassReference:
		switch s.Ref {
		case "", "object":
			return dtype.NewReference(dtype.RefObject), nil
		case "region":
			return dtype.NewReference(dtype.RefRegion), nil
		}
		return nil, invalid("unknown reference kind %q", s.Ref)
	case dtype.ClassCompound:
		return buildCompound(s)
	case dtype.ClassEnum:
		return buildEnum(s)
	case dtype.ClassVLen:
		return buildVLen(s)
	case dtype.ClassArray:
		base, err := Build(s.Base)
		if err != nil {
			return nil, fmt.Errorf("array base: %w", err)
		}
		return dtype.NewArray(base, s.Dims...)
	}
	return nil, invalid("class %s cannot be defined", class)
}

func buildCompound(s *Spec) (*dtype.Datatype, error) {
	type placed struct {
		name   string
		offset int
		t      *dtype.Datatype
	}
	ms := make([]placed, 0, len(s.Members))
	next, end := 0, 0
	for _, m := range s.Members {
		t, err := Build(m.Type)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", m.Name, err)
		}
		off := next
		if m.Offset != nil {
			off = *m.Offset
		}
		next = off + t.Size()
		end = max(end, next)
		ms = append(ms, placed{m.Name, off, t})
	}

	size := s.Size
	if size == 0 {
		size = end
	}
	t, err := dtype.NewCompound(size)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if err := t.Insert(m.name, m.offset, m.t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func buildEnum(s *Spec) (*dtype.Datatype, error) {
	base := dtype.Int32()
	if s.Base != nil {
		var err error
		if base, err = Build(s.Base); err != nil {
			return nil, fmt.Errorf("enum base: %w", err)
		}
	}
	t, err := dtype.NewEnum(base)
	if err != nil {
		return nil, err
	}
	for _, v := range s.Values {
		if err := t.InsertInt(v.Name, v.Value); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func buildVLen(s *Spec) (*dtype.Datatype, error) {
	switch s.Kind {
	case "string":
		cset, pad, err := parseText(s)
		if err != nil {
			return nil, err
		}
		return dtype.NewVLenString(cset, pad), nil
	case "", "sequence":
		base, err := Build(s.Base)
		if err != nil {
			return nil, fmt.Errorf("vlen base: %w", err)
		}
		return dtype.NewVLenSequence(base), nil
	}
	return nil, invalid("unknown vlen kind %q", s.Kind)
}

func parseOrder(s string) (dtype.ByteOrder, error) {
	switch s {
	case "", "le":
		return dtype.OrderLE, nil
	case "be":
		return dtype.OrderBE, nil
	}
	return 0, invalid("unknown byte order %q", s)
}

func parseText(s *Spec) (dtype.CharSet, dtype.StrPad, error) {
	var cset dtype.CharSet
	switch s.CharSet {
	case "", "ascii":
		cset = dtype.ASCII
	case "utf8":
		cset = dtype.UTF8
	default:
		return 0, 0, invalid("unknown charset %q", s.CharSet)
	}
	for _, p := range []dtype.StrPad{dtype.NullTerm, dtype.NullPad, dtype.SpacePad} {
		if s.Pad == "" || s.Pad == p.String() {
			return cset, p, nil
		}
	}
	return 0, 0, invalid("unknown string padding %q", s.Pad)
}
