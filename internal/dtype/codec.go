package dtype

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// descriptorJSON is the persisted form of a descriptor. Parents and member
// types are nested, so one document carries the whole parent chain.
type descriptorJSON struct {
	Class  string          `json:"class"`
	Size   int             `json:"size"`
	Parent *descriptorJSON `json:"parent,omitempty"`
	Force  bool            `json:"force_conv,omitempty"`

	Atomic  *atomicJSON  `json:"atomic,omitempty"`
	Members []memberJSON `json:"members,omitempty"`
	Values  []valueJSON  `json:"values,omitempty"`
	VLen    *vlenJSON    `json:"vlen,omitempty"`
	Tag     string       `json:"tag,omitempty"`
	Dims    []int        `json:"dims,omitempty"`
}

type atomicJSON struct {
	Order  ByteOrder   `json:"order"`
	Prec   int         `json:"prec"`
	Offset int         `json:"offset"`
	LSBPad Pad         `json:"lsb_pad"`
	MSBPad Pad         `json:"msb_pad"`
	Sign   Sign        `json:"sign,omitempty"`
	Float  FloatLayout `json:"float"`
	CSet   CharSet     `json:"cset,omitempty"`
	StrPad StrPad      `json:"str_pad,omitempty"`

	RefKind      RefKind           `json:"ref_kind,omitempty"`
	RefLoc       Loc               `json:"ref_loc,omitempty"`
	RefContainer types.ContainerID `json:"ref_container,omitempty"`
}

type memberJSON struct {
	Name   string         `json:"name"`
	Offset int            `json:"offset"`
	Type   descriptorJSON `json:"type"`
}

type valueJSON struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

type vlenJSON struct {
	Kind      VLenKind          `json:"kind"`
	Loc       Loc               `json:"loc"`
	Container types.ContainerID `json:"container,omitempty"`
	CSet      CharSet           `json:"cset,omitempty"`
	Pad       StrPad            `json:"pad,omitempty"`
}

// Encode serializes the descriptor of t and its parent chain.
func Encode(t *Datatype) ([]byte, error) {
	data, err := json.Marshal(toJSON(t))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return data, nil
}

// Decode rebuilds a transient descriptor from Encode output.
func Decode(data []byte) (*Datatype, error) {
	var d descriptorJSON
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, types.NewError(types.KindInvalid).Op("decode datatype").Wrap(err).Build()
	}
	return fromJSON(&d)
}

func toJSON(t *Datatype) descriptorJSON {
	sh := t.sh
	d := descriptorJSON{
		Class: sh.class.String(),
		Size:  sh.size,
		Force: sh.forceConv,
		Tag:   sh.tag,
		Dims:  sh.dims,
	}
	if sh.parent != nil {
		p := toJSON(sh.parent)
		d.Parent = &p
	}
	if sh.class.IsAtomic() {
		a := atomicJSON(sh.atomic)
		d.Atomic = &a
	}
	for _, m := range sh.members {
		d.Members = append(d.Members, memberJSON{Name: m.Name, Offset: m.Offset, Type: toJSON(m.Type)})
	}
	for _, v := range sh.values {
		d.Values = append(d.Values, valueJSON{Name: v.Name, Value: v.Value})
	}
	if sh.class == ClassVLen {
		v := vlenJSON(sh.vlen)
		d.VLen = &v
	}
	return d
}

func fromJSON(d *descriptorJSON) (*Datatype, error) {
	class, ok := ParseClass(d.Class)
	if !ok {
		return nil, invalid("decode datatype", "unknown class %q", d.Class)
	}
	if d.Size <= 0 {
		return nil, invalid("decode datatype", "%s has size %d", class, d.Size)
	}
	t := newDatatype(class, d.Size)
	sh := t.sh
	sh.forceConv = d.Force
	sh.tag = d.Tag
	if len(d.Dims) > 0 {
		sh.dims = append([]int(nil), d.Dims...)
	}
	if d.Parent != nil {
		p, err := fromJSON(d.Parent)
		if err != nil {
			return nil, err
		}
		sh.parent = p
	}
	if d.Atomic != nil {
		sh.atomic = Atomic(*d.Atomic)
	}
	for i := range d.Members {
		m := &d.Members[i]
		mt, err := fromJSON(&m.Type)
		if err != nil {
			return nil, err
		}
		sh.members = append(sh.members, Member{Name: m.Name, Offset: m.Offset, Type: mt})
	}
	for _, v := range d.Values {
		sh.values = append(sh.values, EnumValue{Name: v.Name, Value: v.Value})
	}
	if d.VLen != nil {
		sh.vlen = VLen(*d.VLen)
	}

	switch class {
	case ClassEnum, ClassVLen, ClassArray:
		if sh.parent == nil {
			return nil, invalid("decode datatype", "%s without a parent type", class)
		}
	}
	if class == ClassEnum {
		if sh.parent.sh.class != ClassInteger || sh.parent.Size() != d.Size {
			return nil, invalid("decode datatype", "enum of size %d over %s", d.Size, sh.parent)
		}
		for _, v := range sh.values {
			if len(v.Value) != d.Size {
				return nil, invalid("decode datatype", "enum value %q has %d bytes, want %d", v.Name, len(v.Value), d.Size)
			}
		}
	}
	return t, nil
}
