package conv

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/typevault/internal/dtype"
)

// enumEnum maps enum values by member name. Every source name must exist
// in the destination. Values not defined by the source convert to all
// bits set.
type enumEnum struct{ stateless }

type enumMap map[string][]byte

func (enumEnum) Init(src, dst *dtype.Datatype, cd *Data) error {
	byName := make(map[string][]byte)
	for _, v := range dst.EnumValues() {
		byName[v.Name] = v.Value
	}
	m := make(enumMap)
	for _, v := range src.EnumValues() {
		out, ok := byName[v.Name]
		if !ok {
			return fmt.Errorf("%s: member %q is missing from %s", src, v.Name, dst)
		}
		m[string(v.Value)] = out
	}
	cd.Priv = m
	return nil
}

func (enumEnum) Apply(src, dst *dtype.Datatype, cd *Data, b Buffers) error {
	m, ok := cd.Priv.(enumMap)
	if !ok {
		return fmt.Errorf("enum conversion was not initialized")
	}
	return eachElement(src.Size(), dst.Size(), b, func(in, out []byte) error {
		if v, ok := m[string(in)]; ok {
			copy(out, v)
			return nil
		}
		for i := range out {
			out[i] = 0xff
		}
		return nil
	})
}

// structConv converts compound types member by member, matching members
// by name. Members only the destination has are taken from the background
// buffer, or zeroed when there is none. Member conversions are resolved
// through the registry and resolved again after it changes.
type structConv struct {
	reg *Registry
}

type memberConv struct {
	name    string
	srcOff  int
	srcSize int
	dstOff  int
	dstSize int
	path    *Path
}

func (s *structConv) Init(src, dst *dtype.Datatype, cd *Data) error {
	members, err := s.members(src, dst)
	if err != nil {
		return err
	}
	cd.Priv = members
	cd.NeedBackground = true
	return nil
}

func (s *structConv) members(src, dst *dtype.Datatype) ([]memberConv, error) {
	dstByName := make(map[string]dtype.Member)
	for _, m := range dst.Members() {
		dstByName[m.Name] = m
	}
	var out []memberConv
	for _, sm := range src.Members() {
		dm, ok := dstByName[sm.Name]
		if !ok {
			continue
		}
		p, err := s.reg.Find(sm.Type, dm.Type)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", sm.Name, err)
		}
		out = append(out, memberConv{
			name:    sm.Name,
			srcOff:  sm.Offset,
			srcSize: sm.Size(),
			dstOff:  dm.Offset,
			dstSize: dm.Size(),
			path:    p,
		})
	}
	return out, nil
}

func (s *structConv) Apply(src, dst *dtype.Datatype, cd *Data, b Buffers) error {
	members, ok := cd.Priv.([]memberConv)
	if !ok {
		return fmt.Errorf("compound conversion was not initialized")
	}
	if cd.Recalc || slices.ContainsFunc(members, func(m memberConv) bool { return m.path.Removed() }) {
		var err error
		if members, err = s.members(src, dst); err != nil {
			return err
		}
		cd.Priv = members
		cd.Recalc = false
	}

	ds := dst.Size()
	bs := cmp.Or(b.BkgStride, ds)
	if b.Bkg != nil && len(b.Bkg) < span(b.N, ds, bs) {
		return fmt.Errorf("background holds %d bytes, %d elements need %d", len(b.Bkg), b.N, span(b.N, ds, bs))
	}

	var tmp bytes.Buffer
	i := 0
	return eachElement(src.Size(), ds, b, func(in, out []byte) error {
		if b.Bkg != nil {
			copy(out, b.Bkg[i*bs:i*bs+ds])
		} else {
			clear(out)
		}
		i++
		for _, m := range members {
			tmp.Reset()
			tmp.Write(in[m.srcOff : m.srcOff+m.srcSize])
			if m.dstSize > m.srcSize {
				tmp.Write(make([]byte, m.dstSize-m.srcSize))
			}
			if err := s.reg.ConvertBuffers(m.path, Buffers{N: 1, Buf: tmp.Bytes()}); err != nil {
				return fmt.Errorf("member %q: %w", m.name, err)
			}
			copy(out[m.dstOff:m.dstOff+m.dstSize], tmp.Bytes())
		}
		return nil
	})
}

func (s *structConv) Teardown(_, _ *dtype.Datatype, cd *Data) error {
	cd.Priv = nil
	return nil
}
