package dtype

import (
	"bytes"
	"cmp"
	"slices"
	"strings"
)

// Compare orders two datatypes structurally and returns -1, 0 or 1. It
// returns 0 exactly when the types are equivalent, regardless of how they
// were built or in which order compound and enum members were declared.
//
// In superset mode a compound or enum b may hold members that a lacks:
// Compare(small, big, true) is 0 when every member of small appears in big
// with the same layout. The relation is one-directional.
func Compare(a, b *Datatype, superset bool) int {
	if a == b {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	sa, sb := a.sh, b.sh
	if sa == sb {
		return 0
	}

	if c := cmp.Compare(sa.class, sb.class); c != 0 {
		return c
	}
	if c := cmp.Compare(sa.size, sb.size); c != 0 {
		return c
	}
	switch {
	case sa.parent != nil && sb.parent == nil:
		return -1
	case sa.parent == nil && sb.parent != nil:
		return 1
	case sa.parent != nil:
		if c := Compare(sa.parent, sb.parent, superset); c != 0 {
			return c
		}
	}

	switch sa.class {
	case ClassCompound:
		return compareMembers(sa.members, sb.members, superset)
	case ClassEnum:
		return compareEnums(sa.values, sb.values, sa.parent.Size(), superset)
	case ClassVLen:
		return compareVLen(sa.vlen, sb.vlen)
	case ClassOpaque:
		if sa.tag != "" && sb.tag != "" {
			return strings.Compare(sa.tag, sb.tag)
		}
		return 0
	case ClassArray:
		if c := cmp.Compare(len(sa.dims), len(sb.dims)); c != 0 {
			return c
		}
		// Parents were compared above; the extents are all that is left.
		return slices.Compare(sa.dims, sb.dims)
	default:
		return compareAtomic(sa.class, &sa.atomic, &sb.atomic)
	}
}

// Equal reports whether a and b are structurally equivalent.
func Equal(a, b *Datatype) bool {
	return Compare(a, b, false) == 0
}

func byName[T any](items []T, name func(T) string) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(x, y int) int {
		return strings.Compare(name(items[x]), name(items[y]))
	})
	return idx
}

func byOffset(ms []Member) []int {
	idx := make([]int, len(ms))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(x, y int) int {
		return cmp.Compare(ms[x].Offset, ms[y].Offset)
	})
	return idx
}

func memberName(m Member) string  { return m.Name }
func valueName(v EnumValue) string { return v.Name }

// counts compares member counts. In superset mode only a larger a is a
// mismatch; done is set when the comparison is already decided.
func counts(n1, n2 int, superset bool) (c int, done bool) {
	if n1 == 0 && n2 == 0 {
		return 0, true
	}
	if superset {
		if n1 > n2 {
			return 1, true
		}
		return 0, false
	}
	if c := cmp.Compare(n1, n2); c != 0 {
		return c, true
	}
	return 0, false
}

// match finds the counterpart in b of the u-th name-sorted entry of a.
// Outside superset mode the counterpart is the u-th entry of b and any name
// difference decides the order.
func match(nameA string, u int, namesB func(int) string, nb int, superset bool) (j int, c int) {
	if !superset {
		return u, strings.Compare(nameA, namesB(u))
	}
	lo, hi := 0, nb
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch strings.Compare(namesB(mid), nameA) {
		case 0:
			return mid, 0
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, -1
}

func compareMembers(ma, mb []Member, superset bool) int {
	if c, done := counts(len(ma), len(mb), superset); done {
		return c
	}
	ia, ib := byName(ma, memberName), byName(mb, memberName)
	nameB := func(k int) string { return mb[ib[k]].Name }

	for u, i := range ia {
		a := ma[i]
		j, c := match(a.Name, u, nameB, len(mb), superset)
		if c != 0 {
			return c
		}
		b := mb[ib[j]]
		if c := cmp.Compare(a.Offset, b.Offset); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Size(), b.Size()); c != 0 {
			return c
		}
		if c := Compare(a.Type, b.Type, superset); c != 0 {
			return c
		}
	}
	return 0
}

func compareEnums(va, vb []EnumValue, baseSize int, superset bool) int {
	if c, done := counts(len(va), len(vb), superset); done {
		return c
	}
	ia, ib := byName(va, valueName), byName(vb, valueName)
	nameB := func(k int) string { return vb[ib[k]].Name }

	for u, i := range ia {
		a := va[i]
		j, c := match(a.Name, u, nameB, len(vb), superset)
		if c != 0 {
			return c
		}
		b := vb[ib[j]]
		if c := bytes.Compare(a.Value[:baseSize], b.Value[:baseSize]); c != 0 {
			return c
		}
	}
	return 0
}

// compareVLen applies a fixed precedence: sequences before strings, memory
// before disk, and a bad location after any valid one. Types bound to
// different containers never compare equal.
func compareVLen(a, b VLen) int {
	switch {
	case a.Kind == VLenSequence && b.Kind == VLenString:
		return -1
	case a.Kind == VLenString && b.Kind == VLenSequence:
		return 1
	}
	switch {
	case a.Loc == LocMemory && b.Loc == LocDisk:
		return -1
	case a.Loc == LocDisk && b.Loc == LocMemory:
		return 1
	case a.Loc == LocBad && b.Loc != LocBad:
		return 1
	case a.Loc != LocBad && b.Loc == LocBad:
		return -1
	}
	return strings.Compare(string(a.Container), string(b.Container))
}

func compareAtomic(class Class, a, b *Atomic) int {
	c := cmp.Or(
		cmp.Compare(a.Order, b.Order),
		cmp.Compare(a.Prec, b.Prec),
		cmp.Compare(a.Offset, b.Offset),
		cmp.Compare(a.LSBPad, b.LSBPad),
		cmp.Compare(a.MSBPad, b.MSBPad),
	)
	if c != 0 {
		return c
	}

	switch class {
	case ClassInteger:
		return cmp.Compare(a.Sign, b.Sign)
	case ClassFloat:
		fa, fb := a.Float, b.Float
		return cmp.Or(
			cmp.Compare(fa.SignPos, fb.SignPos),
			cmp.Compare(fa.EPos, fb.EPos),
			cmp.Compare(fa.ESize, fb.ESize),
			cmp.Compare(fa.EBias, fb.EBias),
			cmp.Compare(fa.MPos, fb.MPos),
			cmp.Compare(fa.MSize, fb.MSize),
			cmp.Compare(fa.Norm, fb.Norm),
			cmp.Compare(fa.Pad, fb.Pad),
		)
	case ClassString:
		return cmp.Or(
			cmp.Compare(a.CSet, b.CSet),
			cmp.Compare(a.StrPad, b.StrPad),
		)
	case ClassReference:
		return cmp.Or(
			cmp.Compare(a.RefKind, b.RefKind),
			cmp.Compare(a.RefLoc, b.RefLoc),
			cmp.Compare(string(a.RefContainer), string(b.RefContainer)),
		)
	}
	return 0
}
