package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompound(t *testing.T, size int, members ...Member) *Datatype {
	t.Helper()
	c, err := NewCompound(size)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, c.Insert(m.Name, m.Offset, m.Type))
	}
	return c
}

func mustEnum(t *testing.T, names ...string) *Datatype {
	t.Helper()
	e, err := NewEnum(Int32())
	require.NoError(t, err)
	for i, n := range names {
		require.NoError(t, e.InsertInt(n, int64(i)))
	}
	return e
}

func enumWith(t *testing.T, pairs map[string]int64, order []string) *Datatype {
	t.Helper()
	e, err := NewEnum(Int32())
	require.NoError(t, err)
	for _, n := range order {
		require.NoError(t, e.InsertInt(n, pairs[n]))
	}
	return e
}

// sampleTypes returns a spread of distinct types covering every class.
func sampleTypes(t *testing.T) []*Datatype {
	t.Helper()
	be32, err := NewInteger(4, OrderBE, Signed)
	require.NoError(t, err)
	str, err := NewString(8, ASCII, NullTerm)
	require.NoError(t, err)
	utf, err := NewString(8, UTF8, NullPad)
	require.NoError(t, err)
	op1, err := NewOpaque(4, "alpha")
	require.NoError(t, err)
	op2, err := NewOpaque(4, "beta")
	require.NoError(t, err)
	tm, err := NewTime(8, OrderLE)
	require.NoError(t, err)
	bf, err := NewBitfield(2, OrderLE)
	require.NoError(t, err)
	arr1, err := NewArray(Int32(), 2, 3)
	require.NoError(t, err)
	arr2, err := NewArray(Int32(), 3, 2)
	require.NoError(t, err)
	arr3, err := NewArray(Float32(), 6)
	require.NoError(t, err)

	return []*Datatype{
		Int8(), Int16(), Int32(), Int64(), Uint32(), be32,
		Float32(), Float64(),
		tm, bf, str, utf, op1, op2,
		mustCompound(t, 16,
			Member{Name: "a", Offset: 0, Type: Int32()},
			Member{Name: "b", Offset: 8, Type: Float64()}),
		mustCompound(t, 16,
			Member{Name: "a", Offset: 0, Type: Int32()},
			Member{Name: "c", Offset: 8, Type: Float64()}),
		mustCompound(t, 16, Member{Name: "a", Offset: 4, Type: Int32()}),
		mustEnum(t, "RED", "GREEN"),
		mustEnum(t, "RED", "GREEN", "BLUE"),
		NewVLenSequence(Int32()),
		NewVLenSequence(Float64()),
		NewVLenString(ASCII, NullTerm),
		arr1, arr2, arr3,
		NewReference(RefObject),
		NewReference(RefRegion),
	}
}

func TestCompareIsReflexive(t *testing.T) {
	for _, a := range sampleTypes(t) {
		assert.Equal(t, 0, Compare(a, a, false), "%s", a)
		assert.Equal(t, 0, Compare(a, a.Copy(), false), "%s vs copy", a)
	}
}

func TestCompareIsAntisymmetric(t *testing.T) {
	set := sampleTypes(t)
	for i, a := range set {
		for j, b := range set {
			ab, ba := Compare(a, b, false), Compare(b, a, false)
			assert.Equal(t, -ba, ab, "%s vs %s", a, b)
			if i != j {
				assert.NotEqual(t, 0, ab, "%s and %s must differ", a, b)
			}
		}
	}
}

func TestCompareIsTransitive(t *testing.T) {
	set := sampleTypes(t)
	for _, a := range set {
		for _, b := range set {
			for _, c := range set {
				if Compare(a, b, false) < 0 && Compare(b, c, false) < 0 {
					assert.Negative(t, Compare(a, c, false), "%s < %s < %s", a, b, c)
				}
			}
		}
	}
}

func TestCompareIgnoresMemberOrder(t *testing.T) {
	ab := mustCompound(t, 16,
		Member{Name: "a", Offset: 0, Type: Int32()},
		Member{Name: "b", Offset: 8, Type: Float64()})
	ba := mustCompound(t, 16,
		Member{Name: "b", Offset: 8, Type: Float64()},
		Member{Name: "a", Offset: 0, Type: Int32()})
	assert.Equal(t, 0, Compare(ab, ba, false))

	vals := map[string]int64{"RED": 0, "GREEN": 1, "BLUE": 2}
	e1 := enumWith(t, vals, []string{"RED", "GREEN", "BLUE"})
	e2 := enumWith(t, vals, []string{"BLUE", "RED", "GREEN"})
	assert.Equal(t, 0, Compare(e1, e2, false))
}

func TestCompareEnumValuesMatter(t *testing.T) {
	e1 := enumWith(t, map[string]int64{"A": 0, "B": 1}, []string{"A", "B"})
	e2 := enumWith(t, map[string]int64{"A": 1, "B": 0}, []string{"A", "B"})
	assert.NotEqual(t, 0, Compare(e1, e2, false))
}

func TestCompareSuperset(t *testing.T) {
	tests := []struct {
		name  string
		small *Datatype
		big   *Datatype
	}{
		{
			name:  "enum",
			small: mustEnum(t, "RED", "GREEN"),
			big:   mustEnum(t, "RED", "GREEN", "BLUE"),
		},
		{
			name: "compound",
			small: mustCompound(t, 16,
				Member{Name: "x", Offset: 0, Type: Int32()}),
			big: mustCompound(t, 16,
				Member{Name: "x", Offset: 0, Type: Int32()},
				Member{Name: "y", Offset: 8, Type: Float64()}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0, Compare(tt.small, tt.big, true))
			assert.NotEqual(t, 0, Compare(tt.small, tt.big, false))
		})
	}
}

func TestCompareSupersetMissingMember(t *testing.T) {
	small := enumWith(t, map[string]int64{"RED": 0, "PINK": 7}, []string{"RED", "PINK"})
	big := mustEnum(t, "RED", "GREEN", "BLUE")
	assert.Equal(t, -1, Compare(small, big, true))
}

func TestCompareOpaqueWithoutTag(t *testing.T) {
	tagged, err := NewOpaque(4, "x")
	require.NoError(t, err)
	untagged, err := NewOpaque(4, "")
	require.NoError(t, err)
	assert.Equal(t, 0, Compare(tagged, untagged, false))
}

func TestCompareVLenPrecedence(t *testing.T) {
	seq := NewVLenSequence(Uint8())
	str := NewVLenString(ASCII, NullTerm)
	assert.Negative(t, Compare(seq.Copy(), seq.BoundCopy("c1"), false), "memory before disk")

	seqDisk := seq.BoundCopy("c1")
	assert.NotEqual(t, 0, Compare(seqDisk, seq.BoundCopy("c2"), false), "different containers")
	assert.Equal(t, 0, Compare(seqDisk, seq.BoundCopy("c1"), false))
	assert.Equal(t, ClassVLen, str.Class())
}

func TestCompareAtomicFields(t *testing.T) {
	le, _ := NewInteger(4, OrderLE, Signed)
	be, _ := NewInteger(4, OrderBE, Signed)
	u, _ := NewInteger(4, OrderLE, Unsigned)

	assert.Equal(t, -1, Compare(le, be, false))
	assert.Equal(t, 1, Compare(le, u, false))
	assert.Equal(t, 0, Compare(le, Int32(), false))
	assert.True(t, Equal(le, Int32()))
}
