package typevault

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/pkg/sqlite"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

func point(t *testing.T) *Datatype {
	t.Helper()
	p, err := dtype.NewCompound(16)
	require.NoError(t, err)
	require.NoError(t, p.Insert("x", 0, dtype.Float64()))
	require.NoError(t, p.Insert("y", 8, dtype.Float64()))
	return p
}

func newLibrary(t *testing.T) *Library {
	t.Helper()
	lib := New()
	t.Cleanup(func() { lib.Shutdown() })
	return lib
}

func TestConvertInt32ToFloat64(t *testing.T) {
	lib := newLibrary(t)

	p, err := lib.FindConversionPath(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	assert.Equal(t, "int_float", p.Name())

	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], uint32(7))
	binary.LittleEndian.PutUint32(buf[4:], 0xfffffffe)
	require.NoError(t, lib.Convert(p, 2, buf, nil))

	assert.Equal(t, 7.0, math.Float64frombits(binary.LittleEndian.Uint64(buf[0:])))
	assert.Equal(t, -2.0, math.Float64frombits(binary.LittleEndian.Uint64(buf[8:])))
	assert.Equal(t, int64(2), p.Stats().Elements)
}

func TestHardConversionOverridesSoft(t *testing.T) {
	lib := newLibrary(t)
	fn := FuncOf(func(_, _ *Datatype, _ Buffers) error { return nil })

	require.NoError(t, lib.RegisterConversion(Hard, "fast", dtype.Int32(), dtype.Float64(), fn))

	p, err := lib.FindConversionPath(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	assert.True(t, p.IsHard())
	assert.Equal(t, "fast", p.Name())

	other, err := lib.FindConversionPath(dtype.Int16(), dtype.Float64())
	require.NoError(t, err)
	assert.Equal(t, "int_float", other.Name())

	lib.UnregisterConversion(Hard, "fast", nil, nil, nil)
	assert.True(t, p.Removed())
	assert.ErrorIs(t, lib.Convert(p, 1, make([]byte, 8), nil), types.ErrConversionUnavailable)

	again, err := lib.FindConversionPath(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	assert.Equal(t, "int_float", again.Name())
}

func TestIdenticalTypesConvertAsNoop(t *testing.T) {
	lib := newLibrary(t)

	noop, err := lib.IsNoopConversion(point(t), point(t))
	require.NoError(t, err)
	assert.True(t, noop)

	p, err := lib.FindConversionPath(point(t), point(t))
	require.NoError(t, err)
	buf := []byte{1, 2, 3}
	require.NoError(t, lib.Convert(p, 1, buf, nil))
	assert.Equal(t, []byte{1, 2, 3}, buf)
	assert.Zero(t, p.Stats().Calls)
}

func TestCompareTypes(t *testing.T) {
	lib := newLibrary(t)
	small, err := dtype.NewCompound(16)
	require.NoError(t, err)
	require.NoError(t, small.Insert("y", 8, dtype.Float64()))

	assert.Equal(t, 0, lib.CompareTypes(point(t), point(t), false))
	assert.NotEqual(t, 0, lib.CompareTypes(small, point(t), false))
	assert.Equal(t, 0, lib.CompareTypes(small, point(t), true))
}

func TestCommitPersistsInSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types"+sqlite.FileExt)

	lib := New()
	c, err := sqlite.Open(path)
	require.NoError(t, err)
	group, err := lib.CreateGroup(c, "/geometry")
	require.NoError(t, err)
	pt := point(t)
	require.NoError(t, lib.CommitType(c, group, "point", pt))
	_, err = lib.CreateDataset(c, c.Root(), "origin", pt, make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, lib.CloseType(pt))
	require.NoError(t, lib.CloseContainer(c))
	require.NoError(t, lib.Shutdown())

	lib = newLibrary(t)
	c, err = sqlite.Open(path)
	require.NoError(t, err)
	defer lib.CloseContainer(c)

	got, err := lib.OpenTypeByPath(c, "/geometry/point")
	require.NoError(t, err)
	defer lib.CloseType(got)
	assert.Equal(t, dtype.StateOpen, got.State())
	assert.Equal(t, 0, lib.CompareTypes(point(t), got, false))

	addr, err := lib.Lookup(c, "/geometry/point")
	require.NoError(t, err)
	h, err := c.ReadObjectHeader(addr)
	require.NoError(t, err)
	assert.Equal(t, 2, h.RefCount, "link plus dataset reference")
}

func TestCopyMergesCommittedType(t *testing.T) {
	lib := newLibrary(t)
	src, dst := NewMemoryContainer(), NewMemoryContainer()

	pt := point(t)
	require.NoError(t, lib.CommitType(src, src.Root(), "point", pt))
	samples, err := lib.CreateDataset(src, src.Root(), "samples", pt, nil)
	require.NoError(t, err)
	require.NoError(t, lib.SetAttribute(src, samples, "origin", pt, make([]byte, 16)))

	existing := point(t)
	require.NoError(t, lib.CommitType(dst, dst.Root(), "point", existing))

	copied, err := lib.CopySubtree(src, samples, dst, dst.Root(), "samples", CopyOptions{MergeCommittedTypes: true})
	require.NoError(t, err)

	target, err := lib.Lookup(dst, "/point")
	require.NoError(t, err)
	h, err := dst.ReadObjectHeader(copied)
	require.NoError(t, err)
	require.NotNil(t, h.Type)
	assert.Equal(t, target, h.Type.Committed)
	require.Len(t, h.Attributes, 1)
	assert.Equal(t, target, h.Attributes[0].Type.Committed)

	th, err := dst.ReadObjectHeader(target)
	require.NoError(t, err)
	assert.Equal(t, 3, th.RefCount)

	var names []string
	require.NoError(t, dst.IterateLinks(dst.Root(), func(l types.Link) error {
		names = append(names, l.Name)
		return nil
	}))
	assert.Equal(t, []string{"point", "samples"}, names)
}

func TestShutdownClosesDeferredContainer(t *testing.T) {
	lib := New()
	c, err := sqlite.Open(filepath.Join(t.TempDir(), "c"+sqlite.FileExt))
	require.NoError(t, err)

	pt := point(t)
	require.NoError(t, lib.CommitType(c, c.Root(), "point", pt))
	require.NoError(t, lib.CloseContainer(c))

	_, err = c.ReadObjectHeader(c.Root())
	require.NoError(t, err, "close waits for the open type")

	require.NoError(t, lib.Shutdown())
	require.NoError(t, lib.Shutdown())
	_, err = c.ReadObjectHeader(c.Root())
	assert.ErrorIs(t, err, types.ErrContainerClosed)
}

func TestCreateDatasetReleasesReferenceOnFailure(t *testing.T) {
	lib := newLibrary(t)
	c := NewMemoryContainer()
	pt := point(t)
	require.NoError(t, lib.CommitType(c, c.Root(), "point", pt))

	_, err := lib.CreateDataset(c, c.Root(), "point", pt, nil)
	assert.ErrorIs(t, err, types.ErrLinkExists)

	addr, err := lib.Lookup(c, "/point")
	require.NoError(t, err)
	h, err := c.ReadObjectHeader(addr)
	require.NoError(t, err)
	assert.Equal(t, 1, h.RefCount)
}
