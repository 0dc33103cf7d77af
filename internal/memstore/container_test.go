package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

func TestNewContainerHasRootGroup(t *testing.T) {
	c := New()

	assert.NotEmpty(t, c.ID())
	h, err := c.ReadObjectHeader(c.Root())
	require.NoError(t, err)
	assert.Equal(t, types.ObjectGroup, h.Kind)
	assert.Equal(t, 1, c.Allocated())
}

func TestAllocateReusesFreedAddress(t *testing.T) {
	tests := []struct {
		name     string
		freeSize int
		reqSize  int
		reused   bool
	}{
		{name: "same size", freeSize: 32, reqSize: 32, reused: true},
		{name: "smaller request", freeSize: 32, reqSize: 8, reused: true},
		{name: "larger request", freeSize: 8, reqSize: 32, reused: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			a, err := c.AllocateStorage(tt.freeSize)
			require.NoError(t, err)
			_, err = c.AllocateStorage(4) // keeps a from being the last block
			require.NoError(t, err)
			require.NoError(t, c.FreeStorage(a))

			b, err := c.AllocateStorage(tt.reqSize)
			require.NoError(t, err)
			assert.Equal(t, tt.reused, a == b)
		})
	}
}

func TestFreeCoalescesNeighbours(t *testing.T) {
	c := New()
	a, _ := c.AllocateStorage(8)
	b, _ := c.AllocateStorage(8)
	_, _ = c.AllocateStorage(8)

	require.NoError(t, c.FreeStorage(b))
	require.NoError(t, c.FreeStorage(a))

	got, err := c.AllocateStorage(16)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestFreeUnknownAddress(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.FreeStorage(types.Address(9999)), types.ErrBadAddress)
}

func TestWriteRequiresAllocation(t *testing.T) {
	c := New()
	err := c.WriteObjectHeader(types.Address(9999), &types.ObjectHeader{})
	assert.ErrorIs(t, err, types.ErrBadAddress)
}

func TestHeadersAreCopied(t *testing.T) {
	c := New()
	addr, _ := c.AllocateStorage(8)
	h := &types.ObjectHeader{Kind: types.ObjectDataset, Data: []byte{1}}
	require.NoError(t, c.WriteObjectHeader(addr, h))

	h.Data[0] = 2
	got, err := c.ReadObjectHeader(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got.Data)
}

func TestLinkName(t *testing.T) {
	c := New()
	addr, _ := c.AllocateStorage(8)
	require.NoError(t, c.WriteObjectHeader(addr, &types.ObjectHeader{Kind: types.ObjectDataset}))

	require.NoError(t, c.LinkName(c.Root(), "b", addr))
	require.NoError(t, c.LinkName(c.Root(), "a", addr))
	assert.ErrorIs(t, c.LinkName(c.Root(), "a", addr), types.ErrLinkExists)
	assert.ErrorIs(t, c.LinkName(addr, "x", addr), types.ErrNotGroup)

	h, err := c.ReadObjectHeader(addr)
	require.NoError(t, err)
	assert.Equal(t, 2, h.RefCount)

	var names []string
	require.NoError(t, c.IterateLinks(c.Root(), func(l types.Link) error {
		names = append(names, l.Name)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestIterateLinksAllowsReentry(t *testing.T) {
	c := New()
	require.NoError(t, c.LinkSoft(c.Root(), "s", "/nowhere"))

	err := c.IterateLinks(c.Root(), func(l types.Link) error {
		assert.Equal(t, types.LinkSoft, l.Kind)
		_, err := c.AllocateStorage(4)
		return err
	})
	assert.NoError(t, err)
}

func TestClosedContainer(t *testing.T) {
	c := New()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	_, err := c.ReadObjectHeader(c.Root())
	assert.ErrorIs(t, err, types.ErrContainerClosed)
	_, err = c.AllocateStorage(4)
	assert.ErrorIs(t, err, types.ErrContainerClosed)
}
