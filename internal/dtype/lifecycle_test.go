package dtype

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/typevault/internal/memstore"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

var errLinkRefused = errors.New("link refused")

// linkFailing refuses every hard link after storage has been written.
type linkFailing struct {
	*memstore.Container
	lastAlloc types.Address
}

func (c *linkFailing) AllocateStorage(size int) (types.Address, error) {
	addr, err := c.Container.AllocateStorage(size)
	c.lastAlloc = addr
	return addr, err
}

func (c *linkFailing) LinkName(types.Address, string, types.Address) error {
	return errLinkRefused
}

func TestCommitOpensType(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	dt := mustCompound(t, 8, Member{Name: "a", Offset: 0, Type: Int32()})

	require.NoError(t, l.Commit(c, c.Root(), "point", dt))

	assert.Equal(t, StateOpen, dt.State())
	assert.True(t, dt.IsCommitted())
	assert.Equal(t, c.ID(), dt.Location().Container)
	assert.Equal(t, 1, l.HandleCount(dt))
	assert.Equal(t, 1, l.OpenCount(c.ID()))

	h, err := c.ReadObjectHeader(dt.Location().Addr)
	require.NoError(t, err)
	assert.Equal(t, types.ObjectNamedDatatype, h.Kind)
	assert.Equal(t, 1, h.RefCount)

	assert.ErrorIs(t, l.Commit(c, c.Root(), "again", dt), types.ErrAlreadyCommitted)
}

func TestCommitRejectsImmutable(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	dt := Int32()
	dt.Lock(true)

	assert.ErrorIs(t, l.Commit(c, c.Root(), "int", dt), types.ErrImmutable)
	assert.Equal(t, StateImmutable, dt.State())
	assert.Equal(t, 1, c.Allocated())
}

func TestCommitRollsBackWhenLinkFails(t *testing.T) {
	c := &linkFailing{Container: memstore.New()}
	l := NewLifecycle()

	dt := mustCompound(t, 12,
		Member{Name: "s", Offset: 0, Type: NewVLenString(ASCII, NullTerm)},
		Member{Name: "n", Offset: 8, Type: Int32()})
	dt.Lock(false)
	before := dt.Copy()
	allocated := c.Allocated()

	err := l.Commit(c, c.Root(), "rec", dt)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCommitFailure)
	assert.ErrorIs(t, err, errLinkRefused)

	assert.Equal(t, StateReadOnly, dt.State())
	assert.False(t, dt.IsCommitted())
	assert.Equal(t, Location{}, dt.Location())
	assert.Equal(t, 12, dt.Size())
	assert.True(t, Equal(before, dt), "layout restored")
	assert.Equal(t, LocMemory, dt.Members()[0].Type.VLen().Loc)
	assert.Equal(t, 0, l.OpenCount(c.ID()))

	assert.Equal(t, allocated, c.Allocated(), "no storage left allocated")
	freed := c.lastAlloc
	_, err = c.ReadObjectHeader(freed)
	assert.ErrorIs(t, err, types.ErrBadAddress)

	reused, err := c.AllocateStorage(1)
	require.NoError(t, err)
	assert.Equal(t, freed, reused)
}

func TestOpenSharesRecord(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	dt := Float64()
	require.NoError(t, l.Commit(c, c.Root(), "f", dt))
	addr := dt.Location().Addr

	h2, err := l.Open(c, addr)
	require.NoError(t, err)
	assert.True(t, h2.SameRecord(dt))
	assert.Equal(t, 2, l.HandleCount(dt))
	assert.Equal(t, 1, l.OpenCount(c.ID()))

	require.NoError(t, l.Close(dt))
	assert.Equal(t, StateOpen, h2.State())
	assert.Equal(t, 1, l.HandleCount(h2))
	assert.ErrorIs(t, l.Close(dt), types.ErrHandleClosed)

	require.NoError(t, l.Close(h2))
	assert.Equal(t, StateNamed, h2.State())
	assert.Equal(t, 0, l.OpenCount(c.ID()))

	h3, err := l.Open(c, addr)
	require.NoError(t, err)
	assert.False(t, h3.SameRecord(h2), "evicted record is re-read")
	assert.True(t, Equal(h3, Float64()))
	require.NoError(t, l.Close(h3))
}

func TestOpenRejectsNonDatatype(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()

	_, err := l.Open(c, c.Root())
	assert.ErrorIs(t, err, types.ErrNotDatatype)

	_, err = l.Open(c, types.Address(4096))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestContainerCloseWaitsForLastType(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	a, b := Int32(), Int64()
	require.NoError(t, l.Commit(c, c.Root(), "a", a))
	require.NoError(t, l.Commit(c, c.Root(), "b", b))

	require.NoError(t, l.CloseContainer(c))
	assert.False(t, c.IsClosed())

	require.NoError(t, l.Close(a))
	assert.False(t, c.IsClosed())
	require.NoError(t, l.Close(b))
	assert.True(t, c.IsClosed())
}

func TestCommitRefusedWhileContainerClosing(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	a := Int32()
	require.NoError(t, l.Commit(c, c.Root(), "a", a))
	require.NoError(t, l.CloseContainer(c))
	allocated := c.Allocated()

	b := Int64()
	err := l.Commit(c, c.Root(), "b", b)
	assert.ErrorIs(t, err, types.ErrCommitFailure)
	assert.ErrorIs(t, err, types.ErrContainerClosed)

	assert.Equal(t, StateTransient, b.State())
	assert.False(t, b.IsCommitted())
	assert.Equal(t, allocated, c.Allocated())
	assert.Equal(t, 1, l.OpenCount(c.ID()))

	var names []string
	require.NoError(t, c.IterateLinks(c.Root(), func(lk types.Link) error {
		names = append(names, lk.Name)
		return nil
	}))
	assert.Equal(t, []string{"a"}, names)

	require.NoError(t, l.Close(a))
	assert.True(t, c.IsClosed())
}

func TestImmutableCloseOnlyAtShutdown(t *testing.T) {
	l := NewLifecycle()
	dt := Int32()
	dt.Lock(true)

	assert.ErrorIs(t, l.Close(dt), types.ErrImmutable)
	assert.False(t, dt.Closed())

	require.NoError(t, l.Shutdown())
	assert.NoError(t, l.Close(dt))
	assert.True(t, dt.Closed())
}

func TestShutdownReleasesOpenTypes(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	dt := Int16()
	require.NoError(t, l.Commit(c, c.Root(), "s", dt))
	require.NoError(t, l.CloseContainer(c))

	require.NoError(t, l.Shutdown())
	assert.Equal(t, StateNamed, dt.State())
	assert.True(t, c.IsClosed())
}

func TestNewMessage(t *testing.T) {
	c := memstore.New()
	l := NewLifecycle()
	dt := Int32()
	require.NoError(t, l.Commit(c, c.Root(), "i", dt))

	msg, err := NewMessage(c, dt)
	require.NoError(t, err)
	assert.Equal(t, dt.Location().Addr, msg.Committed)
	h, err := c.ReadObjectHeader(dt.Location().Addr)
	require.NoError(t, err)
	assert.Equal(t, 2, h.RefCount)

	inline, err := NewMessage(c, Float32())
	require.NoError(t, err)
	assert.False(t, inline.IsCommitted())
	got, err := Decode(inline.Encoded)
	require.NoError(t, err)
	assert.True(t, Equal(got, Float32()))
}
