// Package memstore implements an in-memory Container. Storage is handed out
// first-fit from a free list, so freed addresses are reused by later
// allocations of the same or smaller size.
package memstore

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// firstAddress leaves room for a superblock the way file-backed containers do.
const firstAddress types.Address = 64

// rootSize is the space reserved for the root group header.
const rootSize = 64

type block struct {
	addr types.Address
	size int
}

// Container keeps object headers in memory.
type Container struct {
	mu      sync.RWMutex
	id      types.ContainerID
	root    types.Address
	closed  bool
	headers map[types.Address]*types.ObjectHeader
	blocks  map[types.Address]int
	free    []block
	next    types.Address
}

var _ types.Container = (*Container)(nil)

// New creates an empty container holding only its root group.
func New() *Container {
	c := &Container{
		id:      types.NewContainerID(),
		headers: make(map[types.Address]*types.ObjectHeader),
		blocks:  make(map[types.Address]int),
		next:    firstAddress,
	}
	c.root = c.allocate(rootSize)
	c.headers[c.root] = &types.ObjectHeader{Kind: types.ObjectGroup, RefCount: 1}
	return c
}

func (c *Container) ID() types.ContainerID { return c.id }
func (c *Container) Root() types.Address   { return c.root }

// ReadObjectHeader returns a copy of the header at addr.
func (c *Container) ReadObjectHeader(addr types.Address) (*types.ObjectHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, types.ErrContainerClosed
	}
	h, ok := c.headers[addr]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", addr, types.ErrBadAddress)
	}
	return h.Clone(), nil
}

// WriteObjectHeader stores a copy of h at the allocated address addr.
func (c *Container) WriteObjectHeader(addr types.Address, h *types.ObjectHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrContainerClosed
	}
	if _, ok := c.blocks[addr]; !ok {
		return fmt.Errorf("write %s: %w", addr, types.ErrBadAddress)
	}
	c.headers[addr] = h.Clone()
	return nil
}

// AllocateStorage reserves size bytes, reusing the lowest freed block that
// fits.
func (c *Container) AllocateStorage(size int) (types.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, types.ErrContainerClosed
	}
	if size <= 0 {
		size = 1
	}
	return c.allocate(size), nil
}

func (c *Container) allocate(size int) types.Address {
	for i, b := range c.free {
		if b.size < size {
			continue
		}
		if b.size == size {
			c.free = slices.Delete(c.free, i, i+1)
		} else {
			c.free[i] = block{addr: b.addr + types.Address(size), size: b.size - size}
		}
		c.blocks[b.addr] = size
		return b.addr
	}
	addr := c.next
	c.next += types.Address(size)
	c.blocks[addr] = size
	return addr
}

// FreeStorage releases addr and drops any header stored there.
func (c *Container) FreeStorage(addr types.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrContainerClosed
	}
	size, ok := c.blocks[addr]
	if !ok {
		return fmt.Errorf("free %s: %w", addr, types.ErrBadAddress)
	}
	delete(c.blocks, addr)
	delete(c.headers, addr)

	i, _ := slices.BinarySearchFunc(c.free, addr, func(b block, a types.Address) int {
		return cmp.Compare(b.addr, a)
	})
	c.free = slices.Insert(c.free, i, block{addr: addr, size: size})
	c.coalesce(i)
	return nil
}

// coalesce merges the free block at i with its neighbours.
func (c *Container) coalesce(i int) {
	if i+1 < len(c.free) && c.free[i].addr+types.Address(c.free[i].size) == c.free[i+1].addr {
		c.free[i].size += c.free[i+1].size
		c.free = slices.Delete(c.free, i+1, i+2)
	}
	if i > 0 && c.free[i-1].addr+types.Address(c.free[i-1].size) == c.free[i].addr {
		c.free[i-1].size += c.free[i].size
		c.free = slices.Delete(c.free, i, i+1)
	}
}

// LinkName adds a hard link and increments the target's reference count.
func (c *Container) LinkName(parent types.Address, name string, addr types.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.groupLocked(parent, name)
	if err != nil {
		return err
	}
	target, ok := c.headers[addr]
	if !ok {
		return fmt.Errorf("link %q: %w", name, types.ErrBadAddress)
	}
	target.RefCount++
	g.Links = insertLink(g.Links, types.Link{Name: name, Kind: types.LinkHard, Addr: addr})
	return nil
}

// LinkSoft adds a soft link to a path.
func (c *Container) LinkSoft(parent types.Address, name, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.groupLocked(parent, name)
	if err != nil {
		return err
	}
	g.Links = insertLink(g.Links, types.Link{Name: name, Kind: types.LinkSoft, Target: target})
	return nil
}

func (c *Container) groupLocked(parent types.Address, name string) (*types.ObjectHeader, error) {
	if c.closed {
		return nil, types.ErrContainerClosed
	}
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("link %q: invalid name", name)
	}
	g, ok := c.headers[parent]
	if !ok {
		return nil, fmt.Errorf("link %q in %s: %w", name, parent, types.ErrBadAddress)
	}
	if g.Kind != types.ObjectGroup {
		return nil, fmt.Errorf("link %q in %s: %w", name, parent, types.ErrNotGroup)
	}
	for _, l := range g.Links {
		if l.Name == name {
			return nil, fmt.Errorf("link %q: %w", name, types.ErrLinkExists)
		}
	}
	return g, nil
}

func insertLink(links []types.Link, l types.Link) []types.Link {
	i, _ := slices.BinarySearchFunc(links, l.Name, func(x types.Link, name string) int {
		return strings.Compare(x.Name, name)
	})
	return slices.Insert(links, i, l)
}

// IterateLinks calls fn for each link of group in name order. fn may call
// back into the container.
func (c *Container) IterateLinks(group types.Address, fn func(types.Link) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return types.ErrContainerClosed
	}
	g, ok := c.headers[group]
	if !ok {
		c.mu.RUnlock()
		return fmt.Errorf("iterate %s: %w", group, types.ErrBadAddress)
	}
	if g.Kind != types.ObjectGroup {
		c.mu.RUnlock()
		return fmt.Errorf("iterate %s: %w", group, types.ErrNotGroup)
	}
	links := slices.Clone(g.Links)
	c.mu.RUnlock()

	for _, l := range links {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the container closed. Close is idempotent.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Container) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Allocated returns the number of live allocations, the root group included.
func (c *Container) Allocated() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}
