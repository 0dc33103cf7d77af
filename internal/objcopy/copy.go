// Package objcopy copies object subtrees between containers.
//
// Committed datatypes are copied like any other object unless merging is
// enabled, in which case a type already committed in the destination with
// the same structure is shared instead of duplicated.
package objcopy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Options controls a subtree copy.
type Options struct {
	// MergeCommittedTypes shares committed types that already exist in the
	// destination instead of copying them.
	MergeCommittedTypes bool

	// SuggestedPaths name committed types in the destination to index
	// before falling back to a walk of the whole destination. Paths that
	// do not resolve are ignored.
	SuggestedPaths []string

	// Search is asked before the destination is walked. Nil means always
	// walk.
	Search SearchFunc

	// WithoutAttributes drops attributes from copied objects.
	WithoutAttributes bool

	// Shallow copies the immediate members of the source group only.
	Shallow bool

	// ExpandSoftLinks copies the targets of soft links as objects. Soft
	// links that do not resolve are copied as links.
	ExpandSoftLinks bool

	Logger *zap.Logger
}

type copier struct {
	src, dst types.Container
	opts     Options
	log      *zap.Logger

	// copied maps source addresses to the destination objects made from
	// them, so an object reached twice is copied once.
	copied map[types.Address]types.Address
	dedup  *dedupIndex
}

// CopySubtree copies the object at srcObj in src, and everything reachable
// from it, into dst and links the copy as name in group dstParent. It
// returns the address of the new object.
func CopySubtree(src types.Container, srcObj types.Address, dst types.Container, dstParent types.Address, name string, opts Options) (types.Address, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &copier{
		src:    src,
		dst:    dst,
		opts:   opts,
		log:    log,
		copied: make(map[types.Address]types.Address),
	}
	if opts.MergeCommittedTypes {
		c.dedup = newDedupIndex(dst, opts.SuggestedPaths, opts.Search, log)
	}

	addr, err := c.object(srcObj, 0)
	if err != nil {
		return 0, fmt.Errorf("copy %s to %q: %w", srcObj, name, err)
	}
	if err := dst.LinkName(dstParent, name, addr); err != nil {
		return 0, fmt.Errorf("copy %s to %q: %w", srcObj, name, err)
	}
	log.Debug("copied subtree", zap.Stringer("src", srcObj), zap.Stringer("dst", addr),
		zap.String("name", name), zap.Int("objects", len(c.copied)))
	return addr, nil
}

// object copies the object at addr and returns its destination address.
// The copy starts with no references; the caller links it.
func (c *copier) object(addr types.Address, depth int) (types.Address, error) {
	if dstAddr, ok := c.copied[addr]; ok {
		return dstAddr, nil
	}
	h, err := c.src.ReadObjectHeader(addr)
	if err != nil {
		return 0, err
	}
	if h.Kind == types.ObjectNamedDatatype {
		return c.committed(addr, h)
	}

	out := &types.ObjectHeader{Kind: h.Kind, Data: h.Data}
	if h.Type != nil {
		msg, err := c.message(*h.Type)
		if err != nil {
			return 0, err
		}
		out.Type = &msg
	}
	if out.Attributes, err = c.attributes(h.Attributes); err != nil {
		return 0, err
	}

	dstAddr, err := c.write(addr, out)
	if err != nil {
		return 0, err
	}
	if h.Kind == types.ObjectGroup && (!c.opts.Shallow || depth == 0) {
		if err := c.links(addr, dstAddr, depth); err != nil {
			return 0, err
		}
	}
	return dstAddr, nil
}

func (c *copier) write(srcAddr types.Address, h *types.ObjectHeader) (types.Address, error) {
	dstAddr, err := c.dst.AllocateStorage(tree.HeaderSize(h))
	if err != nil {
		return 0, types.NewError(types.KindAllocation).Op("copy object").At(srcAddr).Wrap(err).Build()
	}
	if err := c.dst.WriteObjectHeader(dstAddr, h); err != nil {
		return 0, types.NewError(types.KindStorage).Op("copy object").At(dstAddr).Wrap(err).Build()
	}
	c.copied[srcAddr] = dstAddr
	return dstAddr, nil
}

func (c *copier) links(srcGroup, dstGroup types.Address, depth int) error {
	return c.src.IterateLinks(srcGroup, func(l types.Link) error {
		if l.Kind == types.LinkSoft {
			return c.softLink(dstGroup, l, depth)
		}
		child, err := c.object(l.Addr, depth+1)
		if err != nil {
			return fmt.Errorf("%s: %w", l.Name, err)
		}
		return c.dst.LinkName(dstGroup, l.Name, child)
	})
}

func (c *copier) softLink(dstGroup types.Address, l types.Link, depth int) error {
	if c.opts.ExpandSoftLinks {
		target, err := tree.Lookup(c.src, l.Target)
		if err == nil {
			child, err := c.object(target, depth+1)
			if err != nil {
				return fmt.Errorf("%s -> %s: %w", l.Name, l.Target, err)
			}
			return c.dst.LinkName(dstGroup, l.Name, child)
		}
		c.log.Debug("dangling soft link copied as link", zap.String("name", l.Name), zap.String("target", l.Target))
	}
	return c.dst.LinkSoft(dstGroup, l.Name, l.Target)
}

func (c *copier) attributes(attrs []types.Attribute) ([]types.Attribute, error) {
	if c.opts.WithoutAttributes || len(attrs) == 0 {
		return nil, nil
	}
	out := make([]types.Attribute, len(attrs))
	for i, a := range attrs {
		msg, err := c.message(a.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		out[i] = types.Attribute{Name: a.Name, Type: msg, Data: a.Data}
	}
	return out, nil
}

// message rewrites a datatype message for the destination. A reference to
// a committed type points at the type's destination copy and counts as one
// more reference to it.
func (c *copier) message(m types.DatatypeMessage) (types.DatatypeMessage, error) {
	t, err := dtype.Decode(m.Encoded)
	if err != nil {
		return types.DatatypeMessage{}, err
	}
	enc, err := dtype.Encode(t.BoundCopy(c.dst.ID()))
	if err != nil {
		return types.DatatypeMessage{}, err
	}
	if !m.IsCommitted() {
		return types.DatatypeMessage{Encoded: enc, Committed: types.UndefAddress}, nil
	}

	addr, err := c.committedAt(m.Committed)
	if err != nil {
		return types.DatatypeMessage{}, err
	}
	if err := dtype.IncrementRef(c.dst, addr); err != nil {
		return types.DatatypeMessage{}, fmt.Errorf("reference committed type %s: %w", addr, err)
	}
	return types.DatatypeMessage{Encoded: enc, Committed: addr}, nil
}

func (c *copier) committedAt(addr types.Address) (types.Address, error) {
	if dstAddr, ok := c.copied[addr]; ok {
		return dstAddr, nil
	}
	h, err := c.src.ReadObjectHeader(addr)
	if err != nil {
		return 0, err
	}
	if h.Kind != types.ObjectNamedDatatype || h.Type == nil {
		return 0, fmt.Errorf("%s: %w", addr, types.ErrNotDatatype)
	}
	return c.committed(addr, h)
}

// committed copies the named datatype at addr, or with merging enabled
// finds an equal type already in the destination.
func (c *copier) committed(addr types.Address, h *types.ObjectHeader) (types.Address, error) {
	if dstAddr, ok := c.copied[addr]; ok {
		return dstAddr, nil
	}
	t, err := dtype.Decode(h.Type.Encoded)
	if err != nil {
		return 0, err
	}
	key := t.BoundCopy(c.dst.ID())

	if c.dedup != nil {
		if c.src.ID() == c.dst.ID() {
			c.copied[addr] = addr
			return addr, nil
		}
		dstAddr, ok, err := c.dedup.lookup(key)
		if err != nil {
			return 0, err
		}
		if ok {
			c.log.Debug("merged committed type", zap.Stringer("type", key),
				zap.Stringer("src", addr), zap.Stringer("dst", dstAddr))
			c.copied[addr] = dstAddr
			return dstAddr, nil
		}
		c.log.Debug("no committed type to merge with", zap.Stringer("type", key))
	}

	enc, err := dtype.Encode(key)
	if err != nil {
		return 0, err
	}
	out := &types.ObjectHeader{
		Kind: types.ObjectNamedDatatype,
		Type: &types.DatatypeMessage{Encoded: enc, Committed: types.UndefAddress},
	}
	if out.Attributes, err = c.attributes(h.Attributes); err != nil {
		return 0, err
	}
	dstAddr, err := c.write(addr, out)
	if err != nil {
		return 0, err
	}
	if c.dedup != nil {
		c.dedup.insert(key, dstAddr)
	}
	return dstAddr, nil
}
