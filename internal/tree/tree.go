// Package tree navigates and populates the group hierarchy of a container.
// Paths are slash separated and always relative to the root group; a
// leading slash is optional.
package tree

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// maxSoftLinks bounds how many soft links one lookup follows.
const maxSoftLinks = 16

var errStop = errors.New("stop")

// Split cleans p and returns its parent path and final name.
func Split(p string) (dir, name string) {
	p = Clean(p)
	i := strings.LastIndex(p, "/")
	return p[:i+1], p[i+1:]
}

// Clean returns p in absolute, slash-cleaned form.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Child returns the link called name in group.
func Child(c types.Container, group types.Address, name string) (types.Link, error) {
	var found *types.Link
	err := c.IterateLinks(group, func(l types.Link) error {
		if l.Name == name {
			found = &l
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return types.Link{}, err
	}
	if found == nil {
		return types.Link{}, types.NewError(types.KindNotFound).Op("lookup").At(group).
			Detail("no link %q", name).Build()
	}
	return *found, nil
}

// Lookup resolves p to an object address, following soft links.
func Lookup(c types.Container, p string) (types.Address, error) {
	return lookup(c, p, 0)
}

func lookup(c types.Container, p string, hops int) (types.Address, error) {
	addr := c.Root()
	for _, name := range components(p) {
		l, err := Child(c, addr, name)
		if err != nil {
			return 0, fmt.Errorf("lookup %s: %w", Clean(p), err)
		}
		if l.Kind == types.LinkSoft {
			if hops >= maxSoftLinks {
				return 0, types.NewError(types.KindInvalid).Op("lookup").
					Detail("too many soft links resolving %s", Clean(p)).Build()
			}
			if addr, err = lookup(c, l.Target, hops+1); err != nil {
				return 0, err
			}
			continue
		}
		addr = l.Addr
	}
	return addr, nil
}

func components(p string) []string {
	p = strings.Trim(Clean(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// CreateGroup creates an empty group and links it as name in parent.
func CreateGroup(c types.Container, parent types.Address, name string) (types.Address, error) {
	return Create(c, parent, name, &types.ObjectHeader{Kind: types.ObjectGroup})
}

// Create stores h as a new object and links it as name in parent. The
// object's reference count starts at the one link.
func Create(c types.Container, parent types.Address, name string, h *types.ObjectHeader) (types.Address, error) {
	h = h.Clone()
	h.RefCount = 0
	addr, err := c.AllocateStorage(HeaderSize(h))
	if err != nil {
		return 0, types.NewError(types.KindAllocation).Op("create " + h.Kind.String()).Wrap(err).Build()
	}
	if err := c.WriteObjectHeader(addr, h); err != nil {
		_ = c.FreeStorage(addr)
		return 0, types.NewError(types.KindStorage).Op("create "+h.Kind.String()).At(addr).Wrap(err).Build()
	}
	if err := c.LinkName(parent, name, addr); err != nil {
		_ = c.FreeStorage(addr)
		return 0, fmt.Errorf("create %s %q: %w", h.Kind, name, err)
	}
	return addr, nil
}

// MkdirAll returns the group at p, creating it and any missing parents.
func MkdirAll(c types.Container, p string) (types.Address, error) {
	addr := c.Root()
	for _, name := range components(p) {
		l, err := Child(c, addr, name)
		switch {
		case err == nil && l.Kind == types.LinkHard:
			addr = l.Addr
		case err == nil:
			return 0, fmt.Errorf("mkdir %s: %q is a soft link", Clean(p), name)
		case errors.Is(err, types.ErrNotFound):
			if addr, err = CreateGroup(c, addr, name); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
	}
	return addr, nil
}

// HeaderSize estimates the storage an object header occupies.
func HeaderSize(h *types.ObjectHeader) int {
	n := 32 + len(h.Data)
	if h.Type != nil {
		n += len(h.Type.Encoded)
	}
	for _, a := range h.Attributes {
		n += len(a.Name) + len(a.Type.Encoded) + len(a.Data)
	}
	return n
}

// SetAttribute adds or replaces attribute a on the object at addr.
func SetAttribute(c types.Container, addr types.Address, a types.Attribute) error {
	h, err := c.ReadObjectHeader(addr)
	if err != nil {
		return err
	}
	replaced := false
	for i := range h.Attributes {
		if h.Attributes[i].Name == a.Name {
			h.Attributes[i] = a
			replaced = true
		}
	}
	if !replaced {
		h.Attributes = append(h.Attributes, a)
	}
	return c.WriteObjectHeader(addr, h)
}

// Visit is called for each object Walk reaches.
type Visit func(p string, addr types.Address, h *types.ObjectHeader) error

// Walk visits root and every object reachable from it through hard links,
// each once, in name order. Soft links are not followed.
func Walk(c types.Container, root types.Address, fn Visit) error {
	seen := make(map[types.Address]bool)
	return walk(c, "/", root, seen, fn)
}

func walk(c types.Container, p string, addr types.Address, seen map[types.Address]bool, fn Visit) error {
	if seen[addr] {
		return nil
	}
	seen[addr] = true
	h, err := c.ReadObjectHeader(addr)
	if err != nil {
		return fmt.Errorf("walk %s: %w", p, err)
	}
	if err := fn(p, addr, h); err != nil {
		return err
	}
	if h.Kind != types.ObjectGroup {
		return nil
	}
	return c.IterateLinks(addr, func(l types.Link) error {
		if l.Kind != types.LinkHard {
			return nil
		}
		return walk(c, path.Join(p, l.Name), l.Addr, seen, fn)
	})
}
