package objcopy

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// SearchAction tells a copy what to do when no committed type matching a
// source type has been found yet.
type SearchAction int

const (
	// SearchContinue walks the whole destination looking for a match.
	SearchContinue SearchAction = iota
	// SearchStop gives up and copies the type.
	SearchStop
)

// SearchFunc is consulted when a committed type misses the index, until the
// destination has been walked. An error aborts the copy, and so does an
// action other than SearchContinue or SearchStop.
type SearchFunc func() (SearchAction, error)

type dedupEntry struct {
	container types.ContainerID
	key       *dtype.Datatype
	addr      types.Address
}

func compareEntry(a dedupEntry, container types.ContainerID, key *dtype.Datatype) int {
	return cmp.Or(cmp.Compare(a.container, container), dtype.Compare(a.key, key, false))
}

// dedupIndex maps committed types in the destination container to their
// addresses. It is built lazily on the first search: suggested paths seed
// it, and the full destination is walked once when a search misses.
type dedupIndex struct {
	dst         types.Container
	entries     []dedupEntry
	initialized bool
	complete    bool
	suggested   []string
	search      SearchFunc
	log         *zap.Logger
}

func newDedupIndex(dst types.Container, suggested []string, search SearchFunc, log *zap.Logger) *dedupIndex {
	return &dedupIndex{dst: dst, suggested: suggested, search: search, log: log}
}

// insert adds key unless an equal key is already present.
func (x *dedupIndex) insert(key *dtype.Datatype, addr types.Address) {
	id := x.dst.ID()
	i, found := slices.BinarySearchFunc(x.entries, key, func(e dedupEntry, k *dtype.Datatype) int {
		return compareEntry(e, id, k)
	})
	if found {
		return
	}
	x.entries = slices.Insert(x.entries, i, dedupEntry{container: id, key: key, addr: addr})
}

func (x *dedupIndex) find(key *dtype.Datatype) (types.Address, bool) {
	id := x.dst.ID()
	i, found := slices.BinarySearchFunc(x.entries, key, func(e dedupEntry, k *dtype.Datatype) int {
		return compareEntry(e, id, k)
	})
	if !found {
		return 0, false
	}
	return x.entries[i].addr, true
}

// lookup returns the destination address of a committed type structurally
// equal to key.
func (x *dedupIndex) lookup(key *dtype.Datatype) (types.Address, bool, error) {
	if !x.initialized {
		x.initialized = true
		for _, p := range x.suggested {
			addr, err := tree.Lookup(x.dst, p)
			if err != nil {
				x.log.Debug("suggested committed type path not found", zap.String("path", p), zap.Error(err))
				continue
			}
			if err := x.checkObject(addr); err != nil {
				x.log.Debug("suggested path not indexed", zap.String("path", p), zap.Error(err))
			}
		}
		if len(x.suggested) == 0 {
			if err := x.walk(); err != nil {
				return 0, false, err
			}
		}
	}

	if addr, ok := x.find(key); ok {
		return addr, true, nil
	}
	if x.complete {
		return 0, false, nil
	}

	action := SearchContinue
	if x.search != nil {
		var err error
		if action, err = x.search(); err != nil {
			return 0, false, fmt.Errorf("committed type search callback: %w", err)
		}
	}
	switch action {
	case SearchContinue:
	case SearchStop:
		x.log.Debug("committed type search stopped by callback", zap.Stringer("type", key))
		return 0, false, nil
	default:
		return 0, false, types.NewError(types.KindInvalid).Op("search committed types").
			Detail("unknown search action %d", action).Build()
	}
	if err := x.walk(); err != nil {
		return 0, false, err
	}
	addr, ok := x.find(key)
	return addr, ok, nil
}

// walk indexes every committed type reachable from the destination root.
func (x *dedupIndex) walk() error {
	x.log.Debug("indexing committed types in destination", zap.String("container", string(x.dst.ID())))
	err := tree.Walk(x.dst, x.dst.Root(), func(p string, addr types.Address, h *types.ObjectHeader) error {
		if err := x.checkHeader(addr, h); err != nil {
			x.log.Debug("skipping undecodable datatype", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index destination: %w", err)
	}
	x.complete = true
	return nil
}

func (x *dedupIndex) checkObject(addr types.Address) error {
	h, err := x.dst.ReadObjectHeader(addr)
	if err != nil {
		return err
	}
	return x.checkHeader(addr, h)
}

// checkHeader indexes the committed types an object is or refers to,
// including those only its attributes use.
func (x *dedupIndex) checkHeader(addr types.Address, h *types.ObjectHeader) error {
	var errs []error
	switch {
	case h.Kind == types.ObjectNamedDatatype && h.Type != nil:
		errs = append(errs, x.index(h.Type.Encoded, addr))
	case h.Kind == types.ObjectDataset && h.Type != nil && h.Type.IsCommitted():
		errs = append(errs, x.index(h.Type.Encoded, h.Type.Committed))
	}
	for _, a := range h.Attributes {
		if a.Type.IsCommitted() {
			errs = append(errs, x.index(a.Type.Encoded, a.Type.Committed))
		}
	}
	return errors.Join(errs...)
}

func (x *dedupIndex) index(encoded []byte, addr types.Address) error {
	t, err := dtype.Decode(encoded)
	if err != nil {
		return fmt.Errorf("index %s: %w", addr, err)
	}
	x.insert(t, addr)
	return nil
}
