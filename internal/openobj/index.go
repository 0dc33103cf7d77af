// Package openobj tracks the objects held open in each container.
//
// Every open object has one shared record, keyed by container and address,
// that all of its handles point at. Each container also counts its open
// objects. A container whose close was requested while objects were still
// open is closed when its last object is released.
package openobj

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Key identifies an object by container and address.
type Key struct {
	Container types.ContainerID
	Addr      types.Address
}

func (k Key) String() string {
	return fmt.Sprintf("%s%s", k.Container, k.Addr)
}

type session struct {
	container types.Container
	open      int
	closing   bool
}

// Index maps open objects to their shared record.
type Index[V any] struct {
	records  map[Key]V
	sessions map[types.ContainerID]*session
	log      *zap.Logger
}

// New returns an empty index. A nil logger discards output.
func New[V any](log *zap.Logger) *Index[V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index[V]{
		records:  make(map[Key]V),
		sessions: make(map[types.ContainerID]*session),
		log:      log,
	}
}

// Find returns the record for k.
func (x *Index[V]) Find(k Key) (V, bool) {
	v, ok := x.records[k]
	return v, ok
}

// Insert adds the record for an object of c at addr and counts it against
// the container's session.
func (x *Index[V]) Insert(c types.Container, addr types.Address, v V) error {
	k := Key{Container: c.ID(), Addr: addr}
	if _, ok := x.records[k]; ok {
		return fmt.Errorf("insert %s: object is already open", k)
	}
	s, ok := x.sessions[k.Container]
	if !ok {
		s = &session{container: c}
		x.sessions[k.Container] = s
	}
	if s.closing {
		return fmt.Errorf("insert %s: %w", k, types.ErrContainerClosed)
	}
	x.records[k] = v
	s.open++
	return nil
}

// Delete evicts the record for k and releases it from its container's
// session. When that was the last open object of a container whose close was
// requested, the container is closed.
func (x *Index[V]) Delete(k Key) error {
	if _, ok := x.records[k]; !ok {
		return fmt.Errorf("delete %s: object is not open", k)
	}
	delete(x.records, k)

	s := x.sessions[k.Container]
	s.open--
	if s.open > 0 {
		return nil
	}
	delete(x.sessions, k.Container)
	if s.closing {
		x.log.Debug("closing container after last object released", zap.String("container", string(k.Container)))
		return s.container.Close()
	}
	return nil
}

// Closing reports whether a close of container id is pending. No new object
// of such a container can be opened.
func (x *Index[V]) Closing(id types.ContainerID) bool {
	s, ok := x.sessions[id]
	return ok && s.closing
}

// Len returns the number of open objects.
func (x *Index[V]) Len() int {
	return len(x.records)
}

// OpenCount returns the number of open objects in container id.
func (x *Index[V]) OpenCount(id types.ContainerID) int {
	if s, ok := x.sessions[id]; ok {
		return s.open
	}
	return 0
}

// CloseContainer closes c now when none of its objects are open, and
// otherwise defers the close until the last one is released. It reports
// whether the close happened immediately.
func (x *Index[V]) CloseContainer(c types.Container) (bool, error) {
	s, ok := x.sessions[c.ID()]
	if !ok || s.open == 0 {
		return true, c.Close()
	}
	s.closing = true
	x.log.Debug("deferring container close",
		zap.String("container", string(c.ID())),
		zap.Int("open", s.open))
	return false, nil
}

// Keys returns the keys of all open objects in a stable order.
func (x *Index[V]) Keys() []Key {
	return slices.SortedFunc(maps.Keys(x.records), func(a, b Key) int {
		return cmp.Or(cmp.Compare(a.Container, b.Container), cmp.Compare(a.Addr, b.Addr))
	})
}
