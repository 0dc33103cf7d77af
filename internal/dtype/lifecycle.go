package dtype

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/openobj"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Lifecycle commits datatypes to containers and tracks the handles open on
// them. Two opens of the same address share one record; the record is
// evicted, and its container session released, when the last handle closes.
//
// A Lifecycle is not safe for concurrent use.
type Lifecycle struct {
	open     *openobj.Index[*shared]
	log      *zap.Logger
	shutdown bool
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger. The default discards output.
func WithLogger(log *zap.Logger) Option {
	return func(l *Lifecycle) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLifecycle returns a Lifecycle with no open types.
func NewLifecycle(opts ...Option) *Lifecycle {
	l := &Lifecycle{log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.open = openobj.New[*shared](l.log)
	return l
}

// Commit stores t in c and links it as name in group parent. On success t is
// open with one handle. If any step fails, storage written so far is freed
// and t is restored to exactly its state before the call.
func (l *Lifecycle) Commit(c types.Container, parent types.Address, name string, t *Datatype) error {
	if t.closed {
		return fmt.Errorf("commit %q: %w", name, types.ErrHandleClosed)
	}
	switch t.sh.state {
	case StateNamed, StateOpen:
		return fmt.Errorf("commit %q: %w", name, types.ErrAlreadyCommitted)
	case StateImmutable:
		return types.NewError(types.KindImmutable).Op("commit").Type(t).Detail("cannot commit %q", name).Build()
	}

	if l.open.Closing(c.ID()) {
		return types.NewError(types.KindCommitFailure).Op("commit").Type(t).
			Detail("cannot commit %q", name).Wrap(types.ErrContainerClosed).Build()
	}

	saved, savedState := t.sh.clone(), t.sh.state
	rollback := func(addr types.Address, allocated bool) {
		if allocated {
			if err := c.FreeStorage(addr); err != nil {
				l.log.Warn("free storage during commit rollback",
					zap.String("name", name), zap.Stringer("addr", addr), zap.Error(err))
			}
		}
		*t.sh = *saved
		t.sh.state = savedState
		t.loc = Location{}
		l.log.Debug("commit rolled back", zap.String("name", name), zap.Stringer("type", t))
	}

	t.setLoc(LocDisk, c.ID())
	enc, err := Encode(t)
	if err != nil {
		rollback(0, false)
		return types.NewError(types.KindCommitFailure).Op("commit").Type(t).Wrap(err).Build()
	}

	addr, err := c.AllocateStorage(len(enc))
	if err != nil {
		rollback(0, false)
		return types.NewError(types.KindAllocation).Op("commit").Type(t).Wrap(err).Build()
	}

	hdr := &types.ObjectHeader{
		Kind: types.ObjectNamedDatatype,
		Type: &types.DatatypeMessage{Encoded: enc, Committed: types.UndefAddress},
	}
	if err := c.WriteObjectHeader(addr, hdr); err != nil {
		rollback(addr, true)
		return types.NewError(types.KindCommitFailure).Op("commit").Type(t).At(addr).Wrap(err).Build()
	}

	// The record goes into the open index before the name is linked, so
	// nothing can fail once the type is discoverable.
	if err := l.open.Insert(c, addr, t.sh); err != nil {
		rollback(addr, true)
		return types.NewError(types.KindCommitFailure).Op("commit").Type(t).At(addr).Wrap(err).Build()
	}
	if err := c.LinkName(parent, name, addr); err != nil {
		if derr := l.open.Delete(openobj.Key{Container: c.ID(), Addr: addr}); derr != nil {
			l.log.Warn("evict record during commit rollback", zap.String("name", name), zap.Error(derr))
		}
		rollback(addr, true)
		return types.NewError(types.KindCommitFailure).Op("commit").Type(t).At(addr).
			Detail("link %q", name).Wrap(err).Build()
	}

	t.sh.state = StateOpen
	t.sh.handles = 1
	t.loc = Location{Container: c.ID(), Addr: addr}
	l.log.Debug("committed datatype",
		zap.String("name", name), zap.Stringer("type", t), zap.Stringer("addr", addr))
	return nil
}

// Open returns a handle on the named datatype at addr in c. If the type is
// already open the new handle shares its record and nothing is read.
func (l *Lifecycle) Open(c types.Container, addr types.Address) (*Datatype, error) {
	loc := Location{Container: c.ID(), Addr: addr}
	if sh, ok := l.open.Find(openobj.Key(loc)); ok {
		sh.handles++
		return &Datatype{sh: sh, loc: loc}, nil
	}

	hdr, err := c.ReadObjectHeader(addr)
	if err != nil {
		return nil, types.NewError(types.KindNotFound).Op("open datatype").At(addr).Wrap(err).Build()
	}
	if hdr.Kind != types.ObjectNamedDatatype || hdr.Type == nil {
		return nil, fmt.Errorf("open %s: %w", addr, types.ErrNotDatatype)
	}
	t, err := Decode(hdr.Type.Encoded)
	if err != nil {
		return nil, err
	}
	t.sh.state = StateOpen
	t.sh.handles = 1
	t.loc = loc
	if err := l.open.Insert(c, addr, t.sh); err != nil {
		return nil, err
	}
	return t, nil
}

// Close releases a handle. Closing the last handle on a committed type
// evicts its record. Immutable types cannot be closed until Shutdown.
func (l *Lifecycle) Close(t *Datatype) error {
	if t.closed {
		return types.ErrHandleClosed
	}
	switch t.sh.state {
	case StateImmutable:
		if !l.shutdown {
			return types.NewError(types.KindImmutable).Op("close").Type(t).Build()
		}
	case StateOpen:
		t.closed = true
		t.sh.handles--
		if t.sh.handles > 0 {
			return nil
		}
		t.sh.state = StateNamed
		return l.open.Delete(openobj.Key(t.loc))
	}
	t.closed = true
	return nil
}

// HandleCount returns the number of open handles sharing t's record.
func (l *Lifecycle) HandleCount(t *Datatype) int {
	return t.sh.handles
}

// OpenCount returns the number of committed types open in container id.
func (l *Lifecycle) OpenCount(id types.ContainerID) int {
	return l.open.OpenCount(id)
}

// CloseContainer closes c, deferring the close while types from c are open.
func (l *Lifecycle) CloseContainer(c types.Container) error {
	_, err := l.open.CloseContainer(c)
	return err
}

// Shutdown force-closes every open record. Containers whose close was
// deferred are closed as their last record goes.
func (l *Lifecycle) Shutdown() error {
	l.shutdown = true
	var first error
	for _, k := range l.open.Keys() {
		sh, _ := l.open.Find(k)
		sh.handles = 0
		sh.state = StateNamed
		if err := l.open.Delete(k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BoundCopy returns a transient copy of t with its variable-length parts and
// references bound to storage in container id.
func (t *Datatype) BoundCopy(id types.ContainerID) *Datatype {
	c := t.Copy()
	c.setLoc(LocDisk, id)
	return c
}

// NewMessage builds the datatype message an object in c stores for t. A type
// committed in c is referenced by address and its reference count goes up;
// any other type is stored inline.
func NewMessage(c types.Container, t *Datatype) (types.DatatypeMessage, error) {
	if t.IsCommitted() && t.loc.Container == c.ID() {
		enc, err := Encode(t)
		if err != nil {
			return types.DatatypeMessage{}, err
		}
		if err := IncrementRef(c, t.loc.Addr); err != nil {
			return types.DatatypeMessage{}, err
		}
		return types.DatatypeMessage{Encoded: enc, Committed: t.loc.Addr}, nil
	}
	enc, err := Encode(t.BoundCopy(c.ID()))
	if err != nil {
		return types.DatatypeMessage{}, err
	}
	return types.DatatypeMessage{Encoded: enc, Committed: types.UndefAddress}, nil
}

// IncrementRef adds one to the reference count of the object at addr.
func IncrementRef(c types.Container, addr types.Address) error {
	h, err := c.ReadObjectHeader(addr)
	if err != nil {
		return err
	}
	h.RefCount++
	return c.WriteObjectHeader(addr, h)
}
