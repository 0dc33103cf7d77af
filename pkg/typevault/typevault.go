// Package typevault is the public API for comparing, converting, committing
// and copying datatypes.
//
// All state lives in a Library created with New and released with Shutdown:
// the conversion registry with its cached paths and the index of committed
// types that are open. A Library is not safe for concurrent use.
//
// Example:
//
//	lib := typevault.New(typevault.WithLogger(log))
//	defer lib.Shutdown()
//
//	c, _ := sqlite.Open("types.tvdb")
//	defer lib.CloseContainer(c)
//	if err := lib.CommitType(c, c.Root(), "point", point); err != nil {
//	    return err
//	}
package typevault

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/conv"
	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/internal/memstore"
	"github.com/mesh-intelligence/typevault/internal/objcopy"
	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Version is the library version.
const Version = "0.1.0"

// Re-exported domain types.
type (
	Datatype     = dtype.Datatype
	Class        = dtype.Class
	Persistence  = conv.Persistence
	Func         = conv.Func
	Funcs        = conv.Funcs
	ConvData     = conv.Data
	Buffers      = conv.Buffers
	Path         = conv.Path
	PathInfo     = conv.PathInfo
	SoftInfo     = conv.SoftInfo
	CopyOptions  = objcopy.Options
	SearchFunc   = objcopy.SearchFunc
	SearchAction = objcopy.SearchAction
)

// Persistence values.
const (
	DontCare = conv.DontCare
	Hard     = conv.Hard
	Soft     = conv.Soft
)

// Search callback results.
const (
	SearchContinue = objcopy.SearchContinue
	SearchStop     = objcopy.SearchStop
)

// FuncOf wraps a stateless apply function as a Func.
func FuncOf(apply func(src, dst *Datatype, b Buffers) error) *Funcs {
	return conv.FuncOf(apply)
}

// Library owns the conversion registry and the open-type index.
type Library struct {
	log      *zap.Logger
	registry *conv.Registry
	types    *dtype.Lifecycle
	down     bool
}

// Option configures a Library.
type Option func(*libraryOptions)

type libraryOptions struct {
	log      *zap.Logger
	builtins bool
}

// WithLogger sets the logger used by every part of the library.
func WithLogger(log *zap.Logger) Option {
	return func(o *libraryOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithoutBuiltins starts with an empty soft list, leaving only the no-op
// path registered.
func WithoutBuiltins() Option {
	return func(o *libraryOptions) { o.builtins = false }
}

// New initializes a Library and registers the built-in conversions.
func New(opts ...Option) *Library {
	o := libraryOptions{log: zap.NewNop(), builtins: true}
	for _, opt := range opts {
		opt(&o)
	}
	regOpts := []conv.Option{conv.WithLogger(o.log.Named("conv"))}
	if !o.builtins {
		regOpts = append(regOpts, conv.WithoutBuiltins())
	}
	return &Library{
		log:      o.log,
		registry: conv.NewRegistry(regOpts...),
		types:    dtype.NewLifecycle(dtype.WithLogger(o.log.Named("types"))),
	}
}

// Shutdown tears down every conversion path and force-closes every open
// committed type, immutable ones included. Containers whose close was
// deferred are closed. Shutdown is idempotent.
func (l *Library) Shutdown() error {
	if l.down {
		return nil
	}
	l.down = true
	l.registry.Close()
	err := l.types.Shutdown()
	l.log.Debug("library shut down")
	return err
}

// NewMemoryContainer returns an empty in-memory container.
func NewMemoryContainer() types.Container {
	return memstore.New()
}

// CompareTypes orders two datatypes. It returns 0 when they are
// structurally equivalent. With superset set, a compound or enum a that
// holds a subset of b's members compares equal.
func (l *Library) CompareTypes(a, b *Datatype, superset bool) int {
	return dtype.Compare(a, b, superset)
}

// RegisterConversion adds a conversion function. Hard functions bind an
// exact type pair; soft functions bind a class pair and are probed when no
// hard function applies.
func (l *Library) RegisterConversion(pers Persistence, name string, src, dst *Datatype, fn Func) error {
	return l.registry.Register(pers, name, src, dst, fn)
}

// UnregisterConversion removes the functions and cached paths matching
// every non-zero criterion.
func (l *Library) UnregisterConversion(pers Persistence, name string, src, dst *Datatype, fn Func) {
	l.registry.Unregister(pers, name, src, dst, fn)
}

// FindConversionPath returns the path converting src to dst, building and
// caching it on first use.
func (l *Library) FindConversionPath(src, dst *Datatype) (*Path, error) {
	return l.registry.Find(src, dst)
}

// IsNoopConversion reports whether converting src to dst leaves the bytes
// alone.
func (l *Library) IsNoopConversion(src, dst *Datatype) (bool, error) {
	return l.registry.IsNoop(src, dst)
}

// Convert converts n elements in buf in place along p. bkg holds
// destination values for conversions that need a background buffer.
func (l *Library) Convert(p *Path, n int, buf, bkg []byte) error {
	return l.registry.Convert(p, n, buf, bkg)
}

// ConversionPaths lists the cached paths.
func (l *Library) ConversionPaths() []PathInfo { return l.registry.Paths() }

// SoftConversions lists the soft functions in registration order.
func (l *Library) SoftConversions() []SoftInfo { return l.registry.Soft() }

// CommitType stores dt in c and links it as name in group parent. On
// success dt is open; close it with CloseType.
func (l *Library) CommitType(c types.Container, parent types.Address, name string, dt *Datatype) error {
	return l.types.Commit(c, parent, name, dt)
}

// OpenType opens the committed type at addr in c.
func (l *Library) OpenType(c types.Container, addr types.Address) (*Datatype, error) {
	return l.types.Open(c, addr)
}

// OpenTypeByPath opens the committed type linked at path in c.
func (l *Library) OpenTypeByPath(c types.Container, path string) (*Datatype, error) {
	addr, err := tree.Lookup(c, path)
	if err != nil {
		return nil, fmt.Errorf("open type %s: %w", path, err)
	}
	return l.types.Open(c, addr)
}

// CloseType releases one handle on dt.
func (l *Library) CloseType(dt *Datatype) error {
	return l.types.Close(dt)
}

// CloseContainer closes c once no committed type from it is open.
func (l *Library) CloseContainer(c types.Container) error {
	return l.types.CloseContainer(c)
}

// CopySubtree copies the object at srcObj, and everything reachable from
// it, into dst as name in group dstParent.
func (l *Library) CopySubtree(src types.Container, srcObj types.Address, dst types.Container, dstParent types.Address, name string, opts CopyOptions) (types.Address, error) {
	if opts.Logger == nil {
		opts.Logger = l.log.Named("copy")
	}
	return objcopy.CopySubtree(src, srcObj, dst, dstParent, name, opts)
}

// Lookup resolves an absolute path in c.
func (l *Library) Lookup(c types.Container, path string) (types.Address, error) {
	return tree.Lookup(c, path)
}

// CreateGroup creates every missing group along path and returns the last.
func (l *Library) CreateGroup(c types.Container, path string) (types.Address, error) {
	return tree.MkdirAll(c, path)
}

// CreateDataset creates a dataset of type dt holding data and links it as
// name in group parent. A dt committed in c is referenced, not copied.
func (l *Library) CreateDataset(c types.Container, parent types.Address, name string, dt *Datatype, data []byte) (types.Address, error) {
	msg, err := dtype.NewMessage(c, dt)
	if err != nil {
		return 0, fmt.Errorf("create dataset %q: %w", name, err)
	}
	addr, err := tree.Create(c, parent, name, &types.ObjectHeader{Kind: types.ObjectDataset, Type: &msg, Data: data})
	if err != nil {
		return 0, errors.Join(fmt.Errorf("create dataset %q: %w", name, err), dropRef(c, msg))
	}
	return addr, nil
}

// SetAttribute sets attribute name of type dt on the object at addr.
func (l *Library) SetAttribute(c types.Container, addr types.Address, name string, dt *Datatype, data []byte) error {
	msg, err := dtype.NewMessage(c, dt)
	if err != nil {
		return fmt.Errorf("set attribute %q: %w", name, err)
	}
	if err := tree.SetAttribute(c, addr, types.Attribute{Name: name, Type: msg, Data: data}); err != nil {
		return errors.Join(fmt.Errorf("set attribute %q: %w", name, err), dropRef(c, msg))
	}
	return nil
}

// dropRef undoes the reference NewMessage took on a committed type.
func dropRef(c types.Container, msg types.DatatypeMessage) error {
	if !msg.IsCommitted() {
		return nil
	}
	h, err := c.ReadObjectHeader(msg.Committed)
	if err != nil {
		return err
	}
	h.RefCount--
	return c.WriteObjectHeader(msg.Committed, h)
}
