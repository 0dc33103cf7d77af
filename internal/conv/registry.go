package conv

import (
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Stats accumulates the work done through one path.
type Stats struct {
	Calls    int64
	Elements int64
	Elapsed  time.Duration
}

// Path binds a pair of datatypes to the function converting between them.
// Paths are owned by the Registry; callers hold them only to pass them to
// Convert.
type Path struct {
	name  string
	src   *dtype.Datatype
	dst   *dtype.Datatype
	fn    Func
	hard  bool
	noop  bool
	cd    Data
	stats Stats
}

func (p *Path) Name() string         { return p.name }
func (p *Path) Src() *dtype.Datatype { return p.src }
func (p *Path) Dst() *dtype.Datatype { return p.dst }
func (p *Path) IsHard() bool         { return p.hard }
func (p *Path) Stats() Stats         { return p.stats }

// IsNoop reports whether converting through p leaves the data unchanged.
func (p *Path) IsNoop() bool {
	return p.noop || (p.hard && dtype.Compare(p.src, p.dst, false) == 0)
}

// NeedsBackground reports whether Convert reads the background buffer.
func (p *Path) NeedsBackground() bool { return p.cd.NeedBackground }

// Removed reports whether the path was unregistered, replaced or closed.
// A removed path cannot be used for conversion.
func (p *Path) Removed() bool { return p.fn == nil }

type softEntry struct {
	name string
	src  dtype.Class
	dst  dtype.Class
	fn   Func
}

// PathInfo is a snapshot of one path for listings.
type PathInfo struct {
	Name string
	Src  string
	Dst  string
	Hard bool
	Noop bool
	Stats
}

// SoftInfo is a snapshot of one soft registration.
type SoftInfo struct {
	Name string
	Src  dtype.Class
	Dst  dtype.Class
}

// Registry holds the soft function list and the path table. The table is
// sorted by source then destination type; index 0 always holds the no-op
// path.
//
// A Registry is not safe for concurrent use.
type Registry struct {
	paths    []*Path
	soft     []softEntry
	log      *zap.Logger
	builtins bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards output.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithoutBuiltins leaves the soft list empty instead of registering the
// built-in numeric, enum and compound conversions.
func WithoutBuiltins() Option {
	return func(r *Registry) {
		r.builtins = false
	}
}

// NewRegistry returns a registry holding the no-op path and, unless
// disabled, the built-in conversions.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{log: zap.NewNop(), builtins: true}
	for _, opt := range opts {
		opt(r)
	}
	noop := noopFunc{}
	r.paths = []*Path{{name: "no-op", fn: noop, noop: true}}
	if r.builtins {
		r.registerBuiltins()
	}
	return r
}

// Register adds a conversion function.
//
// A Hard function is bound to exactly the pair src, dst and replaces any
// existing path for it. Every other path is marked for recalculation.
// Registering a hard function for an identical pair does nothing, because
// such pairs always resolve to the no-op path.
//
// A Soft function applies to every pair whose classes match those of src
// and dst. Existing soft paths it can handle are rebuilt around it.
func (r *Registry) Register(pers Persistence, name string, src, dst *dtype.Datatype, fn Func) error {
	if name == "" || src == nil || dst == nil || fn == nil {
		return types.NewError(types.KindInvalid).Op("register conversion").Types(src, dst).
			Detail("name, types and function are required").Build()
	}
	switch pers {
	case Hard:
		return r.registerHard(name, src, dst, fn, true)
	case Soft:
		r.registerSoft(name, src.Class(), dst.Class(), fn)
		return nil
	default:
		return types.NewError(types.KindInvalid).Op("register conversion").Types(src, dst).
			Detail("persistence %s is not valid for registration", pers).Build()
	}
}

func (r *Registry) registerHard(name string, src, dst *dtype.Datatype, fn Func, app bool) error {
	if dtype.Compare(src, dst, false) == 0 {
		r.log.Debug("ignoring hard conversion for identical types",
			zap.String("name", name), zap.Stringer("type", src))
		return nil
	}
	p, err := r.findReal(src, dst, name, fn, app)
	if err != nil {
		return err
	}
	for _, q := range r.paths {
		if q != p {
			q.cd.Recalc = true
		}
	}
	r.log.Debug("registered hard conversion", zap.String("name", name),
		zap.Stringer("src", src), zap.Stringer("dst", dst), zap.Bool("api", app))
	return nil
}

func (r *Registry) registerSoft(name string, src, dst dtype.Class, fn Func) {
	r.soft = append(r.soft, softEntry{name: name, src: src, dst: dst, fn: fn})

	// Init may resolve nested paths and grow the table, so work from a
	// snapshot and find each old path again before swapping it out.
	snapshot := append([]*Path(nil), r.paths[1:]...)
	for _, old := range snapshot {
		if old.hard || old.Removed() || old.src.Class() != src || old.dst.Class() != dst {
			continue
		}
		s, d := old.src.Copy(), old.dst.Copy()
		var cd Data
		if err := fn.Init(s, d, &cd); err != nil {
			r.log.Debug("soft conversion does not apply to existing path",
				zap.String("name", name), zap.Stringer("src", s), zap.Stringer("dst", d), zap.Error(err))
			continue
		}
		i := r.indexOf(old)
		if i < 0 {
			_ = fn.Teardown(s, d, &cd)
			continue
		}
		r.paths[i] = &Path{name: name, src: s, dst: d, fn: fn, cd: cd}
		r.retire(old)
		r.log.Debug("replaced soft path", zap.String("old", old.name), zap.String("new", name),
			zap.Stringer("src", s), zap.Stringer("dst", d))
	}
}

// Unregister removes matching soft entries and paths. Empty name, nil
// types and nil fn match anything. Soft entries match on the classes of
// src and dst, paths on the types themselves. The no-op path is never
// removed. Paths that stay are marked for recalculation.
func (r *Registry) Unregister(pers Persistence, name string, src, dst *dtype.Datatype, fn Func) {
	if pers == DontCare || pers == Soft {
		kept := r.soft[:0]
		for _, e := range r.soft {
			if (name != "" && name != e.name) ||
				(src != nil && src.Class() != e.src) ||
				(dst != nil && dst.Class() != e.dst) ||
				(fn != nil && !sameFunc(fn, e.fn)) {
				kept = append(kept, e)
				continue
			}
			r.log.Debug("removed soft conversion", zap.String("name", e.name))
		}
		clear(r.soft[len(kept):])
		r.soft = kept
	}

	kept := r.paths[:1]
	for _, p := range r.paths[1:] {
		if (pers == Soft && p.hard) || (pers == Hard && !p.hard) ||
			(name != "" && name != p.name) ||
			(src != nil && dtype.Compare(src, p.src, false) != 0) ||
			(dst != nil && dtype.Compare(dst, p.dst, false) != 0) ||
			(fn != nil && !sameFunc(fn, p.fn)) {
			p.cd.Recalc = true
			kept = append(kept, p)
			continue
		}
		r.retire(p)
		r.log.Debug("removed conversion path", zap.String("name", p.name),
			zap.Stringer("src", p.src), zap.Stringer("dst", p.dst))
	}
	clear(r.paths[len(kept):])
	r.paths = kept
}

// retire tears a path's function down and marks the path removed.
func (r *Registry) retire(p *Path) {
	if p.fn == nil {
		return
	}
	if err := p.fn.Teardown(p.src, p.dst, &p.cd); err != nil {
		r.log.Warn("conversion teardown failed", zap.String("name", p.name),
			zap.Stringer("src", p.src), zap.Stringer("dst", p.dst), zap.Error(err))
	}
	p.fn = nil
	p.cd = Data{}
}

func (r *Registry) indexOf(p *Path) int {
	for i, q := range r.paths {
		if q == p {
			return i
		}
	}
	return -1
}

// Paths returns a snapshot of the path table in table order.
func (r *Registry) Paths() []PathInfo {
	out := make([]PathInfo, len(r.paths))
	for i, p := range r.paths {
		out[i] = PathInfo{Name: p.name, Hard: p.hard, Noop: p.noop, Stats: p.stats}
		if p.src != nil {
			out[i].Src, out[i].Dst = p.src.String(), p.dst.String()
		}
	}
	return out
}

// Soft returns the soft registrations in registration order.
func (r *Registry) Soft() []SoftInfo {
	out := make([]SoftInfo, len(r.soft))
	for i, e := range r.soft {
		out[i] = SoftInfo{Name: e.name, Src: e.src, Dst: e.dst}
	}
	return out
}

// Close tears down every path except the no-op path and forgets all soft
// registrations. Teardown failures are logged.
func (r *Registry) Close() {
	for _, p := range r.paths[1:] {
		r.retire(p)
	}
	clear(r.paths[1:])
	r.paths = r.paths[:1]
	r.soft = nil
}
