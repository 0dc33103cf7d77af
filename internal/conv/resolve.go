package conv

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Find returns the path converting src to dst, resolving it on first use.
// Resolving the same pair again returns the same path.
func (r *Registry) Find(src, dst *dtype.Datatype) (*Path, error) {
	if src == nil || dst == nil {
		return nil, types.NewError(types.KindInvalid).Op("find conversion").Types(src, dst).
			Detail("source and destination are required").Build()
	}
	return r.findReal(src, dst, "", nil, false)
}

// IsNoop reports whether src to dst resolves to a path that leaves data
// unchanged.
func (r *Registry) IsNoop(src, dst *dtype.Datatype) (bool, error) {
	p, err := r.Find(src, dst)
	if err != nil {
		return false, err
	}
	return p.IsNoop(), nil
}

// search binary-searches the table, skipping the no-op path at index 0. It
// returns the matching index, or the index of the last entry probed and how
// the pair compared against it.
func (r *Registry) search(src, dst *dtype.Datatype) (md, c int) {
	lt, rt := 1, len(r.paths)
	md, c = 1, 1
	for lt < rt {
		md = (lt + rt) / 2
		p := r.paths[md]
		c = dtype.Compare(src, p.src, false)
		if c == 0 {
			c = dtype.Compare(dst, p.dst, false)
		}
		switch {
		case c < 0:
			rt = md
		case c > 0:
			lt = md + 1
		default:
			return md, 0
		}
	}
	return md, c
}

// findReal resolves src to dst. A non-nil fn is a hard function supplied by
// a caller: at API level (app) it always replaces an existing path, while a
// library-level function only fills an empty or soft slot.
func (r *Registry) findReal(src, dst *dtype.Datatype, name string, fn Func, app bool) (*Path, error) {
	var table *Path
	if fn == nil && !src.ForceConversion() && !dst.ForceConversion() && dtype.Compare(src, dst, false) == 0 {
		table = r.paths[0]
	} else if md, c := r.search(src, dst); c == 0 {
		table = r.paths[md]
	}

	if table != nil && (fn == nil || (!app && table.hard)) {
		return table, nil
	}

	p := &Path{name: name, src: src.Copy(), dst: dst.Copy()}
	if fn != nil {
		p.fn, p.hard = fn, true
		if err := fn.Init(p.src, p.dst, &p.cd); err != nil {
			return nil, types.NewError(types.KindConversionUnavailable).Op("find conversion").
				Types(src, dst).Detail("initialize %q", name).Wrap(err).Build()
		}
	}

	for i := len(r.soft) - 1; i >= 0 && p.fn == nil; i-- {
		e := r.soft[i]
		if e.src != src.Class() || e.dst != dst.Class() {
			continue
		}
		var cd Data
		if err := e.fn.Init(p.src, p.dst, &cd); err != nil {
			r.log.Debug("soft conversion probe failed", zap.String("name", e.name),
				zap.Stringer("src", src), zap.Stringer("dst", dst), zap.Error(err))
			continue
		}
		p.fn, p.name, p.cd = e.fn, e.name, cd
	}
	if p.fn == nil {
		return nil, types.NewError(types.KindConversionUnavailable).Op("find conversion").
			Types(src, dst).Detail("no conversion function applies").Build()
	}

	// Init may have resolved nested paths, so the insertion point is looked
	// up again.
	md, c := r.search(src, dst)
	switch {
	case c == 0:
		old := r.paths[md]
		r.paths[md] = p
		r.retire(old)
		r.log.Debug("replaced conversion path", zap.String("old", old.name), zap.String("new", p.name),
			zap.Stringer("src", src), zap.Stringer("dst", dst), zap.Bool("hard", p.hard))
	default:
		if c > 0 && md < len(r.paths) {
			md++
		}
		r.paths = append(r.paths, nil)
		copy(r.paths[md+1:], r.paths[md:])
		r.paths[md] = p
		r.log.Debug("created conversion path", zap.String("name", p.name),
			zap.Stringer("src", src), zap.Stringer("dst", dst), zap.Bool("hard", p.hard))
	}
	return p, nil
}
