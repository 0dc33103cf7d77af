package conv

import (
	"cmp"
	"fmt"
	"time"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Convert converts n packed elements of buf through p. bkg holds n packed
// destination elements for paths that need a background buffer and may be
// nil otherwise.
func (r *Registry) Convert(p *Path, n int, buf, bkg []byte) error {
	return r.ConvertBuffers(p, Buffers{N: n, Buf: buf, Bkg: bkg})
}

// ConvertBuffers converts the elements described by b through p. The no-op
// path returns without touching the buffers or the path statistics.
func (r *Registry) ConvertBuffers(p *Path, b Buffers) error {
	if p == nil {
		return types.NewError(types.KindInvalid).Op("convert").Detail("nil path").Build()
	}
	if p.noop {
		return nil
	}
	if p.Removed() {
		return types.NewError(types.KindConversionUnavailable).Op("convert").Types(p.src, p.dst).
			Detail("path %q was removed", p.name).Build()
	}
	if b.N < 0 {
		return types.NewError(types.KindInvalid).Op("convert").Types(p.src, p.dst).
			Detail("element count %d", b.N).Build()
	}

	start := time.Now()
	err := p.fn.Apply(p.src, p.dst, &p.cd, b)
	p.stats.Calls++
	p.stats.Elements += int64(b.N)
	p.stats.Elapsed += time.Since(start)
	if err != nil {
		return types.NewError(types.KindConversionFailed).Op("convert").Types(p.src, p.dst).
			Detail("path %q", p.name).Wrap(err).Build()
	}
	return nil
}

// span is the number of bytes n elements of the given size occupy at stride.
func span(n, size, stride int) int {
	if n == 0 {
		return 0
	}
	return (n-1)*stride + size
}

// eachElement calls fn with every source element of b and the destination
// slot it converts into, then writes the destination elements back to b.Buf.
// Bytes of the buffer between strided elements are preserved.
func eachElement(srcSize, dstSize int, b Buffers, fn func(in, out []byte) error) error {
	if b.N == 0 {
		return nil
	}
	ss, ds := cmp.Or(b.Stride, srcSize), cmp.Or(b.Stride, dstSize)
	if need := max(span(b.N, srcSize, ss), span(b.N, dstSize, ds)); len(b.Buf) < need {
		return fmt.Errorf("buffer holds %d bytes, %d elements need %d", len(b.Buf), b.N, need)
	}
	out := make([]byte, span(b.N, dstSize, ds))
	copy(out, b.Buf)
	for i := range b.N {
		in := b.Buf[i*ss : i*ss+srcSize]
		if err := fn(in, out[i*ds:i*ds+dstSize]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	copy(b.Buf, out)
	return nil
}
