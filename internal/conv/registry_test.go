package conv

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// countingFunc records how often each command runs.
type countingFunc struct {
	inits, applies, teardowns int
	initErr                   error
	apply                     func(src, dst *dtype.Datatype, b Buffers)
}

func (f *countingFunc) Init(*dtype.Datatype, *dtype.Datatype, *Data) error {
	f.inits++
	return f.initErr
}

func (f *countingFunc) Apply(src, dst *dtype.Datatype, _ *Data, b Buffers) error {
	f.applies++
	if f.apply != nil {
		f.apply(src, dst, b)
	}
	return nil
}

func (f *countingFunc) Teardown(*dtype.Datatype, *dtype.Datatype, *Data) error {
	f.teardowns++
	return nil
}

func int32s(vs ...int32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return b
}

func float64s(b []byte, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}

// widen returns src in a buffer big enough to hold n elements of size bytes.
func widen(src []byte, n, size int) []byte {
	b := make([]byte, max(len(src), n*size))
	copy(b, src)
	return b
}

func requireSorted(t *testing.T, r *Registry) {
	t.Helper()
	for i := 2; i < len(r.paths); i++ {
		a, b := r.paths[i-1], r.paths[i]
		c := dtype.Compare(a.src, b.src, false)
		if c == 0 {
			c = dtype.Compare(a.dst, b.dst, false)
		}
		require.Negative(t, c, "table out of order at %d", i)
	}
}

func TestFindIsIdempotent(t *testing.T) {
	r := NewRegistry()

	p1, err := r.Find(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	p2, err := r.Find(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, "int_float", p1.Name())
	assert.False(t, p1.IsHard())

	first := widen(int32s(1, -2, 3), 3, 8)
	second := widen(int32s(1, -2, 3), 3, 8)
	require.NoError(t, r.Convert(p1, 3, first, nil))
	require.NoError(t, r.Convert(p2, 3, second, nil))
	assert.Equal(t, first, second)
	assert.Equal(t, []float64{1, -2, 3}, float64s(first, 3))
	requireSorted(t, r)
}

func TestHardOverridesSoft(t *testing.T) {
	r := NewRegistry()
	soft, err := r.Find(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)

	hard := &countingFunc{}
	require.NoError(t, r.Register(Hard, "user_i32_f64", dtype.Int32(), dtype.Float64(), hard))
	assert.Equal(t, 1, hard.inits)
	assert.True(t, soft.Removed(), "replaced soft path is retired")

	p, err := r.Find(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	assert.True(t, p.IsHard())
	assert.Equal(t, "user_i32_f64", p.Name())

	q, err := r.Find(dtype.Int16(), dtype.Float64())
	require.NoError(t, err)
	assert.False(t, q.IsHard())
	assert.Equal(t, "int_float", q.Name())
	requireSorted(t, r)
}

func TestUnregisterHardFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		fallback string
	}{
		{name: "falls back to soft", fallback: "int_float"},
		{name: "fails without soft", opts: []Option{WithoutBuiltins()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.opts...)
			hard := &countingFunc{}
			require.NoError(t, r.Register(Hard, "user", dtype.Int32(), dtype.Float64(), hard))
			old, err := r.Find(dtype.Int32(), dtype.Float64())
			require.NoError(t, err)

			r.Unregister(Hard, "", dtype.Int32(), dtype.Float64(), hard)
			assert.Equal(t, 1, hard.teardowns)
			assert.True(t, old.Removed())
			err = r.Convert(old, 1, make([]byte, 8), nil)
			assert.ErrorIs(t, err, types.ErrConversionUnavailable)

			p, err := r.Find(dtype.Int32(), dtype.Float64())
			if tt.fallback == "" {
				assert.ErrorIs(t, err, types.ErrConversionUnavailable)
				return
			}
			require.NoError(t, err)
			assert.NotSame(t, old, p)
			assert.Equal(t, tt.fallback, p.Name())
			assert.Zero(t, hard.applies)
		})
	}
}

func TestIdenticalPairIsNoop(t *testing.T) {
	r := NewRegistry()
	p, err := r.Find(dtype.Int32(), dtype.Int32())
	require.NoError(t, err)
	assert.Same(t, r.paths[0], p)
	assert.True(t, p.IsNoop())

	noop, err := r.IsNoop(dtype.Float64(), dtype.Float64())
	require.NoError(t, err)
	assert.True(t, noop)

	buf := int32s(7, 8)
	before := append([]byte(nil), buf...)
	require.NoError(t, r.Convert(p, 2, buf, nil))
	assert.Equal(t, before, buf)
	assert.Zero(t, p.Stats())
}

func TestForcedConversionSkipsNoopPath(t *testing.T) {
	r := NewRegistry()
	v := dtype.NewVLenSequence(dtype.Int32())

	p, err := r.Find(v, v.Copy())
	require.NoError(t, err)
	assert.NotSame(t, r.paths[0], p)
	assert.Equal(t, "noop", p.Name())

	_, err = r.Find(v, v.BoundCopy("other"))
	assert.ErrorIs(t, err, types.ErrConversionUnavailable)
}

func TestHardRegistrationOfIdenticalPairIsIgnored(t *testing.T) {
	r := NewRegistry(WithoutBuiltins())
	f := &countingFunc{}
	require.NoError(t, r.Register(Hard, "same", dtype.Int32(), dtype.Int32(), f))
	assert.Zero(t, f.inits)
	assert.Len(t, r.paths, 1)
}

func TestHardRegistrationMarksOtherPathsRecalc(t *testing.T) {
	r := NewRegistry(WithoutBuiltins())
	require.NoError(t, r.Register(Soft, "ints", dtype.Int8(), dtype.Int8(), &countingFunc{}))
	other, err := r.Find(dtype.Int8(), dtype.Int16())
	require.NoError(t, err)
	assert.False(t, other.cd.Recalc)

	require.NoError(t, r.Register(Hard, "wide", dtype.Int32(), dtype.Int64(), &countingFunc{}))
	hard, err := r.Find(dtype.Int32(), dtype.Int64())
	require.NoError(t, err)
	assert.True(t, other.cd.Recalc)
	assert.False(t, hard.cd.Recalc)
}

func TestHardInitFailureIsReported(t *testing.T) {
	r := NewRegistry()
	f := &countingFunc{initErr: errors.New("cannot")}
	err := r.Register(Hard, "broken", dtype.Int32(), dtype.Float64(), f)
	require.ErrorIs(t, err, types.ErrConversionUnavailable)
	assert.Contains(t, err.Error(), "int32le -> float64le")

	p, err := r.Find(dtype.Int32(), dtype.Float64())
	require.NoError(t, err)
	assert.Equal(t, "int_float", p.Name())
}

func TestLibraryHardOnlyFillsEmptyOrSoftSlots(t *testing.T) {
	r := NewRegistry()
	soft, err := r.Find(dtype.Int32(), dtype.Int64())
	require.NoError(t, err)

	lib := &countingFunc{}
	require.NoError(t, r.registerHard("lib", dtype.Int32(), dtype.Int64(), lib, false))
	p, err := r.Find(dtype.Int32(), dtype.Int64())
	require.NoError(t, err)
	assert.Equal(t, "lib", p.Name())
	assert.True(t, soft.Removed())

	again := &countingFunc{}
	require.NoError(t, r.registerHard("lib2", dtype.Int32(), dtype.Int64(), again, false))
	q, err := r.Find(dtype.Int32(), dtype.Int64())
	require.NoError(t, err)
	assert.Same(t, p, q)
	assert.Zero(t, again.inits)

	api := &countingFunc{}
	require.NoError(t, r.Register(Hard, "api", dtype.Int32(), dtype.Int64(), api))
	q, err = r.Find(dtype.Int32(), dtype.Int64())
	require.NoError(t, err)
	assert.Equal(t, "api", q.Name())
	assert.Equal(t, 1, lib.teardowns)
}

func TestSoftProbeFailuresAreSwallowed(t *testing.T) {
	r := NewRegistry(WithoutBuiltins())
	accepting := &countingFunc{}
	picky := &countingFunc{initErr: errors.New("not for me")}
	require.NoError(t, r.Register(Soft, "accepting", dtype.Int8(), dtype.Int8(), accepting))
	require.NoError(t, r.Register(Soft, "picky", dtype.Int8(), dtype.Int8(), picky))

	p, err := r.Find(dtype.Int16(), dtype.Int32())
	require.NoError(t, err)
	assert.Equal(t, "accepting", p.Name())
	assert.Equal(t, 1, picky.inits, "latest registration is probed first")

	_, err = r.Find(dtype.Float32(), dtype.Int32())
	require.ErrorIs(t, err, types.ErrConversionUnavailable)
	assert.Contains(t, err.Error(), "float32le")
	assert.Contains(t, err.Error(), "int32le")
}

func TestSoftRegistrationReplacesMatchingPaths(t *testing.T) {
	r := NewRegistry(WithoutBuiltins())
	first := &countingFunc{}
	require.NoError(t, r.Register(Soft, "first", dtype.Int8(), dtype.Int8(), first))
	old, err := r.Find(dtype.Int8(), dtype.Int16())
	require.NoError(t, err)

	hardFn := &countingFunc{}
	require.NoError(t, r.Register(Hard, "hard", dtype.Int32(), dtype.Int64(), hardFn))

	second := &countingFunc{}
	require.NoError(t, r.Register(Soft, "second", dtype.Int8(), dtype.Int8(), second))

	assert.True(t, old.Removed())
	assert.Equal(t, 1, first.teardowns)
	p, err := r.Find(dtype.Int8(), dtype.Int16())
	require.NoError(t, err)
	assert.Equal(t, "second", p.Name())

	h, err := r.Find(dtype.Int32(), dtype.Int64())
	require.NoError(t, err)
	assert.Equal(t, "hard", h.Name(), "hard paths are never replaced by soft ones")
	requireSorted(t, r)
}

func TestUnregisterCriteria(t *testing.T) {
	r := NewRegistry(WithoutBuiltins())
	ints, floats := &countingFunc{}, &countingFunc{}
	require.NoError(t, r.Register(Soft, "ints", dtype.Int8(), dtype.Int8(), ints))
	require.NoError(t, r.Register(Soft, "floats", dtype.Float32(), dtype.Float32(), floats))
	pi, err := r.Find(dtype.Int8(), dtype.Int16())
	require.NoError(t, err)
	pf, err := r.Find(dtype.Float32(), dtype.Float64())
	require.NoError(t, err)

	r.Unregister(Soft, "ints", nil, nil, nil)
	assert.True(t, pi.Removed())
	assert.False(t, pf.Removed())
	assert.True(t, pf.cd.Recalc)
	require.Len(t, r.Soft(), 1)
	assert.Equal(t, "floats", r.Soft()[0].Name)

	r.Unregister(DontCare, "", nil, nil, nil)
	assert.True(t, pf.Removed())
	assert.Empty(t, r.Soft())
	assert.Len(t, r.paths, 1, "no-op path survives")
	assert.True(t, r.paths[0].IsNoop())
}

func TestUnregisterMatchesFuncIdentity(t *testing.T) {
	r := NewRegistry(WithoutBuiltins())
	a, b := &countingFunc{}, &countingFunc{}
	require.NoError(t, r.Register(Soft, "same", dtype.Int8(), dtype.Int8(), a))
	require.NoError(t, r.Register(Soft, "same", dtype.Float32(), dtype.Float32(), b))

	r.Unregister(Soft, "same", nil, nil, b)
	soft := r.Soft()
	require.Len(t, soft, 1)
	assert.Equal(t, dtype.ClassInteger, soft[0].Src)

	fn := FuncOf(func(*dtype.Datatype, *dtype.Datatype, Buffers) error { return nil })
	assert.True(t, sameFunc(fn, fn))
	assert.False(t, sameFunc(fn, FuncOf(nil)))
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name string
		pers Persistence
		fn   Func
	}{
		{name: "dont care", pers: DontCare, fn: &countingFunc{}},
		{name: "nil func", pers: Soft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.pers, "x", dtype.Int8(), dtype.Int16(), tt.fn)
			assert.ErrorIs(t, err, types.ErrInvalid)
		})
	}
	_, err := r.Find(nil, dtype.Int8())
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestStatsListingAndClose(t *testing.T) {
	r := NewRegistry()
	p, err := r.Find(dtype.Int16(), dtype.Int32())
	require.NoError(t, err)

	buf := make([]byte, 12)
	require.NoError(t, r.Convert(p, 3, buf, nil))
	require.NoError(t, r.Convert(p, 2, buf, nil))
	assert.EqualValues(t, 2, p.Stats().Calls)
	assert.EqualValues(t, 5, p.Stats().Elements)

	var found bool
	for _, info := range r.Paths() {
		if info.Src == "int16le" && info.Dst == "int32le" {
			found = true
			assert.Equal(t, "int_int", info.Name)
			assert.EqualValues(t, 2, info.Calls)
		}
	}
	assert.True(t, found)
	assert.True(t, r.Paths()[0].Noop)

	soft := r.Soft()
	require.NotEmpty(t, soft)
	assert.Equal(t, "noop", soft[0].Name)
	assert.Equal(t, "struct", soft[len(soft)-1].Name)

	r.Close()
	assert.True(t, p.Removed())
	assert.Len(t, r.Paths(), 1)
	assert.Empty(t, r.Soft())
}

func TestConvertReportsApplyFailure(t *testing.T) {
	r := NewRegistry()
	fn := FuncOf(func(*dtype.Datatype, *dtype.Datatype, Buffers) error {
		return errors.New("overflow")
	})
	require.NoError(t, r.Register(Hard, "failing", dtype.Int64(), dtype.Int8(), fn))
	p, err := r.Find(dtype.Int64(), dtype.Int8())
	require.NoError(t, err)

	err = r.Convert(p, 1, make([]byte, 8), nil)
	require.ErrorIs(t, err, types.ErrConversionFailed)
	assert.Contains(t, err.Error(), "int64le -> int8le")
}
