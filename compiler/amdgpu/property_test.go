package amdgpu

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

// sample builds a function using one op of kind k
// and reports the feature the op needs.
type sample struct {
	kind  ir.Kind
	need  chipset.Feature
	build func() *ir.Func
}

func samples() []sample {
	vec := func(n int, el ir.Type) ir.Type { return ir.Vector{Len: n, Elem: el} }

	buffer := func(k ir.Kind, data ir.Type, results ...ir.Type) func() *ir.Func {
		return func() *ir.Func {
			f := bufferFunc(data, data)
			a := f.Body.Args

			args := []ir.Value{a[3], a[0], a[1], a[2]}
			if k == RawBufferAtomicCmpswap {
				args = []ir.Value{a[3], a[4], a[0], a[1], a[2]}
			}

			op := f.Build(f.Body, k, args, results, nil)
			f.Build(f.Body, FuncReturn, op.Results, nil, nil)

			return f
		}
	}

	simple := func(k ir.Kind, attrs ir.Attrs) func() *ir.Func {
		return func() *ir.Func {
			f := ir.NewFunc("f")
			f.Build(f.Body, k, nil, nil, attrs)

			return f
		}
	}

	return []sample{
		{kind: RawBufferLoad, need: chipset.BufferOps, build: func() *ir.Func {
			f := bufferFunc()
			op := f.Build(f.Body, RawBufferLoad, f.Body.Args, []ir.Type{vec(2, ir.BF16T)}, nil)
			f.Build(f.Body, FuncReturn, op.Results, nil, nil)

			return f
		}},
		{kind: RawBufferStore, need: chipset.BufferOps, build: buffer(RawBufferStore, ir.BF16T)},
		{kind: RawBufferAtomicFAdd, need: chipset.BufferAtomicFAddF32, build: buffer(RawBufferAtomicFAdd, ir.F32T)},
		{kind: RawBufferAtomicFAdd, need: chipset.BufferAtomicPkAddF16, build: buffer(RawBufferAtomicFAdd, vec(2, ir.F16T))},
		{kind: RawBufferAtomicFAdd, need: chipset.BufferAtomicPkAddBF16, build: buffer(RawBufferAtomicFAdd, vec(2, ir.BF16T))},
		{kind: RawBufferAtomicFMax, need: chipset.BufferAtomicFMaxF32, build: buffer(RawBufferAtomicFMax, ir.F32T)},
		{kind: RawBufferAtomicCmpswap, need: chipset.BufferOps, build: buffer(RawBufferAtomicCmpswap, ir.I64, ir.I64)},
		{kind: LDSBarrier, build: simple(LDSBarrier, nil)},
		{kind: SchedBarrier, build: simple(SchedBarrier, ir.MakeAttrs("opts", ir.IntAttr(0)))},
		{kind: WaveReduce, build: func() *ir.Func { return waveReduceFunc(ir.I32, "umax") }},
		{kind: WaveReduce, build: func() *ir.Func { return waveReduceFunc(ir.F32T, "fadd") }},
		{kind: SwizzleBitmode, build: func() *ir.Func {
			t := vec(2, ir.BF16T)
			f := ir.NewFunc("f", t)
			op := f.Build(f.Body, SwizzleBitmode, f.Body.Args, []ir.Type{t}, ir.MakeAttrs(
				"and_mask", ir.IntAttr(0x1f), "or_mask", ir.IntAttr(0), "xor_mask", ir.IntAttr(4)))
			f.Build(f.Body, FuncReturn, op.Results, nil, nil)

			return f
		}},
		{kind: MFMA, need: chipset.MFMA, build: func() *ir.Func {
			return mfmaFunc(vec(4, ir.F16T), vec(16, ir.F32T), 32, 32, 8, 1)
		}},
	}
}

func TestTotality(t *testing.T) {
	covered := map[ir.Kind]bool{}

	for _, s := range samples() {
		covered[s.kind] = true
	}

	for _, k := range Ops {
		assert.True(t, covered[k], "no sample for %v", k)
	}

	for _, name := range testChipsets {
		chip := chipset.MustParse(name)

		for _, s := range samples() {
			if !chip.Has(s.need) {
				continue
			}

			f := s.build()

			_, err := lower(t, name, f)
			if !assert.NoError(t, err, "%v on %v", s.kind, name) {
				continue
			}

			for _, k := range kinds(f) {
				assert.NotEqual(t, "amdgpu", k.Dialect(), "%v on %v left %v", s.kind, name, k)
			}
		}
	}
}

func TestLoweredIsIdempotent(t *testing.T) {
	for _, name := range testChipsets {
		chip := chipset.MustParse(name)

		for _, s := range samples() {
			if !chip.Has(s.need) {
				continue
			}

			f := s.build()

			_, err := lower(t, name, f)
			require.NoError(t, err)

			once := kinds(f)
			n := f.NumOps()

			st, err := lower(t, name, f)
			require.NoError(t, err)

			assert.Equal(t, once, kinds(f), "%v on %v", s.kind, name)
			assert.Equal(t, n, f.NumOps())
			assert.Equal(t, 0, st.Rewrites)
		}
	}
}

func TestBF16RoundTrip(t *testing.T) {
	const chunk = 256

	conv := typeconv.New(64)

	set, err := NewPatternSet(conv, chipset.MustParse("gfx908"))
	require.NoError(t, err)

	conv.Freeze()

	d := rewrite.NewDriver(set, conv, NewTarget(conv))

	for base := 0; base < 1<<16; base += chunk {
		f := ir.NewFunc("f")

		var vals []ir.Value

		for i := 0; i < chunk; i++ {
			a := ir.FloatAttr{Type: ir.BF16T, Bits: uint64(base + i)}

			c := f.Build(f.Body, rewrite.KindConstant, nil, []ir.Type{ir.BF16T}, ir.MakeAttrs("value", a))
			vals = append(vals, c.Results[0])
		}

		f.Build(f.Body, FuncReturn, vals, nil, nil)

		_, err := d.Run(context.Background(), f)
		require.NoError(t, err)

		ret := returned(f)
		require.Len(t, ret.Operands, chunk)

		for i, v := range ret.Operands {
			require.Equal(t, ir.Type(ir.BF16T), f.Type(v))

			cast := defOf(t, f, v)
			require.Equal(t, typeconv.KindBitcast, cast.Kind)

			c := defOf(t, f, cast.Operands[0])
			require.Equal(t, rewrite.KindConstant, c.Kind)
			require.Equal(t, ir.Type(ir.I16), f.Type(c.Results[0]))

			x, ok := c.Attrs.Int("value")
			require.True(t, ok)

			if uint16(x) != uint16(base+i) {
				t.Fatalf("bits %#04x came back as %#04x", base+i, uint16(x))
			}
		}
	}
}

func TestBF16FloatConversion(t *testing.T) {
	for b := 0; b < 1<<16; b++ {
		h := uint16(b)

		f := ir.BF16ToFloat32(h)
		back := ir.BF16FromFloat32(f)

		if math.IsNaN(float64(f)) {
			// NaNs keep their class, payload bits above the truncation survive
			assert.Equal(t, h|0x40, back|0x40, "nan %#04x", h)
			continue
		}

		if back != h {
			t.Fatalf("bf16 %#04x -> %v -> %#04x", h, f, back)
		}
	}

	assert.Equal(t, uint16(0x0000), ir.BF16FromFloat32(0))
	assert.Equal(t, uint16(0x8000), ir.BF16FromFloat32(float32(negZero())))

	// round to nearest even, not truncation
	assert.Equal(t, uint16(0x3dcd), ir.BF16FromFloat32(0.1))
	assert.Equal(t, uint16(0x3f80), ir.BF16FromFloat32(math.Float32frombits(0x3f808000)))
	assert.Equal(t, uint16(0x3f82), ir.BF16FromFloat32(math.Float32frombits(0x3f818000)))
	assert.Equal(t, uint16(0xbf80), ir.BF16FromFloat32(math.Float32frombits(0xbf807fff)))
}

func negZero() float64 {
	z := 0.0

	return -z
}
