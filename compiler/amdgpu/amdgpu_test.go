package amdgpu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

var testChipsets = []string{"gfx908", "gfx90a", "gfx942", "gfx950", "gfx1030", "gfx1100", "gfx1201"}

func lower(t *testing.T, chip string, f *ir.Func) (rewrite.Stats, error) {
	t.Helper()

	c := chipset.MustParse(chip)
	conv := typeconv.New(64)

	set, err := NewPatternSet(conv, c)
	require.NoError(t, err)

	conv.Freeze()

	d := rewrite.NewDriver(set, conv, NewTarget(conv))

	return d.Run(context.Background(), f)
}

func kinds(f *ir.Func) (r []ir.Kind) {
	f.Walk(func(op *ir.Op) bool {
		r = append(r, op.Kind)
		return true
	})

	return r
}

func count(f *ir.Func, k ir.Kind) (n int) {
	f.Walk(func(op *ir.Op) bool {
		if op.Kind == k {
			n++
		}

		return true
	})

	return n
}

func find(f *ir.Func, k ir.Kind) *ir.Op {
	var r *ir.Op

	f.Walk(func(op *ir.Op) bool {
		if op.Kind == k {
			r = op
			return false
		}

		return true
	})

	return r
}

func returned(f *ir.Func) *ir.Op {
	return find(f, FuncReturn)
}

func defOf(t *testing.T, f *ir.Func, v ir.Value) *ir.Op {
	t.Helper()

	id, _, ok := f.Def(v)
	require.True(t, ok, "%v is a block argument", v)

	return f.Op(id)
}

// bufferFunc is f(base, num_records, offset, extra...) with an empty body.
func bufferFunc(extra ...ir.Type) *ir.Func {
	return ir.NewFunc("f", append([]ir.Type{ir.Ptr{Space: 1}, ir.I32, ir.I32}, extra...)...)
}

func TestPopulate(t *testing.T) {
	c := chipset.MustParse("gfx908")
	conv := typeconv.New(64)

	set, err := NewPatternSet(conv, c)
	require.NoError(t, err)

	for _, k := range Ops {
		assert.NotEmpty(t, set.For(k), "no patterns for %v", k)
	}

	assert.Equal(t, []ir.Type{ir.I16}, must(conv.ConvertType(ir.BF16T)))
	assert.Equal(t, []ir.Type{ir.Vector{Len: 4, Elem: ir.I16}}, must(conv.ConvertType(ir.Vector{Len: 4, Elem: ir.BF16T})))

	err = PopulatePatterns(conv, rewrite.NewPatternSet(chipset.MustParse("gfx90a")), c)
	assert.ErrorIs(t, err, ErrChipsetMismatch)

	// populating twice registers every pattern twice
	err = PopulatePatterns(conv, set, c)

	var amb rewrite.AmbiguousPatternsError
	assert.True(t, errors.As(err, &amb), "got %v", err)

	conv.Freeze()

	err = PopulatePatterns(conv, rewrite.NewPatternSet(c), c)
	assert.ErrorIs(t, err, typeconv.ErrFrozen)
}

func TestNativeBF16(t *testing.T) {
	conv := typeconv.New(64)

	_, err := NewPatternSet(conv, chipset.MustParse("gfx950"))
	require.NoError(t, err)

	assert.True(t, conv.IsLegal(ir.BF16T))
}

func TestRawBufferLoadBF16(t *testing.T) {
	f := bufferFunc()

	load := f.Build(f.Body, RawBufferLoad, f.Body.Args, []ir.Type{ir.BF16T}, nil)
	f.Build(f.Body, FuncReturn, load.Results, nil, nil)

	st, err := lower(t, "gfx908", f)
	require.NoError(t, err)

	l := find(f, KindBufferLoad)
	require.NotNil(t, l)
	assert.Equal(t, ir.Type(ir.I16), f.Type(l.Results[0]))

	assert.Equal(t, 1, count(f, typeconv.KindBitcast))
	assert.Equal(t, 1, st.Materializations)

	ret := returned(f)
	assert.Equal(t, ir.Type(ir.BF16T), f.Type(ret.Operands[0]))

	cast := defOf(t, f, ret.Operands[0])
	assert.Equal(t, typeconv.KindBitcast, cast.Kind)
	assert.Equal(t, l.Results, cast.Operands)

	rsrc := find(f, KindMakeBufferRsrc)
	require.NotNil(t, rsrc)

	flags := defOf(t, f, rsrc.Operands[3])
	v, _ := flags.Attrs.Int("value")
	assert.Equal(t, int64(7<<12|4<<15), v)

	stride := defOf(t, f, rsrc.Operands[1])
	assert.Equal(t, ir.Type(ir.I16), f.Type(stride.Results[0]))
}

func TestRawBufferLoadNativeBF16(t *testing.T) {
	f := bufferFunc()

	load := f.Build(f.Body, RawBufferLoad, f.Body.Args, []ir.Type{ir.BF16T}, nil)
	f.Build(f.Body, FuncReturn, load.Results, nil, nil)

	st, err := lower(t, "gfx950", f)
	require.NoError(t, err)

	l := find(f, KindBufferLoad)
	require.NotNil(t, l)
	assert.Equal(t, ir.Type(ir.BF16T), f.Type(l.Results[0]))
	assert.Equal(t, 0, count(f, typeconv.KindBitcast))
	assert.Equal(t, 0, st.Materializations)
}

func TestRawBufferLoadOffsets(t *testing.T) {
	f := bufferFunc(ir.I32)

	vt := ir.Vector{Len: 4, Elem: ir.F32T}

	load := f.Build(f.Body, RawBufferLoad, f.Body.Args, []ir.Type{vt}, ir.MakeAttrs(
		"index_offset", ir.IntAttr(3),
		"bounds_check", ir.BoolAttr(false),
		"glc", ir.BoolAttr(true),
	))
	f.Build(f.Body, FuncReturn, load.Results, nil, nil)

	_, err := lower(t, "gfx1100", f)
	require.NoError(t, err)

	l := find(f, KindBufferLoad)
	require.NotNil(t, l)
	require.Len(t, l.Operands, 4)

	voff := defOf(t, f, l.Operands[1])
	assert.Equal(t, KindAdd, voff.Kind)

	scaled := defOf(t, f, voff.Operands[1])
	v, _ := scaled.Attrs.Int("value")
	assert.Equal(t, int64(12), v)

	assert.Equal(t, f.Body.Args[3], l.Operands[2], "sgpr offset")

	aux := defOf(t, f, l.Operands[3])
	v, _ = aux.Attrs.Int("value")
	assert.Equal(t, int64(1), v)

	rsrc := defOf(t, f, l.Operands[0])
	flags := defOf(t, f, rsrc.Operands[3])
	v, _ = flags.Attrs.Int("value")
	assert.Equal(t, RsrcFlags(chipset.MustParse("gfx1100"), false), v)
}

func TestRsrcFlags(t *testing.T) {
	base := int64(7<<12 | 4<<15)

	assert.Equal(t, base, RsrcFlags(chipset.MustParse("gfx90a"), true))
	assert.Equal(t, base|1<<24|3<<28, RsrcFlags(chipset.MustParse("gfx1030"), true))
	assert.Equal(t, base|1<<24|2<<28, RsrcFlags(chipset.MustParse("gfx1100"), false))
}

func TestRawBufferStore(t *testing.T) {
	f := bufferFunc(ir.BF16T)
	a := f.Body.Args

	f.Build(f.Body, RawBufferStore, []ir.Value{a[3], a[0], a[1], a[2]}, nil, nil)

	_, err := lower(t, "gfx908", f)
	require.NoError(t, err)

	s := find(f, KindBufferStore)
	require.NotNil(t, s)
	assert.Empty(t, s.Results)

	val := defOf(t, f, s.Operands[0])
	assert.Equal(t, typeconv.KindBitcast, val.Kind)
	assert.Equal(t, ir.Type(ir.I16), f.Type(s.Operands[0]))
}

func TestRawBufferAtomics(t *testing.T) {
	pk := func(el ir.Type) ir.Type { return ir.Vector{Len: 2, Elem: el} }

	for _, tc := range []struct {
		chip string
		kind ir.Kind
		typ  ir.Type
		ok   bool
		need chipset.Feature
	}{
		{"gfx908", RawBufferAtomicFAdd, ir.F32T, true, 0},
		{"gfx1030", RawBufferAtomicFAdd, ir.F32T, false, chipset.BufferAtomicFAddF32},
		{"gfx1100", RawBufferAtomicFAdd, ir.F32T, true, 0},
		{"gfx908", RawBufferAtomicFAdd, pk(ir.F16T), true, 0},
		{"gfx1100", RawBufferAtomicFAdd, pk(ir.F16T), false, chipset.BufferAtomicPkAddF16},
		{"gfx90a", RawBufferAtomicFAdd, pk(ir.BF16T), false, chipset.BufferAtomicPkAddBF16},
		{"gfx950", RawBufferAtomicFAdd, pk(ir.BF16T), true, 0},
		{"gfx908", RawBufferAtomicFMax, ir.F32T, false, chipset.BufferAtomicFMaxF32},
		{"gfx90a", RawBufferAtomicFMax, ir.F32T, true, 0},
		{"gfx1030", RawBufferAtomicFMax, ir.F32T, true, 0},
	} {
		t.Run(tc.chip+"/"+string(tc.kind)+"/"+tc.typ.String(), func(t *testing.T) {
			f := bufferFunc(tc.typ)
			a := f.Body.Args

			f.Build(f.Body, tc.kind, []ir.Value{a[3], a[0], a[1], a[2]}, nil, nil)

			_, err := lower(t, tc.chip, f)

			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, 1, count(f, KindBufferAtomicFAdd)+count(f, KindBufferAtomicFMax))

				return
			}

			var lerr rewrite.LegalizationError
			require.True(t, errors.As(err, &lerr), "got %v", err)

			assert.Equal(t, rewrite.MissingFeature, lerr.Reason)
			assert.Equal(t, []chipset.Feature{tc.need}, lerr.Features)
		})
	}
}

func TestRawBufferAtomicCmpswap(t *testing.T) {
	f := bufferFunc(ir.F32T, ir.F32T)
	a := f.Body.Args

	op := f.Build(f.Body, RawBufferAtomicCmpswap, []ir.Value{a[3], a[4], a[0], a[1], a[2]}, []ir.Type{ir.F32T}, nil)
	f.Build(f.Body, FuncReturn, op.Results, nil, nil)

	_, err := lower(t, "gfx90a", f)
	require.NoError(t, err)

	cs := find(f, KindBufferAtomicCmpswap)
	require.NotNil(t, cs)
	assert.Equal(t, ir.Type(ir.I32), f.Type(cs.Results[0]))
	assert.Equal(t, ir.Type(ir.I32), f.Type(cs.Operands[0]))

	ret := returned(f)
	back := defOf(t, f, ret.Operands[0])
	assert.Equal(t, typeconv.KindBitcast, back.Kind)
	assert.Equal(t, cs.Results, back.Operands)
}

func TestLDSBarrier(t *testing.T) {
	for _, tc := range []struct {
		chip  string
		kinds []ir.Kind
		mask  int64
	}{
		{chip: "gfx908", kinds: []ir.Kind{KindInlineAsm}},
		{chip: "gfx90a", kinds: []ir.Kind{KindWaitcnt, KindBarrier}, mask: 0xe0ff},
		{chip: "gfx942", kinds: []ir.Kind{KindWaitcnt, KindBarrier}, mask: 0xe0ff},
		{chip: "gfx1030", kinds: []ir.Kind{KindWaitcnt, KindBarrier}, mask: 0xc0ff},
		{chip: "gfx1100", kinds: []ir.Kind{KindWaitcnt, KindBarrier}, mask: 0xfc0f},
		{chip: "gfx1201", kinds: []ir.Kind{KindWaitDscnt, KindBarrierSignal, KindBarrierWait}},
	} {
		t.Run(tc.chip, func(t *testing.T) {
			f := ir.NewFunc("f")
			f.Build(f.Body, LDSBarrier, nil, nil, nil)

			_, err := lower(t, tc.chip, f)
			require.NoError(t, err)

			assert.Equal(t, tc.kinds, kinds(f))

			if tc.mask == 0 {
				return
			}

			w := find(f, KindWaitcnt)
			v, _ := w.Attrs.Int("bitfield")
			assert.Equal(t, tc.mask, v)
		})
	}
}

func TestLDSBarrierAsm(t *testing.T) {
	f := ir.NewFunc("f")
	f.Build(f.Body, LDSBarrier, nil, nil, nil)

	_, err := lower(t, "gfx908", f)
	require.NoError(t, err)

	asm := find(f, KindInlineAsm)
	require.NotNil(t, asm)

	s, _ := asm.Attrs.Str("asm_string")
	assert.Equal(t, "s_waitcnt lgkmcnt(0)\ns_barrier", s)
	assert.True(t, asm.Attrs.Bool("has_side_effects"))
}

func TestSchedBarrier(t *testing.T) {
	f := ir.NewFunc("f")
	f.Build(f.Body, SchedBarrier, nil, nil, ir.MakeAttrs("opts", ir.IntAttr(6)))

	_, err := lower(t, "gfx942", f)
	require.NoError(t, err)

	sb := find(f, KindSchedBarrier)
	require.NotNil(t, sb)

	v, _ := sb.Attrs.Int("mask")
	assert.Equal(t, int64(6), v)
}

func waveReduceFunc(t ir.Type, kind string) *ir.Func {
	f := ir.NewFunc("f", t)

	r := f.Build(f.Body, WaveReduce, f.Body.Args, []ir.Type{t}, ir.MakeAttrs("kind", ir.StringAttr(kind)))
	f.Build(f.Body, FuncReturn, r.Results, nil, nil)

	return f
}

func TestWaveReduceByChipset(t *testing.T) {
	f := waveReduceFunc(ir.I32, "add")

	_, err := lower(t, "gfx90a", f)
	require.NoError(t, err)

	assert.Equal(t, 1, count(f, "rocdl.wave.reduce.add"))
	assert.Equal(t, 0, count(f, KindBpermute))

	f = waveReduceFunc(ir.I32, "add")

	_, err = lower(t, "gfx908", f)
	require.NoError(t, err)

	assert.Equal(t, 0, count(f, "rocdl.wave.reduce.add"))
	assert.Equal(t, 6, count(f, KindBpermute))
	assert.Equal(t, 6, count(f, "llvm.add"))
	assert.Equal(t, 1, count(f, KindMbcntLo))
	assert.Equal(t, 1, count(f, KindMbcntHi))

	ret := returned(f)
	assert.Equal(t, ir.Kind("llvm.add"), defOf(t, f, ret.Operands[0]).Kind)
}

func TestWaveReduceFloat(t *testing.T) {
	f := waveReduceFunc(ir.F32T, "fmax")

	_, err := lower(t, "gfx1100", f)
	require.NoError(t, err)

	assert.Equal(t, 5, count(f, KindBpermute))
	assert.Equal(t, 5, count(f, "llvm.intr.maxnum"))
	assert.Equal(t, 1, count(f, KindMbcntLo))
	assert.Equal(t, 0, count(f, KindMbcntHi))

	// f32 goes through ds_bpermute as i32
	assert.Equal(t, 10, count(f, typeconv.KindBitcast))
}

func TestWaveReduceDeclined(t *testing.T) {
	f := waveReduceFunc(ir.I64, "add")

	_, err := lower(t, "gfx90a", f)

	var lerr rewrite.LegalizationError
	require.True(t, errors.As(err, &lerr), "got %v", err)

	assert.Equal(t, rewrite.PatternDeclined, lerr.Reason)
	assert.Equal(t, WaveReduce, lerr.Kind)
}

func TestSwizzle(t *testing.T) {
	attrs := ir.MakeAttrs("and_mask", ir.IntAttr(0x1f), "or_mask", ir.IntAttr(0), "xor_mask", ir.IntAttr(1))

	f := ir.NewFunc("f", ir.F32T)
	s := f.Build(f.Body, SwizzleBitmode, f.Body.Args, []ir.Type{ir.F32T}, attrs)
	f.Build(f.Body, FuncReturn, s.Results, nil, nil)

	_, err := lower(t, "gfx90a", f)
	require.NoError(t, err)

	sw := find(f, KindDsSwizzle)
	require.NotNil(t, sw)

	off := defOf(t, f, sw.Operands[1])
	v, _ := off.Attrs.Int("value")
	assert.Equal(t, int64(0x1f|1<<10), v)
	assert.Equal(t, SwizzleOffset(0x1f, 0, 1), v)

	f = ir.NewFunc("f", ir.F64T)
	s = f.Build(f.Body, SwizzleBitmode, f.Body.Args, []ir.Type{ir.F64T}, attrs)
	f.Build(f.Body, FuncReturn, s.Results, nil, nil)

	_, err = lower(t, "gfx90a", f)
	require.NoError(t, err)

	assert.Equal(t, 2, count(f, KindDsSwizzle))
	assert.Equal(t, 2, count(f, KindExtractElement))
	assert.Equal(t, 2, count(f, KindInsertElement))
	assert.Equal(t, ir.Type(ir.F64T), f.Type(returned(f).Operands[0]))
}

func TestBF16Constant(t *testing.T) {
	f := ir.NewFunc("f")

	c := f.Build(f.Body, rewrite.KindConstant, nil, []ir.Type{ir.BF16T}, ir.MakeAttrs("value", ir.FloatAttrOf(ir.BF16T, -2)))
	f.Build(f.Body, FuncReturn, c.Results, nil, nil)

	_, err := lower(t, "gfx908", f)
	require.NoError(t, err)

	k := find(f, rewrite.KindConstant)
	require.NotNil(t, k)
	assert.Equal(t, ir.Type(ir.I16), f.Type(k.Results[0]))

	v, _ := k.Attrs.Int("value")
	assert.Equal(t, int64(int16(-0x4000)), v) // 0xc000
}

func TestInputCasts(t *testing.T) {
	build := func(from, to ir.Type) (*ir.Func, *ir.Op) {
		f := ir.NewFunc("f", from)

		c := f.Build(f.Body, typeconv.KindBitcast, f.Body.Args, []ir.Type{to}, nil)
		f.Build(f.Body, FuncReturn, c.Results, nil, nil)

		return f, c
	}

	// i16 to bf16 bridges bf16 and its conversion
	f, c := build(ir.I16, ir.BF16T)

	st, err := lower(t, "gfx908", f)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Rewrites)
	assert.True(t, f.Live(c.ID))

	f, c = build(ir.F16T, ir.BF16T)

	st, err = lower(t, "gfx908", f)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rewrites)
	assert.False(t, f.Live(c.ID))

	back := defOf(t, f, returned(f).Operands[0])
	assert.Equal(t, ir.Type(ir.BF16T), f.Type(back.Results[0]))
	assert.Equal(t, ir.Type(ir.I16), f.Type(back.Operands[0]))

	bits := defOf(t, f, back.Operands[0])
	assert.Equal(t, typeconv.KindBitcast, bits.Kind)
	assert.Equal(t, f.Body.Args[0], bits.Operands[0])

	st, err = lower(t, "gfx908", f)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Rewrites)

	f, c = build(ir.F16T, ir.BF16T)

	st, err = lower(t, "gfx950", f)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Rewrites)
	assert.True(t, f.Live(c.ID))
}

func TestUnknownOpLeavesFuncUnmodified(t *testing.T) {
	f := bufferFunc()

	load := f.Build(f.Body, RawBufferLoad, f.Body.Args, []ir.Type{ir.BF16T}, nil)
	bad := f.Build(f.Body, "amdgpu.no_such_op", load.Results, []ir.Type{ir.BF16T}, nil)
	bad.Loc = ir.Loc{File: "k.mlir", Line: 7, Col: 3}
	f.Build(f.Body, FuncReturn, bad.Results, nil, nil)

	before := kinds(f)

	_, err := lower(t, "gfx908", f)

	var lerr rewrite.LegalizationError
	require.True(t, errors.As(err, &lerr), "got %v", err)

	assert.Equal(t, rewrite.NoPattern, lerr.Reason)
	assert.Equal(t, bad.ID, lerr.Op)
	assert.Equal(t, before, kinds(f))
	assert.True(t, f.Live(load.ID))
	assert.Equal(t, ir.Type(ir.BF16T), f.Type(load.Results[0]))
}

func must[T any](x T, err error) T {
	if err != nil {
		panic(err)
	}

	return x
}
