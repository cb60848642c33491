package amdgpu

import (
	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
)

// amdgpu.mfma a, b, c {m, n, k, blocks, cbsz, abid, blgp}
// computes c + a*b on the matrix cores. The intrinsic is selected
// by shape, source element type and chipset.

type (
	mfmaSource uint8

	mfmaKey struct {
		m, n, k, blocks int
		src             mfmaSource
	}

	mfmaIntrinsic struct {
		name string
		need chipset.Feature
	}
)

const (
	srcNone mfmaSource = iota
	srcF32
	srcF64
	srcF16
	srcBF16
	srcBF16_1K
	srcI8
	srcI8x16
)

var mfmaIntrinsics = map[mfmaKey]mfmaIntrinsic{
	{32, 32, 1, 2, srcF32}:  {name: "f32.32x32x1f32"},
	{32, 32, 2, 1, srcF32}:  {name: "f32.32x32x2f32"},
	{16, 16, 1, 4, srcF32}:  {name: "f32.16x16x1f32"},
	{16, 16, 4, 1, srcF32}:  {name: "f32.16x16x4f32"},
	{4, 4, 1, 16, srcF32}:   {name: "f32.4x4x1f32"},
	{32, 32, 4, 2, srcF16}:  {name: "f32.32x32x4f16"},
	{32, 32, 8, 1, srcF16}:  {name: "f32.32x32x8f16"},
	{16, 16, 4, 4, srcF16}:  {name: "f32.16x16x4f16"},
	{16, 16, 16, 1, srcF16}: {name: "f32.16x16x16f16"},
	{4, 4, 4, 16, srcF16}:   {name: "f32.4x4x4f16"},

	{32, 32, 2, 2, srcBF16}: {name: "f32.32x32x2bf16"},
	{32, 32, 4, 1, srcBF16}: {name: "f32.32x32x4bf16"},
	{16, 16, 2, 4, srcBF16}: {name: "f32.16x16x2bf16"},
	{16, 16, 8, 1, srcBF16}: {name: "f32.16x16x8bf16"},
	{4, 4, 2, 16, srcBF16}:  {name: "f32.4x4x2bf16"},

	{32, 32, 4, 2, srcBF16_1K}:  {name: "f32.32x32x4bf16.1k", need: chipset.MFMABF16_1K},
	{32, 32, 8, 1, srcBF16_1K}:  {name: "f32.32x32x8bf16.1k", need: chipset.MFMABF16_1K},
	{16, 16, 4, 4, srcBF16_1K}:  {name: "f32.16x16x4bf16.1k", need: chipset.MFMABF16_1K},
	{16, 16, 16, 1, srcBF16_1K}: {name: "f32.16x16x16bf16.1k", need: chipset.MFMABF16_1K},
	{4, 4, 4, 16, srcBF16_1K}:   {name: "f32.4x4x4bf16.1k", need: chipset.MFMABF16_1K},

	{16, 16, 4, 1, srcF64}: {name: "f64.16x16x4f64", need: chipset.MFMAF64},
	{4, 4, 4, 4, srcF64}:   {name: "f64.4x4x4f64", need: chipset.MFMAF64},

	{32, 32, 4, 2, srcI8}:  {name: "i32.32x32x4i8"},
	{32, 32, 8, 1, srcI8}:  {name: "i32.32x32x8i8"},
	{16, 16, 4, 4, srcI8}:  {name: "i32.16x16x4i8"},
	{16, 16, 16, 1, srcI8}: {name: "i32.16x16x16i8"},
	{4, 4, 4, 16, srcI8}:   {name: "i32.4x4x4i8"},

	{32, 32, 16, 1, srcI8x16}: {name: "i32.32x32x16.i8", need: chipset.MFMAI8x16},
	{16, 16, 32, 1, srcI8x16}: {name: "i32.16x16x32.i8", need: chipset.MFMAI8x16},
}

func mfmaPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "mfma", Kind: MFMA, Ben: 1, Feature: chipset.MFMA},
			MatchFunc:   matchMFMA,
			RewriteFunc: lowerMFMA,
		},
	}
}

func mfmaSourceOf(t ir.Type) mfmaSource {
	switch t {
	case ir.F32T:
		return srcF32
	case ir.F64T:
		return srcF64
	case ir.Vector{Len: 4, Elem: ir.F16T}:
		return srcF16
	case ir.Vector{Len: 2, Elem: ir.BF16T}:
		return srcBF16
	case ir.Vector{Len: 4, Elem: ir.BF16T}:
		return srcBF16_1K
	case ir.Vector{Len: 4, Elem: ir.I8}, ir.I32:
		return srcI8
	case ir.Vector{Len: 8, Elem: ir.I8}, ir.I64:
		return srcI8x16
	}

	return srcNone
}

func mfmaKeyOf(f *ir.Func, op *ir.Op) (key mfmaKey, ok bool) {
	if len(op.Operands) != 3 || len(op.Results) != 1 {
		return key, false
	}

	a := f.Type(op.Operands[0])

	if f.Type(op.Operands[1]) != a || f.Type(op.Operands[2]) != f.Type(op.Results[0]) {
		return key, false
	}

	if _, vec := f.Type(op.Results[0]).(ir.Vector); !vec && f.Type(op.Results[0]) != ir.F64T {
		return key, false
	}

	key = mfmaKey{
		m:      int(op.Attrs.IntOr("m", 0)),
		n:      int(op.Attrs.IntOr("n", 0)),
		k:      int(op.Attrs.IntOr("k", 0)),
		blocks: int(op.Attrs.IntOr("blocks", 1)),
		src:    mfmaSourceOf(a),
	}

	return key, key.src != srcNone
}

// MFMAIntrinsic names the rocdl intrinsic for op on chip.
func MFMAIntrinsic(f *ir.Func, op *ir.Op, chip chipset.Chipset) (ir.Kind, bool) {
	key, ok := mfmaKeyOf(f, op)
	if !ok {
		return "", false
	}

	in, ok := mfmaIntrinsics[key]
	if !ok || !chip.Has(in.need) {
		return "", false
	}

	// gfx940 dropped the k8 and k16 i8 variants of gfx908
	if key.src == srcI8 && chip.Has(chipset.MFMAI8x16) && (key.k == 8 || key.k == 16) {
		return "", false
	}

	return ir.Kind("rocdl.mfma." + in.name), true
}

func matchMFMA(f *ir.Func, op *ir.Op) bool {
	key, ok := mfmaKeyOf(f, op)
	if !ok {
		return false
	}

	_, ok = mfmaIntrinsics[key]

	return ok
}

func lowerMFMA(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	kind, ok := MFMAIntrinsic(rw.Func(), op, rw.Chipset())
	if !ok {
		return rewrite.NoMatch("no mfma intrinsic for %v on %v", op.Attrs, rw.Chipset())
	}

	rt, err := rw.ConvertType(rw.Type(op.Results[0]))
	if err != nil {
		return rewrite.NoMatch("result type: %v", err)
	}

	a := mfmaOperand(rw, operands.Get(0))
	b := mfmaOperand(rw, operands.Get(1))
	c := operands.Get(2)

	args := []ir.Value{a, b, c,
		rw.I32(op.Attrs.IntOr("cbsz", 0)),
		rw.I32(op.Attrs.IntOr("abid", 0)),
		rw.I32(op.Attrs.IntOr("blgp", 0)),
	}

	return rewrite.Matched(rw.Create1(kind, args, rt, nil))
}

// mfmaOperand casts sources to what the intrinsics take:
// bf16 vectors as i16 vectors and i8 vectors as a packed integer.
func mfmaOperand(rw *rewrite.Rewriter, v ir.Value) ir.Value {
	t := rw.Type(v)

	vt, ok := t.(ir.Vector)
	if !ok {
		return v
	}

	switch vt.Elem {
	case ir.BF16T:
		return rw.Bitcast(v, ir.IntOfWidth(t))
	case ir.I8:
		return rw.Bitcast(v, ir.Int{Width: t.Bits()})
	}

	return v
}
