package amdgpu

import (
	"math/bits"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
)

const (
	KindMbcntLo   ir.Kind = "rocdl.mbcnt.lo"
	KindMbcntHi   ir.Kind = "rocdl.mbcnt.hi"
	KindBpermute  ir.Kind = "rocdl.ds_bpermute"
	KindDsSwizzle ir.Kind = "rocdl.ds_swizzle"

	KindXor            ir.Kind = "llvm.xor"
	KindShl            ir.Kind = "llvm.shl"
	KindExtractElement ir.Kind = "llvm.extractelement"
	KindInsertElement  ir.Kind = "llvm.insertelement"
)

// reduction describes one wave_reduce kind.
type reduction struct {
	combine   ir.Kind
	intrinsic bool
	float     bool
}

var reductions = map[string]reduction{
	"add":  {combine: "llvm.add", intrinsic: true},
	"and":  {combine: "llvm.and", intrinsic: true},
	"or":   {combine: "llvm.or", intrinsic: true},
	"xor":  {combine: "llvm.xor", intrinsic: true},
	"min":  {combine: "llvm.intr.smin", intrinsic: true},
	"max":  {combine: "llvm.intr.smax", intrinsic: true},
	"umin": {combine: "llvm.intr.umin", intrinsic: true},
	"umax": {combine: "llvm.intr.umax", intrinsic: true},
	"fadd": {combine: "llvm.fadd", float: true},
	"fmin": {combine: "llvm.intr.minnum", float: true},
	"fmax": {combine: "llvm.intr.maxnum", float: true},
}

func wavePatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "wave-reduce-intrinsic", Kind: WaveReduce, Ben: 2, Feature: chipset.WaveReduceIntrinsic},
			MatchFunc:   matchWaveReduceIntrinsic,
			RewriteFunc: lowerWaveReduceIntrinsic,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "wave-reduce-shuffle", Kind: WaveReduce, Ben: 1},
			MatchFunc:   matchWaveReduce,
			RewriteFunc: lowerWaveReduceShuffle,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "swizzle-bitmode", Kind: SwizzleBitmode, Ben: 1},
			MatchFunc:   matchSwizzle,
			RewriteFunc: lowerSwizzle,
		},
	}
}

func reductionOf(f *ir.Func, op *ir.Op) (r reduction, t ir.Type, ok bool) {
	if len(op.Operands) != 1 || len(op.Results) != 1 {
		return r, nil, false
	}

	name, _ := op.Attrs.Str("kind")

	r, ok = reductions[name]
	if !ok {
		return r, nil, false
	}

	t = f.Type(op.Operands[0])
	if f.Type(op.Results[0]) != t {
		return r, nil, false
	}

	return r, t, true
}

func matchWaveReduceIntrinsic(f *ir.Func, op *ir.Op) bool {
	r, t, ok := reductionOf(f, op)

	return ok && r.intrinsic && t == ir.I32
}

func matchWaveReduce(f *ir.Func, op *ir.Op) bool {
	r, t, ok := reductionOf(f, op)
	if !ok {
		return false
	}

	if r.float {
		return t == ir.F32T
	}

	return t == ir.I32
}

func lowerWaveReduceIntrinsic(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	name, _ := op.Attrs.Str("kind")

	res := rw.Create1(ir.Kind("rocdl.wave.reduce."+name), []ir.Value{operands.Get(0), rw.I32(0)}, ir.I32, nil)

	return rewrite.Matched(res)
}

// lowerWaveReduceShuffle reduces over a butterfly of ds_bpermute exchanges.
// After log2(wave size) steps every lane holds the result.
func lowerWaveReduceShuffle(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	r, t, _ := reductionOf(rw.Func(), op)

	acc := operands.Get(0)
	lane := laneID(rw)

	for i := 0; i < shuffleSteps(rw.Chipset().WaveSize()); i++ {
		step := 1 << i

		partner := rw.Create1(KindXor, []ir.Value{lane, rw.I32(int64(step))}, ir.I32, nil)
		addr := rw.Create1(KindShl, []ir.Value{partner, rw.I32(2)}, ir.I32, nil)

		x := rw.Bitcast(acc, ir.I32)
		x = rw.Create1(KindBpermute, []ir.Value{addr, x}, ir.I32, nil)
		x = rw.Bitcast(x, t)

		acc = rw.Create1(r.combine, []ir.Value{acc, x}, t, nil)
	}

	return rewrite.Matched(acc)
}

// laneID is the lane index within the wave.
func laneID(rw *rewrite.Rewriter) ir.Value {
	all := rw.I32(-1)

	lo := rw.Create1(KindMbcntLo, []ir.Value{all, rw.I32(0)}, ir.I32, nil)
	if rw.Chipset().WaveSize() == 32 {
		return lo
	}

	return rw.Create1(KindMbcntHi, []ir.Value{all, lo}, ir.I32, nil)
}

func matchSwizzle(f *ir.Func, op *ir.Op) bool {
	if len(op.Operands) != 1 || len(op.Results) != 1 {
		return false
	}

	t := f.Type(op.Operands[0])
	if f.Type(op.Results[0]) != t || t.Bits() == 0 || t.Bits()%32 != 0 {
		return false
	}

	for _, name := range []string{"and_mask", "or_mask", "xor_mask"} {
		m, ok := op.Attrs.Int(name)
		if !ok || m < 0 || m > 31 {
			return false
		}
	}

	return true
}

// SwizzleOffset packs bit mode masks into a ds_swizzle offset.
func SwizzleOffset(and, or, xor int64) int64 {
	return and | or<<5 | xor<<10
}

func lowerSwizzle(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	and, _ := op.Attrs.Int("and_mask")
	or, _ := op.Attrs.Int("or_mask")
	xor, _ := op.Attrs.Int("xor_mask")

	off := rw.I32(SwizzleOffset(and, or, xor))

	src := operands.Get(0)
	t := rw.Type(src)

	n := t.Bits() / 32
	if n == 1 {
		x := rw.Bitcast(src, ir.I32)
		x = rw.Create1(KindDsSwizzle, []ir.Value{x, off}, ir.I32, nil)

		return rewrite.Matched(rw.Bitcast(x, t))
	}

	vt := ir.Vector{Len: n, Elem: ir.I32}
	words := rw.Bitcast(src, vt)

	res := rw.Create1(rewrite.KindUndef, nil, vt, nil)

	for i := 0; i < n; i++ {
		idx := rw.I32(int64(i))

		x := rw.Create1(KindExtractElement, []ir.Value{words, idx}, ir.I32, nil)
		x = rw.Create1(KindDsSwizzle, []ir.Value{x, off}, ir.I32, nil)

		res = rw.Create1(KindInsertElement, []ir.Value{res, x, idx}, vt, nil)
	}

	return rewrite.Matched(rw.Bitcast(res, t))
}

// shuffleSteps is the number of exchange rounds for a wave of size n.
func shuffleSteps(n int) int {
	return bits.Len(uint(n)) - 1
}
