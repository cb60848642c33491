package amdgpu

import (
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
)

func constantPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "bf16-constant", Kind: rewrite.KindConstant, Ben: 1},
			MatchFunc:   matchBF16Constant,
			RewriteFunc: lowerBF16Constant,
		},
	}
}

func matchBF16Constant(f *ir.Func, op *ir.Op) bool {
	if len(op.Operands) != 0 || len(op.Results) != 1 || f.Type(op.Results[0]) != ir.BF16T {
		return false
	}

	a, ok := op.Attrs.Get("value")
	if !ok {
		return false
	}

	fa, ok := a.(ir.FloatAttr)

	return ok && fa.Type == ir.BF16T
}

// lowerBF16Constant keeps the bits of a bf16 constant in an i16 one.
func lowerBF16Constant(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	rt, err := rw.ConvertType(ir.BF16T)
	if err != nil {
		return rewrite.NoMatch("%v", err)
	}

	if rt != ir.I16 {
		return rewrite.NoMatch("bf16 is carried as %v", rt)
	}

	a, _ := op.Attrs.Get("value")
	bits := a.(ir.FloatAttr).Bits

	v := rw.Create1(rewrite.KindConstant, nil, ir.I16, op.Attrs.With("value", ir.IntAttr(int16(bits))))

	return rewrite.Matched(v)
}
