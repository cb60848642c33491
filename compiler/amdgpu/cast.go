package amdgpu

import (
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

// castPatterns retype casts whose types the target doesn't carry.
func castPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "bitcast-types", Kind: typeconv.KindBitcast, Ben: 1},
			MatchFunc:   matchSingleCast,
			RewriteFunc: lowerCast,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "cast-types", Kind: typeconv.KindCast, Ben: 1},
			MatchFunc:   matchSingleCast,
			RewriteFunc: lowerCast,
		},
	}
}

func matchSingleCast(f *ir.Func, op *ir.Op) bool {
	return len(op.Operands) == 1 && len(op.Results) == 1
}

func lowerCast(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	src := operands.Range(0)
	if len(src) != 1 {
		return rewrite.NoMatch("operand converts to %d values", len(src))
	}

	rt, err := rw.ConvertType(rw.Type(op.Results[0]))
	if err != nil {
		return rewrite.NoMatch("result type: %v", err)
	}

	v := src[0]

	if rw.Type(v) == rt {
		return rewrite.Matched(v)
	}

	if op.Kind == typeconv.KindCast {
		return rewrite.Matched(rw.Create1(typeconv.KindCast, []ir.Value{v}, rt, nil))
	}

	if !typeconv.Bitcastable(rw.Type(v), rt) {
		return rewrite.NoMatch("%v to %v is not a bitcast", rw.Type(v), rt)
	}

	return rewrite.Matched(rw.Bitcast(v, rt))
}
