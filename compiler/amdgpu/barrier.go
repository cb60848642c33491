package amdgpu

import (
	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
)

const (
	KindWaitDscnt     ir.Kind = "rocdl.s.wait.dscnt"
	KindBarrierSignal ir.Kind = "rocdl.s.barrier.signal"
	KindBarrierWait   ir.Kind = "rocdl.s.barrier.wait"
	KindWaitcnt       ir.Kind = "rocdl.s.waitcnt"
	KindBarrier       ir.Kind = "rocdl.s.barrier"
	KindSchedBarrier  ir.Kind = "rocdl.sched.barrier"
	KindInlineAsm     ir.Kind = "llvm.inline_asm"
)

const ldsBarrierAsm = "s_waitcnt lgkmcnt(0)\ns_barrier"

func barrierPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "lds-barrier-split", Kind: LDSBarrier, Ben: 3, Feature: chipset.SplitBarrier},
			MatchFunc:   noOperands,
			RewriteFunc: lowerLDSBarrierSplit,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "lds-barrier-waitcnt", Kind: LDSBarrier, Ben: 2, Feature: chipset.LDSBarrierWaitcnt},
			MatchFunc:   noOperands,
			RewriteFunc: lowerLDSBarrierWaitcnt,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "lds-barrier-asm", Kind: LDSBarrier, Ben: 1},
			MatchFunc:   noOperands,
			RewriteFunc: lowerLDSBarrierAsm,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "sched-barrier", Kind: SchedBarrier, Ben: 1},
			MatchFunc:   noOperands,
			RewriteFunc: lowerSchedBarrier,
		},
	}
}

func noOperands(f *ir.Func, op *ir.Op) bool {
	return len(op.Operands) == 0 && len(op.Results) == 0
}

func lowerLDSBarrierSplit(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	rw.Create(KindWaitDscnt, nil, nil, ir.MakeAttrs("count", ir.IntAttr(0)))
	rw.Create(KindBarrierSignal, nil, nil, ir.MakeAttrs("id", ir.IntAttr(-1)))
	rw.Create(KindBarrierWait, nil, nil, ir.MakeAttrs("id", ir.IntAttr(-1)))

	return rewrite.Matched()
}

func lowerLDSBarrierWaitcnt(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	mask, ok := LDSOnlyWaitcnt(rw.Chipset())
	if !ok {
		return rewrite.NoMatch("no waitcnt encoding for %v", rw.Chipset())
	}

	rw.Create(KindWaitcnt, nil, nil, ir.MakeAttrs("bitfield", ir.IntAttr(mask)))
	rw.Create(KindBarrier, nil, nil, nil)

	return rewrite.Matched()
}

func lowerLDSBarrierAsm(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	rw.Create(KindInlineAsm, nil, nil, ir.MakeAttrs(
		"asm_string", ir.StringAttr(ldsBarrierAsm),
		"constraints", ir.StringAttr(""),
		"has_side_effects", ir.BoolAttr(true),
	))

	return rewrite.Matched()
}

func lowerSchedBarrier(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	mask := op.Attrs.IntOr("opts", 0)

	rw.Create(KindSchedBarrier, nil, nil, ir.MakeAttrs("mask", ir.IntAttr(mask)))

	return rewrite.Matched()
}

// LDSOnlyWaitcnt is the s_waitcnt immediate waiting for LDS accesses only:
// lgkmcnt is zero, every other counter is at its maximum.
func LDSOnlyWaitcnt(chip chipset.Chipset) (int64, bool) {
	var lgkm int64

	switch {
	case chip.Major >= 6 && chip.Major <= 9:
		lgkm = 0x1f << 8
	case chip.Major == 10:
		lgkm = 0x3f << 8
	case chip.Major == 11:
		lgkm = 0x3f << 4
	default:
		return 0, false
	}

	return ^lgkm & 0xffff, true
}
