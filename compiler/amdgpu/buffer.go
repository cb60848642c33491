package amdgpu

import (
	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
)

// Raw buffer ops address memory through a buffer resource:
//
//	load:    base, num_records, offset [, sgpr_offset]
//	store:   value, base, num_records, offset [, sgpr_offset]
//	cmpswap: src, cmp, base, num_records, offset [, sgpr_offset]
//
// offset is in bytes. Attributes: bounds_check (default true),
// index_offset (elements added to offset), glc, slc.

const (
	KindMakeBufferRsrc      ir.Kind = "rocdl.make.buffer.rsrc"
	KindBufferLoad          ir.Kind = "rocdl.raw.ptr.buffer.load"
	KindBufferStore         ir.Kind = "rocdl.raw.ptr.buffer.store"
	KindBufferAtomicFAdd    ir.Kind = "rocdl.raw.ptr.buffer.atomic.fadd"
	KindBufferAtomicFMax    ir.Kind = "rocdl.raw.ptr.buffer.atomic.fmax"
	KindBufferAtomicCmpswap ir.Kind = "rocdl.raw.ptr.buffer.atomic.cmpswap"

	KindAdd ir.Kind = "llvm.add"
)

var RsrcType = ir.Ptr{Space: 8}

type dataTypeFunc func(t ir.Type) bool

func bufferPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-load", Kind: RawBufferLoad, Ben: 1, Feature: chipset.BufferOps},
			MatchFunc:   matchBuffer(0, -1, bufferData),
			RewriteFunc: lowerBufferLoad,
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-store", Kind: RawBufferStore, Ben: 1, Feature: chipset.BufferOps},
			MatchFunc:   matchBuffer(1, 0, bufferData),
			RewriteFunc: lowerBufferRMW(KindBufferStore),
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-atomic-fadd-f32", Kind: RawBufferAtomicFAdd, Ben: 1, Feature: chipset.BufferAtomicFAddF32},
			MatchFunc:   matchBuffer(1, 0, isType(ir.F32T)),
			RewriteFunc: lowerBufferRMW(KindBufferAtomicFAdd),
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-atomic-fadd-pk-f16", Kind: RawBufferAtomicFAdd, Ben: 1, Feature: chipset.BufferAtomicPkAddF16},
			MatchFunc:   matchBuffer(1, 0, isType(ir.Vector{Len: 2, Elem: ir.F16T})),
			RewriteFunc: lowerBufferRMW(KindBufferAtomicFAdd),
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-atomic-fadd-pk-bf16", Kind: RawBufferAtomicFAdd, Ben: 1, Feature: chipset.BufferAtomicPkAddBF16},
			MatchFunc:   matchBuffer(1, 0, isType(ir.Vector{Len: 2, Elem: ir.BF16T})),
			RewriteFunc: lowerBufferRMW(KindBufferAtomicFAdd),
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-atomic-fmax-f32", Kind: RawBufferAtomicFMax, Ben: 1, Feature: chipset.BufferAtomicFMaxF32},
			MatchFunc:   matchBuffer(1, 0, isType(ir.F32T)),
			RewriteFunc: lowerBufferRMW(KindBufferAtomicFMax),
		},
		rewrite.Func{
			Base:        rewrite.Base{PatternName: "raw-buffer-atomic-cmpswap", Kind: RawBufferAtomicCmpswap, Ben: 1, Feature: chipset.BufferOps},
			MatchFunc:   matchCmpswap,
			RewriteFunc: lowerCmpswap,
		},
	}
}

// matchBuffer checks the address operands starting at first.
// data is the operand holding the data type, or -1 for the first result.
func matchBuffer(first, data int, ok dataTypeFunc) func(f *ir.Func, op *ir.Op) bool {
	return func(f *ir.Func, op *ir.Op) bool {
		n := len(op.Operands) - first
		if n != 3 && n != 4 {
			return false
		}

		if _, isPtr := f.Type(op.Operands[first]).(ir.Ptr); !isPtr {
			return false
		}

		for _, v := range op.Operands[first+1:] {
			if f.Type(v) != ir.I32 {
				return false
			}
		}

		var t ir.Type

		switch {
		case data >= 0:
			if len(op.Results) != 0 {
				return false
			}

			t = f.Type(op.Operands[data])
		case len(op.Results) == 1:
			t = f.Type(op.Results[0])
		default:
			return false
		}

		return ok(t)
	}
}

func matchCmpswap(f *ir.Func, op *ir.Op) bool {
	if len(op.Operands) < 2 || len(op.Results) != 1 {
		return false
	}

	t := f.Type(op.Operands[0])

	if f.Type(op.Operands[1]) != t || f.Type(op.Results[0]) != t {
		return false
	}

	if _, vec := t.(ir.Vector); vec || t.Bits() != 32 && t.Bits() != 64 {
		return false
	}

	cut := *op
	cut.Operands = op.Operands[1:]
	cut.Results = nil

	return matchBuffer(1, 0, bufferData)(f, &cut)
}

// bufferData accepts types a single buffer instruction can move.
func bufferData(t ir.Type) bool {
	b := t.Bits()

	return b%8 == 0 && b > 0 && b <= 128
}

func isType(want ir.Type) dataTypeFunc {
	return func(t ir.Type) bool { return t == want }
}

func lowerBufferLoad(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	rt, err := rw.ConvertType(rw.Type(op.Results[0]))
	if err != nil {
		return rewrite.NoMatch("result type: %v", err)
	}

	args := bufferArgs(rw, op, operands, 0, rw.Type(op.Results[0]))

	return rewrite.Matched(rw.Create1(KindBufferLoad, args, rt, nil))
}

func lowerBufferRMW(kind ir.Kind) func(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	return func(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
		args := bufferArgs(rw, op, operands, 1, rw.Type(op.Operands[0]))

		rw.Create(kind, append([]ir.Value{operands.Get(0)}, args...), nil, nil)

		return rewrite.Matched()
	}
}

func lowerCmpswap(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor) rewrite.Result {
	t := rw.Type(op.Results[0])
	it := ir.IntOfWidth(t)

	rt, err := rw.ConvertType(t)
	if err != nil {
		return rewrite.NoMatch("result type: %v", err)
	}

	src := rw.Bitcast(operands.Get(0), it)
	cmp := rw.Bitcast(operands.Get(1), it)

	args := bufferArgs(rw, op, operands, 2, t)

	res := rw.Create1(KindBufferAtomicCmpswap, append([]ir.Value{src, cmp}, args...), it, nil)

	return rewrite.Matched(rw.Bitcast(res, rt))
}

// bufferArgs builds resource, voffset, soffset and aux operands
// for the address operands starting at first.
func bufferArgs(rw *rewrite.Rewriter, op *ir.Op, operands rewrite.Adaptor, first int, data ir.Type) []ir.Value {
	base := operands.Get(first)
	num := operands.Get(first + 1)
	voff := operands.Get(first + 2)

	flags := RsrcFlags(rw.Chipset(), boundsCheck(op))

	rsrc := rw.Create1(KindMakeBufferRsrc, []ir.Value{base, rw.Constant(ir.I16, 0), num, rw.I32(flags)}, RsrcType, nil)

	if idx := op.Attrs.IntOr("index_offset", 0); idx != 0 {
		size := int64(ir.ElemType(data).Bits() / 8)

		voff = rw.Create1(KindAdd, []ir.Value{voff, rw.I32(idx * size)}, ir.I32, nil)
	}

	var soff ir.Value

	if operands.Len() > first+3 {
		soff = operands.Get(first + 3)
	} else {
		soff = rw.I32(0)
	}

	return []ir.Value{rsrc, voff, soff, rw.I32(cacheBits(op))}
}

// RsrcFlags is the fourth word of a buffer resource descriptor.
func RsrcFlags(chip chipset.Chipset, bounds bool) int64 {
	flags := int64(7<<12 | 4<<15)

	if chip.Major >= 10 {
		flags |= 1 << 24

		oob := int64(2)
		if bounds {
			oob = 3
		}

		flags |= oob << 28
	}

	return flags
}

func boundsCheck(op *ir.Op) bool {
	if _, ok := op.Attrs.Get("bounds_check"); !ok {
		return true
	}

	return op.Attrs.Bool("bounds_check")
}

func cacheBits(op *ir.Op) (aux int64) {
	if op.Attrs.Bool("glc") {
		aux |= 1
	}

	if op.Attrs.Bool("slc") {
		aux |= 2
	}

	return aux
}
