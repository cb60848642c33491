// Package amdgpu lowers amdgpu dialect ops to rocdl intrinsics.
//
// Which lowering an op gets depends on the chipset:
// patterns are gated by chipset features and ranked by benefit.
package amdgpu

import (
	"tlog.app/go/errors"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

const (
	RawBufferLoad          ir.Kind = "amdgpu.raw_buffer_load"
	RawBufferStore         ir.Kind = "amdgpu.raw_buffer_store"
	RawBufferAtomicFAdd    ir.Kind = "amdgpu.raw_buffer_atomic_fadd"
	RawBufferAtomicFMax    ir.Kind = "amdgpu.raw_buffer_atomic_fmax"
	RawBufferAtomicCmpswap ir.Kind = "amdgpu.raw_buffer_atomic_cmpswap"
	LDSBarrier             ir.Kind = "amdgpu.lds_barrier"
	SchedBarrier           ir.Kind = "amdgpu.sched_barrier"
	WaveReduce             ir.Kind = "amdgpu.wave_reduce"
	SwizzleBitmode         ir.Kind = "amdgpu.swizzle_bitmode"
	MFMA                   ir.Kind = "amdgpu.mfma"

	FuncReturn ir.Kind = "func.return"
)

// Ops is every op kind of the dialect.
var Ops = []ir.Kind{
	RawBufferLoad,
	RawBufferStore,
	RawBufferAtomicFAdd,
	RawBufferAtomicFMax,
	RawBufferAtomicCmpswap,
	LDSBarrier,
	SchedBarrier,
	WaveReduce,
	SwizzleBitmode,
	MFMA,
}

var ErrChipsetMismatch = errors.New("pattern set chipset mismatch")

// PopulateTypeConversions registers type rules the chipset needs.
// bf16 is carried as i16 on chipsets without native bf16.
func PopulateTypeConversions(conv *typeconv.Converter, chip chipset.Chipset) error {
	if conv.Frozen() {
		return typeconv.ErrFrozen
	}

	if chip.Has(chipset.NativeBF16) {
		return nil
	}

	conv.AddConversion(bf16AsI16)

	return nil
}

func bf16AsI16(t ir.Type) ([]ir.Type, bool, error) {
	if t != ir.BF16T {
		return nil, false, nil
	}

	return []ir.Type{ir.I16}, true, nil
}

// PopulatePatterns fills set with every lowering for chip and
// registers the type rules the lowerings rely on.
func PopulatePatterns(conv *typeconv.Converter, set *rewrite.PatternSet, chip chipset.Chipset) error {
	if set.Chipset() != chip {
		return errors.Wrap(ErrChipsetMismatch, "set for %v, populating for %v", set.Chipset(), chip)
	}

	err := PopulateTypeConversions(conv, chip)
	if err != nil {
		return errors.Wrap(err, "type conversions")
	}

	err = set.Add(patterns()...)
	if err != nil {
		return errors.Wrap(err, "add patterns")
	}

	return nil
}

// NewPatternSet populates a new pattern set bound to chip.
func NewPatternSet(conv *typeconv.Converter, chip chipset.Chipset) (*rewrite.PatternSet, error) {
	set := rewrite.NewPatternSet(chip)

	err := PopulatePatterns(conv, set, chip)
	if err != nil {
		return nil, err
	}

	return set, nil
}

// NewTarget is the conversion target: rocdl and llvm ops with legal types.
// Casts are also legal between a type and its conversion.
func NewTarget(conv *typeconv.Converter) *rewrite.Target {
	t := rewrite.NewTarget(conv)

	t.AddLegalDialect("rocdl", "llvm")
	t.AddIllegalDialect("amdgpu")
	t.AddLegalOp(FuncReturn)
	t.AddCastOp(typeconv.KindBitcast, typeconv.KindCast)

	return t
}

func patterns() []rewrite.Pattern {
	var ps []rewrite.Pattern

	ps = append(ps, bufferPatterns()...)
	ps = append(ps, barrierPatterns()...)
	ps = append(ps, wavePatterns()...)
	ps = append(ps, mfmaPatterns()...)
	ps = append(ps, constantPatterns()...)
	ps = append(ps, castPatterns()...)

	return ps
}
