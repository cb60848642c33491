package rewrite

import (
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

type (
	// Target is the set of ops considered legal after conversion.
	Target struct {
		conv *typeconv.Converter

		dialects        map[string]bool
		illegalDialects map[string]bool

		ops     map[ir.Kind]bool
		illegal map[ir.Kind]bool
		dynamic map[ir.Kind]func(f *ir.Func, op *ir.Op) bool
	}
)

func NewTarget(conv *typeconv.Converter) *Target {
	return &Target{
		conv:            conv,
		dialects:        make(map[string]bool),
		illegalDialects: make(map[string]bool),
		ops:             make(map[ir.Kind]bool),
		illegal:         make(map[ir.Kind]bool),
		dynamic:         make(map[ir.Kind]func(*ir.Func, *ir.Op) bool),
	}
}

// AddLegalDialect marks ops of the dialects legal if all their types are legal.
func (t *Target) AddLegalDialect(ds ...string) {
	for _, d := range ds {
		t.dialects[d] = true
	}
}

func (t *Target) AddIllegalDialect(ds ...string) {
	for _, d := range ds {
		t.illegalDialects[d] = true
	}
}

// AddLegalOp marks kinds legal whatever their types are.
func (t *Target) AddLegalOp(ks ...ir.Kind) {
	for _, k := range ks {
		t.ops[k] = true
	}
}

// AddCastOp marks cast kinds legal if their types are legal
// or if they bridge a type and its conversion.
func (t *Target) AddCastOp(ks ...ir.Kind) {
	for _, k := range ks {
		t.dynamic[k] = t.castLegal
	}
}

func (t *Target) castLegal(f *ir.Func, op *ir.Op) bool {
	return t.TypesLegal(f, op) || t.conv.Bridges(f.Types(op.Operands), f.Types(op.Results))
}

func (t *Target) AddIllegalOp(ks ...ir.Kind) {
	for _, k := range ks {
		t.illegal[k] = true
	}
}

func (t *Target) AddDynamicallyLegalOp(k ir.Kind, legal func(f *ir.Func, op *ir.Op) bool) {
	t.dynamic[k] = legal
}

func (t *Target) IsLegal(f *ir.Func, op *ir.Op) bool {
	switch {
	case t.illegal[op.Kind]:
		return false
	case t.ops[op.Kind]:
		return true
	}

	if fn, ok := t.dynamic[op.Kind]; ok {
		return fn(f, op)
	}

	d := op.Kind.Dialect()

	if t.illegalDialects[d] || !t.dialects[d] {
		return false
	}

	return t.TypesLegal(f, op)
}

// TypesLegal reports whether every operand and result type of op is legal.
func (t *Target) TypesLegal(f *ir.Func, op *ir.Op) bool {
	for _, v := range op.Operands {
		if !t.conv.IsLegal(f.Type(v)) {
			return false
		}
	}

	for _, v := range op.Results {
		if !t.conv.IsLegal(f.Type(v)) {
			return false
		}
	}

	return true
}
