package rewrite

import (
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

type (
	// Rewriter creates ops at an insertion point on behalf of a pattern.
	// It never erases: the driver owns op lifetime.
	Rewriter struct {
		f    *ir.Func
		chip chipset.Chipset
		conv *typeconv.Converter

		block  *ir.Block
		before ir.OpID // zero to append to block
		loc    ir.Loc

		created []ir.OpID

		tr tlog.Span
	}
)

const (
	KindConstant ir.Kind = "llvm.mlir.constant"
	KindUndef    ir.Kind = "llvm.mlir.undef"
)

// NewRewriter inserts before op at.
func NewRewriter(f *ir.Func, chip chipset.Chipset, conv *typeconv.Converter, at ir.OpID) *Rewriter {
	op := f.Op(at)

	return &Rewriter{
		f:      f,
		chip:   chip,
		conv:   conv,
		block:  op.Block,
		before: at,
		loc:    op.Loc,
	}
}

// NewRewriterAfter inserts right after the definition of v:
// after its defining op or at the start of its block for block arguments.
func NewRewriterAfter(f *ir.Func, chip chipset.Chipset, conv *typeconv.Converter, v ir.Value) *Rewriter {
	rw := &Rewriter{
		f:    f,
		chip: chip,
		conv: conv,
	}

	b := f.ArgBlock(v)
	i := 0

	if def, _, ok := f.Def(v); ok {
		op := f.Op(def)

		b = op.Block
		i = b.IndexOf(def) + 1
		rw.loc = op.Loc
	}

	rw.block = b

	if i < len(b.Ops) {
		rw.before = b.Ops[i]
	}

	return rw
}

func (rw *Rewriter) Func() *ir.Func                 { return rw.f }
func (rw *Rewriter) Chipset() chipset.Chipset       { return rw.chip }
func (rw *Rewriter) Converter() *typeconv.Converter { return rw.conv }
func (rw *Rewriter) Created() []ir.OpID             { return rw.created }

func (rw *Rewriter) Type(v ir.Value) ir.Type { return rw.f.Type(v) }

// Create builds an op at the insertion point.
func (rw *Rewriter) Create(kind ir.Kind, operands []ir.Value, results []ir.Type, attrs ir.Attrs) *ir.Op {
	op := rw.f.NewOp(kind, operands, results, attrs)
	op.Loc = rw.loc

	if rw.before.IsZero() {
		rw.f.Append(rw.block, op)
	} else {
		rw.f.InsertBefore(rw.before, op)
	}

	rw.created = append(rw.created, op.ID)

	if rw.tr.If("rewrite_create") {
		rw.tr.Printw("create", "id", op.ID, "kind", kind, "operands", operands, "results", results, "from", loc.Caller(1))
	}

	return op
}

// Create1 is Create for single result ops.
func (rw *Rewriter) Create1(kind ir.Kind, operands []ir.Value, result ir.Type, attrs ir.Attrs) ir.Value {
	return rw.Create(kind, operands, []ir.Type{result}, attrs).Results[0]
}

// Constant materializes an integer or float constant of type t.
func (rw *Rewriter) Constant(t ir.Type, v int64) ir.Value {
	var a ir.Attr = ir.IntAttr(v)

	if ft, ok := ir.ElemType(t).(ir.Float); ok {
		a = ir.FloatAttrOf(ft, float64(v))
	}

	return rw.Create1(KindConstant, nil, t, ir.MakeAttrs("value", a))
}

func (rw *Rewriter) I32(v int64) ir.Value { return rw.Constant(ir.I32, v) }

// Bitcast reinterprets v as t. It is a no-op if v already has type t.
func (rw *Rewriter) Bitcast(v ir.Value, t ir.Type) ir.Value {
	if rw.f.Type(v) == t {
		return v
	}

	return rw.Create1(typeconv.KindBitcast, []ir.Value{v}, t, nil)
}

// ConvertType converts t with the driver's type converter.
func (rw *Rewriter) ConvertType(t ir.Type) (ir.Type, error) {
	return rw.conv.ConvertOne(t)
}
