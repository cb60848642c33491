package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUses(t *testing.T) {
	f := NewFunc("f", I32, I32)
	a, b := f.Body.Args[0], f.Body.Args[1]

	add := f.Build(f.Body, "llvm.add", []Value{a, b}, []Type{I32}, nil)
	ret := f.Build(f.Body, "func.return", add.Results, nil, nil)

	assert.Equal(t, []Use{{Op: add.ID, Operand: 0}}, f.Uses(a))
	assert.Equal(t, []Use{{Op: ret.ID, Operand: 0}}, f.Uses(add.Results[0]))

	id, res, ok := f.Def(add.Results[0])
	assert.True(t, ok)
	assert.Equal(t, add.ID, id)
	assert.Equal(t, 0, res)

	_, _, ok = f.Def(a)
	assert.False(t, ok)
	assert.Equal(t, f.Body, f.ArgBlock(a))

	f.ReplaceAllUsesWith(add.Results[0], b)

	assert.Equal(t, []Value{b}, ret.Operands)
	assert.False(t, f.HasUses(add.Results[0]))
	assert.Len(t, f.Uses(b), 2)
}

func TestEraseAndStaleHandles(t *testing.T) {
	f := NewFunc("f", I32)

	op := f.Build(f.Body, "test.op", f.Body.Args, []Type{I32}, nil)
	ret := f.Build(f.Body, "func.return", op.Results, nil, nil)

	assert.Panics(t, func() { f.Erase(op.ID) })

	f.SetOperand(ret.ID, 0, f.Body.Args[0])

	res := op.Results[0]
	f.Erase(op.ID)

	assert.False(t, f.Live(op.ID))
	assert.False(t, f.ValueLive(res))
	assert.Equal(t, []OpID{ret.ID}, f.Body.Ops)
	assert.Len(t, f.Uses(f.Body.Args[0]), 1)

	assert.PanicsWithValue(t, StaleHandleError{Handle: op.ID}, func() { f.Op(op.ID) })
	assert.PanicsWithValue(t, StaleHandleError{Handle: res}, func() { f.Type(res) })

	// the slot is reused with a new generation
	op2 := f.NewOp("test.op", nil, []Type{I16}, nil)
	assert.Equal(t, op.ID.Index(), op2.ID.Index())
	assert.NotEqual(t, op.ID, op2.ID)
	assert.False(t, f.Live(op.ID))
	assert.Equal(t, res.Index(), op2.Results[0].Index())
	assert.False(t, f.ValueLive(res))
}

func TestNestedRegions(t *testing.T) {
	f := NewFunc("f", I32)

	body := f.NewBlock(I32)
	inner := f.Build(body, "test.inner", []Value{body.Args[0], f.Body.Args[0]}, []Type{I32}, nil)
	f.Build(body, "test.yield", inner.Results, nil, nil)

	loop := f.Build(f.Body, "test.loop", f.Body.Args, nil, nil, body)
	f.Build(f.Body, "func.return", nil, nil, nil)

	assert.Equal(t, loop.ID, body.Parent)

	var kinds []Kind
	f.Walk(func(op *Op) bool {
		kinds = append(kinds, op.Kind)
		return true
	})

	assert.Equal(t, []Kind{"test.loop", "test.inner", "test.yield", "func.return"}, kinds)
	assert.Equal(t, 4, f.NumOps())

	arg := body.Args[0]

	f.Erase(loop.ID)

	assert.False(t, f.Live(inner.ID))
	assert.False(t, f.ValueLive(arg))
	assert.Empty(t, f.Uses(f.Body.Args[0]))
	assert.Equal(t, 1, f.NumOps())
}

func TestClone(t *testing.T) {
	f := NewFunc("f", F32T)

	body := f.NewBlock()
	f.Build(body, "test.inner", f.Body.Args, nil, nil)

	op := f.Build(f.Body, "test.op", f.Body.Args, []Type{F32T}, MakeAttrs("n", IntAttr(1)), body)
	f.Build(f.Body, "func.return", op.Results, nil, nil)

	c := f.Clone()

	// handles stay valid
	cop := c.Op(op.ID)
	assert.Equal(t, op.Kind, cop.Kind)
	assert.Equal(t, op.Results, cop.Results)
	assert.NotSame(t, op, cop)
	assert.NotSame(t, op.Regions[0], cop.Regions[0])
	assert.Same(t, c.Body, cop.Block)

	// changes to the clone don't leak
	cop.Attrs = cop.Attrs.With("n", IntAttr(2))
	c.Build(c.Body, "test.extra", nil, nil, nil)
	c.ReplaceAllUsesWith(op.Results[0], c.Body.Args[0])

	n, _ := op.Attrs.Int("n")
	assert.Equal(t, int64(1), n)
	assert.Len(t, f.Body.Ops, 2)
	assert.True(t, f.HasUses(op.Results[0]))

	f.Replace(c)

	assert.Len(t, f.Body.Ops, 3)
	assert.False(t, f.HasUses(op.Results[0]))
}

func TestInsertBefore(t *testing.T) {
	f := NewFunc("f")

	a := f.Build(f.Body, "test.a", nil, nil, nil)
	b := f.Build(f.Body, "test.b", nil, nil, nil)

	x := f.NewOp("test.x", nil, nil, nil)
	f.InsertBefore(b.ID, x)

	assert.Equal(t, []OpID{a.ID, x.ID, b.ID}, f.Body.Ops)
	assert.Same(t, f.Body, x.Block)

	assert.Panics(t, func() { f.InsertBefore(a.ID, x) })
}

func TestKind(t *testing.T) {
	assert.Equal(t, "rocdl", Kind("rocdl.raw.ptr.buffer.load").Dialect())
	assert.Equal(t, "func", Kind("func.return").Dialect())
}

func TestTypes(t *testing.T) {
	v := Vector{Len: 4, Elem: BF16T}

	assert.Equal(t, 64, v.Bits())
	assert.Equal(t, "vector<4xbf16>", v.String())
	assert.Equal(t, Type(Vector{Len: 4, Elem: I16}), IntOfWidth(v))
	assert.Equal(t, Type(I64), IntOfWidth(F64T))
	assert.True(t, IsFloat(v))
	assert.False(t, IsInt(v))
	assert.Equal(t, "ptr<3>", Ptr{Space: 3}.String())
	assert.Equal(t, "(i32, f16)", TypesString([]Type{I32, F16T}))

	require.True(t, Type(BF16T) == Float{Kind: BF16})
}

func TestAttrs(t *testing.T) {
	as := MakeAttrs("z", IntAttr(1), "a", BoolAttr(true), "m", StringAttr("s"))

	assert.Equal(t, `{a = true, m = "s", z = 1}`, as.String())
	assert.True(t, as.Bool("a"))
	assert.Equal(t, int64(7), as.IntOr("none", 7))

	as2 := as.With("m", IntAttr(3))
	s, ok := as.Str("m")
	assert.True(t, ok)
	assert.Equal(t, "s", s)

	_, ok = as2.Str("m")
	assert.False(t, ok)
	assert.Len(t, as2, 3)

	assert.Equal(t, "1.5 : bf16", FloatAttrOf(BF16T, 1.5).String())
	assert.Equal(t, "0x7fc0 : bf16", FloatAttr{Type: BF16T, Bits: 0x7fc0}.String())
	assert.Equal(t, "0x7c00 : f16", FloatAttr{Type: F16T, Bits: 0x7c00}.String())
	assert.Equal(t, 0.5, FloatAttrOf(F16T, 0.5).Float64())
}
