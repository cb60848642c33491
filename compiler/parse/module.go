package parse

import (
	"context"

	"tlog.app/go/errors"

	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	// Module parses [module @name] func*.
	Module struct{}

	// Func parses func @name(%arg: T, ...) { op* }.
	Func struct{}

	// Ops parses ops into Block until a closing brace or the end of input.
	Ops struct {
		Block *ir.Block
	}

	// Op parses a single op:
	//
	//	[%r, ... =] dialect.name [%v, ...] [{attrs}] [: T, ...] [({region}, ...)] [loc(...)]
	Op struct {
		Block *ir.Block
	}

	// Region parses { [^(%arg: T, ...)] op* }.
	Region struct{}

	args struct{}
)

func (Module) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	m := &ir.Module{}

	x, i, err = Optional{AllOf{
		Spaced(Const("module"), SpaceAll),
		Spaced(Sigil('@'), SpaceAll),
	}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "module header")
	}

	if l, ok := x.([]Node); ok {
		m.Name = l[1].(string)
	}

	for {
		i = SpaceAll.SkipComments(b, i)
		if i == len(b) {
			return m, i, nil
		}

		x, i, err = Func{}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, err
		}

		m.Funcs = append(m.Funcs, x.(*ir.Func))
	}
}

func (Func) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	s := StateFromContext(ctx)

	if !bytesHasWord(b, st, "func") {
		return nil, st, errors.New("func expected")
	}

	x, i, err = Spaced(Sigil('@'), SpaceTab).Parse(ctx, b, st+len("func"))
	if err != nil {
		return nil, i, errors.Wrap(err, "func name")
	}

	name := x.(string)

	x, i, err = Spaced(args{}, SpaceTab).Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "func @%s: arguments", name)
	}

	al := x.([][2]Node)

	types := make([]ir.Type, len(al))
	for j, a := range al {
		types[j] = a[1].(ir.Type)
	}

	f := ir.NewFunc(name, types...)
	s.beginFunc(f)

	for j, a := range al {
		if err = s.define(a[0].(string), f.Body.Args[j]); err != nil {
			return nil, i, errors.Wrap(err, "func @%s", name)
		}
	}

	_, i, err = Spaced(Const("{"), SpaceAll).Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "func @%s: body", name)
	}

	_, i, err = Ops{Block: f.Body}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "func @%s", name)
	}

	_, i, err = Spaced(Const("}"), SpaceAll).Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "func @%s: body end", name)
	}

	return f, i, nil
}

func (p Ops) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	for {
		j := SpaceAll.SkipComments(b, i)
		if j == len(b) || b[j] == '}' {
			return nil, i, nil
		}

		_, i, err = Op{Block: p.Block}.Parse(ctx, b, j)
		if err != nil {
			return nil, i, err
		}
	}
}

func (p Op) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	s := StateFromContext(ctx)
	f := s.fn

	x, i, err = Optional{AllOf{
		List{Elem: Spaced(Sigil('%'), SpaceTab), Sep: Spaced(Const(","), SpaceTab)},
		Spaced(Const("="), SpaceTab),
	}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "results")
	}

	var results []Node
	if l, ok := x.([]Node); ok {
		results = l[0].([]Node)
	}

	kst := SpaceTab.Skip(b, i)

	x, i, err = Kind{}.Parse(ctx, b, kst)
	if err != nil {
		return nil, i, err
	}

	kind := ir.Kind(x.(string))

	var operands []ir.Value

	x, i, err = Spaced(List{Elem: Sigil('%'), Sep: AllOf{Spaced(Const(","), SpaceTab), SpaceAll}}, SpaceTab).Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v: operands", kind)
	}

	for _, n := range x.([]Node) {
		v, err := s.lookup(n.(string))
		if err != nil {
			return nil, i, errors.Wrap(err, "%v", kind)
		}

		operands = append(operands, v)
	}

	x, i, err = Optional{Spaced(Attrs{}, SpaceTab)}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v: attributes", kind)
	}

	attrs, _ := x.(ir.Attrs)

	x, i, err = Optional{AllOf{Spaced(Const(":"), SpaceTab), TypeList{}}}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v: result types", kind)
	}

	var types []ir.Type
	if l, ok := x.([]Node); ok {
		types = l[1].([]ir.Type)
	}

	if len(types) != len(results) {
		return nil, i, errors.New("%v: %d results named but %d types given", kind, len(results), len(types))
	}

	x, i, err = Optional{Spaced(Context{
		Pre:  Const("("),
		Of:   List{Elem: Spaced(Region{}, SpaceAll), Sep: Spaced(Const(","), SpaceAll)},
		Post: Spaced(Const(")"), SpaceAll),
	}, SpaceTab)}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v: regions", kind)
	}

	var regions []*ir.Block
	if l, ok := x.([]Node); ok {
		for _, r := range l {
			regions = append(regions, r.(*ir.Block))
		}
	}

	x, i, err = Optional{Spaced(Loc{}, SpaceTab)}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	loc, ok := x.(ir.Loc)
	if !ok {
		loc = s.Loc(kst)
	}

	op := f.Build(p.Block, kind, operands, types, attrs, regions...)
	op.Loc = loc

	for j, r := range results {
		if err = s.define(r.(string), op.Results[j]); err != nil {
			return nil, st, err
		}
	}

	return op, i, nil
}

func (Region) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	s := StateFromContext(ctx)

	_, i, err = Const("{").Parse(ctx, b, st)
	if err != nil {
		return nil, st, err
	}

	x, i, err = Optional{AllOf{Spaced(Const("^"), SpaceAll), args{}}}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "region arguments")
	}

	var al [][2]Node
	if l, ok := x.([]Node); ok {
		al = l[1].([][2]Node)
	}

	types := make([]ir.Type, len(al))
	for j, a := range al {
		types[j] = a[1].(ir.Type)
	}

	blk := s.fn.NewBlock(types...)

	s.push()
	defer s.pop()

	for j, a := range al {
		if err = s.define(a[0].(string), blk.Args[j]); err != nil {
			return nil, i, err
		}
	}

	_, i, err = Ops{Block: blk}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	_, i, err = Spaced(Const("}"), SpaceAll).Parse(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	return blk, i, nil
}

// Parse reads (%name: T, ...) as name and type pairs.
func (args) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	arg := AllOf{
		Spaced(Sigil('%'), SpaceAll),
		Spaced(Const(":"), SpaceAll),
		Spaced(Type{}, SpaceAll),
	}

	x, i, err = Context{
		Pre:  Const("("),
		Of:   List{Elem: arg, Sep: Spaced(Const(","), SpaceAll)},
		Post: Spaced(Const(")"), SpaceAll),
	}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, err
	}

	var r [][2]Node

	for _, n := range x.([]Node) {
		l := n.([]Node)
		r = append(r, [2]Node{l[0], l[2]})
	}

	return r, i, nil
}

func bytesHasWord(b []byte, i int, w string) bool {
	return len(b)-i >= len(w) && string(b[i:i+len(w)]) == w && !identCont(b, i+len(w))
}
