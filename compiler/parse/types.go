package parse

import (
	"context"
	"strconv"

	"tlog.app/go/errors"

	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	// Type parses i<N>, f16, bf16, f32, f64, index, ptr, ptr<N> and vector<NxT>.
	Type struct{}

	TypeList struct{}
)

var floats = map[string]ir.Float{
	"f16":  ir.F16T,
	"bf16": ir.BF16T,
	"f32":  ir.F32T,
	"f64":  ir.F64T,
}

func (p Type) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = Ident{}.Parse(ctx, b, st)
	if err != nil {
		return nil, st, errors.New("Type expected")
	}

	id := string(x.(Ident))

	if t, ok := floats[id]; ok {
		return t, i, nil
	}

	switch id {
	case "index":
		return ir.Index{}, i, nil
	case "ptr":
		x, i, err = Optional{angled(Int{})}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "address space")
		}

		sp, ok := x.(int64)
		if !ok {
			return ir.Ptr{}, i, nil
		}

		return ir.Ptr{Space: int(sp)}, i, nil
	case "vector":
		x, i, err = angled(AllOf{Int{}, Const("x"), Type{}}).Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "vector")
		}

		l := x.([]Node)

		n := l[0].(int64)
		if n <= 0 {
			return nil, i, errors.New("bad vector length: %d", n)
		}

		return ir.Vector{Len: int(n), Elem: l[2].(ir.Type)}, i, nil
	}

	if id[0] == 'i' {
		w, err := strconv.Atoi(id[1:])
		if err == nil && w > 0 && id[1] != '0' {
			return ir.Int{Width: w}, i, nil
		}
	}

	return nil, st, errors.New("unknown type: %s", id)
}

// Parse reads a comma separated list of types.
func (p TypeList) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = List{Elem: Spaced(Type{}, SpaceAll), Sep: Spaced(Const(","), SpaceAll)}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, err
	}

	l := x.([]Node)
	ts := make([]ir.Type, len(l))

	for j, t := range l {
		ts[j] = t.(ir.Type)
	}

	return ts, i, nil
}

func angled(p Parser) Context {
	return Context{
		Pre:  Const("<"),
		Of:   p,
		Post: Const(">"),
	}
}
