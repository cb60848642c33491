package parse

import (
	"bytes"
	"context"
	"strconv"

	"tlog.app/go/errors"

	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	// Attrs parses {name = value, ...}.
	Attrs struct{}

	// Attr parses a single attribute value:
	// true, "str", 42, 1.5 : f32, 0x7fc0 : bf16 or a type.
	Attr struct{}

	// Loc parses loc("file":line:col).
	Loc struct{}
)

func (Attrs) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	named := AllOf{
		Spaced(Ident{}, SpaceAll),
		Spaced(Const("="), SpaceAll),
		Spaced(Attr{}, SpaceAll),
	}

	x, i, err = Context{
		Pre:  Const("{"),
		Of:   List{Elem: named, Sep: Spaced(Const(","), SpaceAll)},
		Post: Spaced(Const("}"), SpaceAll),
	}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, err
	}

	var as ir.Attrs

	for _, n := range x.([]Node) {
		kv := n.([]Node)
		name := string(kv[0].(Ident))

		if _, dup := as.Get(name); dup {
			return nil, i, errors.New("duplicate attribute %v", name)
		}

		as = as.With(name, kv[2].(ir.Attr))
	}

	return as, i, nil
}

func (Attr) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = AnyOf{Bool{}, String{}, Num{}, Type{}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "attribute value")
	}

	switch v := x.(type) {
	case bool:
		return ir.BoolAttr(v), i, nil
	case string:
		return ir.StringAttr(v), i, nil
	case ir.Type:
		return ir.TypeAttr{Type: v}, i, nil
	}

	num, end := x, i

	x, i, err = Optional{AllOf{Spaced(Const(":"), SpaceTab), Spaced(Type{}, SpaceTab)}}.Parse(ctx, b, end)
	if err != nil {
		return nil, i, errors.Wrap(err, "float type")
	}

	if _, ok := x.(None); ok {
		v, ok := num.(int64)
		if !ok {
			return nil, end, errors.New("float literal needs a type")
		}

		return ir.IntAttr(v), end, nil
	}

	ft, ok := x.([]Node)[1].(ir.Float)
	if !ok {
		return nil, i, errors.New("float type expected, got %v", x.([]Node)[1])
	}

	switch v := num.(type) {
	case float64:
		return ir.FloatAttrOf(ft, v), i, nil
	case int64:
		if hex(b, st) {
			if ft.Bits() < 64 && uint64(v)>>ft.Bits() != 0 {
				return nil, st, errors.New("%#x does not fit %v", v, ft)
			}

			return ir.FloatAttr{Type: ft, Bits: uint64(v)}, i, nil
		}

		f, err := strconv.ParseFloat(string(b[st:end]), 64)
		if err != nil {
			return nil, st, errors.Wrap(err, "parse float")
		}

		return ir.FloatAttrOf(ft, f), i, nil
	}

	return nil, st, NewTypeExpectedError(num)
}

func (Loc) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if !bytes.HasPrefix(b[st:], []byte("loc(")) {
		return nil, st, errors.New("loc expected")
	}

	x, i, err = AllOf{
		Const("loc("),
		Spaced(String{}, SpaceTab),
		Const(":"),
		Int{},
		Const(":"),
		Int{},
		Spaced(Const(")"), SpaceTab),
	}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "loc")
	}

	l := x.([]Node)

	return ir.Loc{
		File: l[1].(string),
		Line: int(l[3].(int64)),
		Col:  int(l[5].(int64)),
	}, i, nil
}
