package format

import (
	"context"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	Options struct {
		// Locs prints loc("file":line:col) after each op with a known location.
		Locs bool
	}

	printer struct {
		Options

		f    *ir.Func
		vals map[ir.Value]int
	}
)

func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return FormatWith(ctx, b, x, Options{})
}

func FormatWith(ctx context.Context, b []byte, x any, opts Options) ([]byte, error) {
	p := &printer{Options: opts}

	return p.format(ctx, b, x, 0)
}

func (p *printer) format(ctx context.Context, b []byte, x any, d int) ([]byte, error) {
	switch x := x.(type) {
	case *ir.Module:
		return p.formatModule(ctx, b, x, d)
	case *ir.Func:
		return p.formatFunc(ctx, b, x, d)
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func (p *printer) formatModule(ctx context.Context, b []byte, x *ir.Module, d int) (_ []byte, err error) {
	if x.Name != "" {
		b = app(b, d, "module @%s\n\n", x.Name)
	}

	for i, f := range x.Funcs {
		if i != 0 {
			b = append(b, '\n')
		}

		b, err = p.formatFunc(ctx, b, f, d)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	return b, nil
}

func (p *printer) formatFunc(ctx context.Context, b []byte, x *ir.Func, d int) (_ []byte, err error) {
	p.f = x
	p.vals = map[ir.Value]int{}

	b = app(b, d, "func @%s", x.Name)
	b = p.formatArgs(b, x.Body.Args)
	b = append(b, " {\n"...)

	b, err = p.formatBlock(ctx, b, x.Body, d+1)
	if err != nil {
		return nil, errors.Wrap(err, "body")
	}

	b = app(b, d, "}\n")

	return b, nil
}

func (p *printer) formatArgs(b []byte, args []ir.Value) []byte {
	b = append(b, '(')

	for i, a := range args {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = p.define(b, a)
		b = app(b, 0, ": %v", p.f.Type(a))
	}

	return append(b, ')')
}

func (p *printer) formatBlock(ctx context.Context, b []byte, x *ir.Block, d int) (_ []byte, err error) {
	for _, id := range x.Ops {
		op := p.f.Op(id)

		b, err = p.formatOp(ctx, b, op, d)
		if err != nil {
			return nil, errors.Wrap(err, "%v", op.Kind)
		}
	}

	return b, nil
}

func (p *printer) formatOp(ctx context.Context, b []byte, op *ir.Op, d int) (_ []byte, err error) {
	b = app(b, d, "")

	for i, r := range op.Results {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = p.define(b, r)
	}

	if len(op.Results) != 0 {
		b = append(b, " = "...)
	}

	b = append(b, op.Kind...)

	for i, v := range op.Operands {
		if i == 0 {
			b = append(b, ' ')
		} else {
			b = append(b, ", "...)
		}

		n, ok := p.vals[v]
		if !ok {
			return nil, errors.New("operand %d: %v used before definition", i, v)
		}

		b = hfmt.Appendf(b, "%%%d", n)
	}

	if len(op.Attrs) != 0 {
		b = append(b, ' ')
		b = append(b, op.Attrs.String()...)
	}

	for i, r := range op.Results {
		if i == 0 {
			b = append(b, " : "...)
		} else {
			b = append(b, ", "...)
		}

		b = append(b, p.f.Type(r).String()...)
	}

	if len(op.Regions) != 0 {
		b = append(b, " ("...)

		for i, r := range op.Regions {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, "{\n"...)

			if len(r.Args) != 0 {
				b = app(b, d, "^")
				b = p.formatArgs(b, r.Args)
				b = append(b, '\n')
			}

			b, err = p.formatBlock(ctx, b, r, d+1)
			if err != nil {
				return nil, errors.Wrap(err, "region %d", i)
			}

			b = app(b, d, "}")
		}

		b = append(b, ')')
	}

	if p.Locs && op.Loc.Line != 0 {
		b = app(b, 0, " loc(%s:%d:%d)", strconv.Quote(op.Loc.File), op.Loc.Line, op.Loc.Col)
	}

	b = append(b, '\n')

	return b, nil
}

func (p *printer) define(b []byte, v ir.Value) []byte {
	n := len(p.vals)
	p.vals[v] = n

	return hfmt.Appendf(b, "%%%d", n)
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
