package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/amdlower/compiler/format"
	"github.com/slowlang/amdlower/compiler/parse"
	"github.com/slowlang/amdlower/compiler/pass"
)

type (
	Config struct {
		Pass pass.Options

		// Locs keeps op locations in the output.
		Locs bool
	}

	Lowerer struct {
		Config

		pass *pass.Pass
	}
)

func New(cfg Config) (*Lowerer, error) {
	p, err := pass.New(cfg.Pass)
	if err != nil {
		return nil, errors.Wrap(err, "new pass")
	}

	return &Lowerer{
		Config: cfg,
		pass:   p,
	}, nil
}

func (l *Lowerer) Pass() *pass.Pass { return l.pass }

func (l *Lowerer) LowerFile(ctx context.Context, name string) (out []byte, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return l.Lower(ctx, name, text)
}

// Lower parses text, lowers every function and prints the result.
// Functions which failed to lower are printed unmodified
// alongside the first error.
func (l *Lowerer) Lower(ctx context.Context, name string, text []byte) (out []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower", "name", name, "chipset", l.pass.Chipset())
	defer tr.Finish("err", &err)

	m, err := parse.Parse(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	st, runErr := l.pass.Run(ctx, m)

	tr.V("stats").Printw("lowered", "funcs", len(m.Funcs), "ops", st.Ops, "rewrites", st.Rewrites, "materializations", st.Materializations, "steps", st.Steps)

	out, err = format.FormatWith(ctx, nil, m, format.Options{Locs: l.Locs})
	if err != nil {
		return nil, errors.Wrap(err, "format")
	}

	if runErr != nil {
		return out, errors.Wrap(runErr, "lower")
	}

	return out, nil
}
