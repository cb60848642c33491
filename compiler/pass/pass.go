// Package pass runs the amdgpu to rocdl lowering over a module.
package pass

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/amdlower/compiler/amdgpu"
	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/rewrite"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

type (
	Options struct {
		// Chipset is the target generation, like gfx90a. Required.
		Chipset string

		// IndexBitwidth is the width index lowers to: 32 or 64 (default).
		IndexBitwidth int

		// Jobs limits functions converted in parallel.
		// Zero means GOMAXPROCS.
		Jobs int
	}

	// Pass is set up once and may then be run on any number of modules.
	Pass struct {
		opts Options
		chip chipset.Chipset

		conv   *typeconv.Converter
		set    *rewrite.PatternSet
		target *rewrite.Target
		driver *rewrite.Driver
	}

	Stats = rewrite.Stats
)

// New validates opts and builds the shared read-only state.
func New(opts Options) (*Pass, error) {
	chip, err := chipset.Parse(opts.Chipset)
	if err != nil {
		return nil, errors.Wrap(err, "chipset option")
	}

	switch opts.IndexBitwidth {
	case 0, 32, 64:
	default:
		return nil, errors.New("index bitwidth option: want 32 or 64, got %d", opts.IndexBitwidth)
	}

	if opts.Jobs < 0 {
		return nil, errors.New("jobs option: negative value %d", opts.Jobs)
	}

	conv := typeconv.New(opts.IndexBitwidth)

	set, err := amdgpu.NewPatternSet(conv, chip)
	if err != nil {
		return nil, errors.Wrap(err, "populate patterns")
	}

	conv.Freeze()

	target := amdgpu.NewTarget(conv)

	p := &Pass{
		opts:   opts,
		chip:   chip,
		conv:   conv,
		set:    set,
		target: target,
		driver: rewrite.NewDriver(set, conv, target),
	}

	return p, nil
}

func (p *Pass) Chipset() chipset.Chipset       { return p.chip }
func (p *Pass) Converter() *typeconv.Converter { return p.conv }
func (p *Pass) Patterns() *rewrite.PatternSet  { return p.set }
func (p *Pass) Target() *rewrite.Target        { return p.target }
func (p *Pass) Options() Options               { return p.opts }
func (p *Pass) Driver() *rewrite.Driver        { return p.driver }

// Populate fills set with the lowering patterns for the pass chipset.
// It is the hook for hosts running their own conversion driver.
func (p *Pass) Populate(conv *typeconv.Converter, set *rewrite.PatternSet) error {
	return amdgpu.PopulatePatterns(conv, set, p.chip)
}

// Run lowers every function of m. A function that fails to lower
// is left as it was. The error of the first such function is returned.
func (p *Pass) Run(ctx context.Context, m *ir.Module) (st Stats, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "amdgpu to rocdl", "module", m.Name, "chipset", p.chip, "funcs", len(m.Funcs))
	defer tr.Finish("err", &err)

	stats := make([]Stats, len(m.Funcs))
	errs := make([]error, len(m.Funcs))

	var g errgroup.Group
	g.SetLimit(p.jobs())

	for i, f := range m.Funcs {
		g.Go(func() error {
			stats[i], errs[i] = p.driver.Run(ctx, f)

			return nil
		})
	}

	_ = g.Wait()

	for i, s := range stats {
		st.Ops += s.Ops
		st.Steps += s.Steps
		st.Rewrites += s.Rewrites
		st.Materializations += s.Materializations

		if errs[i] == nil {
			continue
		}

		if err == nil {
			err = errs[i]
			continue
		}

		tr.Printw("also failed", "func", m.Funcs[i].Name, "err", errs[i])
	}

	if err != nil {
		return st, err
	}

	tr.V("pass_stats").Printw("module lowered", "ops", st.Ops, "rewrites", st.Rewrites, "materializations", st.Materializations)

	return st, nil
}

// RunFunc lowers a single function.
func (p *Pass) RunFunc(ctx context.Context, f *ir.Func) (Stats, error) {
	return p.driver.Run(ctx, f)
}

func (p *Pass) jobs() int {
	if p.opts.Jobs > 0 {
		return p.opts.Jobs
	}

	return runtime.GOMAXPROCS(0)
}
