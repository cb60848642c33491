package rewrite

import (
	"context"
	"strings"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
	"github.com/slowlang/amdlower/compiler/set"
	"github.com/slowlang/amdlower/compiler/typeconv"
)

type (
	// Driver legalizes one function at a time.
	// It only reads its fields, so one Driver may serve many goroutines.
	Driver struct {
		Patterns *PatternSet
		Conv     *typeconv.Converter
		Target   *Target

		// MaxIdenticalRewrites bounds how many times a lineage of rewrites
		// may reproduce the op it replaced.
		MaxIdenticalRewrites int

		// MaxDepth bounds rewrites of rewrites.
		MaxDepth int

		// StepFactor bounds worklist steps per op of the input.
		StepFactor int
	}

	Stats struct {
		Ops              int
		Steps            int
		Rewrites         int
		Materializations int
	}

	conversion struct {
		*Driver

		f    *ir.Func
		chip chipset.Chipset
		tr   tlog.Span

		queue heap.Heap[item]
		next  int

		keys     map[ir.OpID]int // queued ops
		lineage  map[ir.OpID]lineage
		deferred map[ir.OpID]int

		legal    set.Bits[int]
		casts    set.Bits[int]
		castList []ir.OpID

		mapping map[ir.Value][]ir.Value

		st Stats
	}

	item struct {
		key int
		op  ir.OpID
	}

	lineage struct {
		depth     int
		identical int
		pattern   string
	}
)

const (
	DefaultMaxIdenticalRewrites = 4
	DefaultMaxDepth             = 32
	DefaultStepFactor           = 128

	maxDefer = 2
)

func NewDriver(ps *PatternSet, conv *typeconv.Converter, t *Target) *Driver {
	return &Driver{
		Patterns:             ps,
		Conv:                 conv,
		Target:               t,
		MaxIdenticalRewrites: DefaultMaxIdenticalRewrites,
		MaxDepth:             DefaultMaxDepth,
		StepFactor:           DefaultStepFactor,
	}
}

// Run legalizes f. On error f is left exactly as it was.
func (d *Driver) Run(ctx context.Context, f *ir.Func) (st Stats, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "convert func", "name", f.Name, "chipset", d.Patterns.Chipset())
	defer tr.Finish("err", &err)

	c := &conversion{
		Driver: d,

		f:    f.Clone(),
		chip: d.Patterns.Chipset(),
		tr:   tr,

		queue: heap.Heap[item]{Less: itemLess},

		keys:     make(map[ir.OpID]int),
		lineage:  make(map[ir.OpID]lineage),
		deferred: make(map[ir.OpID]int),

		legal: set.MakeBits[int](),
		casts: set.MakeBits[int](),

		mapping: make(map[ir.Value][]ir.Value),
	}

	err = c.run(ctx)
	if err != nil {
		return c.st, err
	}

	f.Replace(c.f)

	tr.Printw("func converted", "ops", c.st.Ops, "steps", c.st.Steps, "rewrites", c.st.Rewrites, "materializations", c.st.Materializations)

	return c.st, nil
}

func (c *conversion) run(ctx context.Context) (err error) {
	if c.tr.If("dump_func_before") {
		c.dump("before")
	}

	c.f.Walk(func(op *ir.Op) bool {
		c.push(op.ID)
		c.st.Ops++

		return true
	})

	limit := c.stepFactor() * (c.st.Ops + 1)

	for c.queue.Len() != 0 {
		it := c.queue.Pop()

		if key, ok := c.keys[it.op]; !ok || key != it.key || !c.f.Live(it.op) {
			continue
		}

		delete(c.keys, it.op)

		c.st.Steps++

		if c.st.Steps > limit {
			return NonTerminatingRewriteError{Func: c.f.Name, Kind: c.f.Op(it.op).Kind, Steps: c.st.Steps}
		}

		idx := it.op.Index()

		if c.legal.IsSet(idx) || c.casts.IsSet(idx) {
			continue
		}

		op := c.f.Op(it.op)

		if c.Target.IsLegal(c.f, op) {
			c.legal.Set(idx)
			continue
		}

		if c.waitForOperands(op) {
			continue
		}

		err = c.convert(ctx, op)
		if err != nil {
			return err
		}
	}

	c.cleanup()

	if c.tr.If("dump_func_after") {
		c.dump("after")
	}

	return nil
}

func (c *conversion) convert(ctx context.Context, op *ir.Op) error {
	lin := c.lineage[op.ID]

	if lin.depth > c.maxDepth() || lin.identical > c.maxIdentical() {
		return NonTerminatingRewriteError{Func: c.f.Name, Kind: op.Kind, Pattern: lin.pattern, Depth: lin.depth}
	}

	pats := c.Patterns.For(op.Kind)
	if len(pats) == 0 {
		return c.failure(op, NoPattern, nil, "")
	}

	operands, typeErr := c.convertOperands(op)
	if typeErr == nil {
		typeErr = c.checkResults(op)
	}

	var missing []chipset.Feature
	var declined []string

	for _, p := range pats {
		if !p.Match(c.f, op) {
			declined = append(declined, p.Name()+": does not match")
			continue
		}

		if f := p.Requires(); !c.chip.Has(f) {
			missing = append(missing, f)
			declined = append(declined, p.Name()+": requires "+f.String())

			c.tr.V("rewrite_gate").Printw("pattern gated", "op", op.ID, "pattern", p.Name(), "feature", f)

			continue
		}

		rw := c.rewriter(op.ID)

		res := p.Rewrite(rw, op, operands)
		if !res.OK() {
			c.rollback(rw)
			declined = append(declined, p.Name()+": "+res.Reason())

			c.tr.V("rewrite_nomatch").Printw("pattern declined", "op", op.ID, "pattern", p.Name(), "reason", res.Reason())

			continue
		}

		c.tr.V("rewrite").Printw("rewrite", "op", op.ID, "kind", op.Kind, "pattern", p.Name(), "created", len(rw.Created()))

		return c.replace(op, p, rw, res.Values(), lin)
	}

	switch {
	case len(missing) != 0:
		return c.failure(op, MissingFeature, missing, strings.Join(declined, "; "))
	case typeErr != nil:
		return c.failure(op, MissingTypeMapping, nil, typeErr.Error())
	default:
		return c.failure(op, PatternDeclined, nil, strings.Join(declined, "; "))
	}
}

// waitForOperands requeues op behind a pending operand definition.
func (c *conversion) waitForOperands(op *ir.Op) bool {
	if c.deferred[op.ID] >= maxDefer {
		return false
	}

	for _, v := range op.Operands {
		def, _, ok := c.f.Def(v)
		if !ok || !c.pending(def) {
			continue
		}

		c.deferred[op.ID]++
		c.push(op.ID)

		c.tr.V("rewrite_defer").Printw("op deferred", "op", op.ID, "kind", op.Kind, "waits_for", def)

		return true
	}

	return false
}

func (c *conversion) pending(id ir.OpID) bool {
	if _, queued := c.keys[id]; !queued {
		return false
	}

	if c.legal.IsSet(id.Index()) || c.casts.IsSet(id.Index()) {
		return false
	}

	return !c.Target.IsLegal(c.f, c.f.Op(id))
}

func (c *conversion) convertOperands(op *ir.Op) (_ Adaptor, terr error) {
	vals := make([][]ir.Value, len(op.Operands))

	for i, v := range op.Operands {
		vals[i] = []ir.Value{v}

		want, err := c.Conv.ConvertType(c.f.Type(v))
		if err != nil {
			if terr == nil {
				terr = errors.Wrap(err, "operand %d", i)
			}

			continue
		}

		if cur, ok := c.lookup(v); ok && c.hasTypes(cur, want) {
			vals[i] = cur
			continue
		}

		if c.hasTypes(vals[i], want) {
			continue
		}

		rw := NewRewriterAfter(c.f, c.chip, c.Conv, v)
		rw.tr = c.tr

		vs, err := c.Conv.MaterializeTarget(rw, want, v)
		c.markCasts(rw)

		if err != nil {
			if terr == nil {
				terr = errors.Wrap(err, "operand %d", i)
			}

			continue
		}

		c.mapping[v] = vs
		vals[i] = vs
	}

	return MakeAdaptor(vals), terr
}

func (c *conversion) checkResults(op *ir.Op) error {
	for i, r := range op.Results {
		if _, err := c.Conv.ConvertType(c.f.Type(r)); err != nil {
			return errors.Wrap(err, "result %d", i)
		}
	}

	return nil
}

// lookup finds converted values for v: an earlier target materialization
// or the input of a source materialization v is the result of.
func (c *conversion) lookup(v ir.Value) ([]ir.Value, bool) {
	if vs, ok := c.mapping[v]; ok && c.allLive(vs) {
		return vs, true
	}

	def, _, ok := c.f.Def(v)
	if !ok || !c.casts.IsSet(def.Index()) {
		return nil, false
	}

	cast := c.f.Op(def)
	if len(cast.Results) != 1 {
		return nil, false
	}

	return cast.Operands, true
}

func (c *conversion) replace(op *ir.Op, p Pattern, rw *Rewriter, vals []ir.Value, lin lineage) (err error) {
	groups, err := c.groupResults(op, vals)
	if err != nil {
		c.rollback(rw)
		return errors.Wrap(err, "pattern %v", p.Name())
	}

	fp := fingerprint(c.f, op)
	created := rw.Created()

	back := c.rewriter(op.ID)

	for i, r := range op.Results {
		g := groups[i]

		if len(g) == 1 && c.f.Type(g[0]) == c.f.Type(r) {
			c.f.ReplaceAllUsesWith(r, g[0])
			continue
		}

		if !c.f.HasUses(r) {
			continue
		}

		v, err := c.Conv.MaterializeSource(back, c.f.Type(r), g)
		if err != nil {
			c.markCasts(back)
			return errors.Wrap(err, "materialize result %d", i)
		}

		c.f.ReplaceAllUsesWith(r, v)
	}

	c.markCasts(back)
	c.erase(op.ID)

	c.st.Rewrites++

	for _, id := range created {
		if !c.f.Live(id) {
			continue
		}

		child := c.f.Op(id)

		l := lineage{depth: lin.depth + 1, identical: lin.identical, pattern: p.Name()}

		if fingerprint(c.f, child) == fp {
			l.identical++
		}

		c.lineage[id] = l

		c.pushTree(child)
	}

	return nil
}

func (c *conversion) groupResults(op *ir.Op, vals []ir.Value) ([][]ir.Value, error) {
	groups := make([][]ir.Value, len(op.Results))

	if len(vals) == len(op.Results) {
		for i, v := range vals {
			groups[i] = []ir.Value{v}
		}

		return groups, nil
	}

	j := 0

	for i, r := range op.Results {
		ts, err := c.Conv.ConvertType(c.f.Type(r))
		if err != nil {
			return nil, errors.Wrap(err, "result %d", i)
		}

		if j+len(ts) > len(vals) {
			break
		}

		groups[i] = vals[j : j+len(ts)]
		j += len(ts)
	}

	if j != len(vals) {
		return nil, errors.New("%d replacement values for %d results", len(vals), len(op.Results))
	}

	return groups, nil
}

// cleanup folds cast pairs which cancel out and erases unused materializations.
func (c *conversion) cleanup() {
	for changed := true; changed; {
		changed = false

		for i := len(c.castList) - 1; i >= 0; i-- {
			id := c.castList[i]
			if !c.f.Live(id) {
				continue
			}

			op := c.f.Op(id)

			if in, ok := c.cancelled(op); ok && c.f.HasUses(op.Results[0]) {
				c.f.ReplaceAllUsesWith(op.Results[0], in)
				changed = true
			}

			if c.unused(op) {
				c.erase(id)
				changed = true
			}
		}
	}

	live := c.castList[:0]

	for _, id := range c.castList {
		if c.f.Live(id) {
			live = append(live, id)
		}
	}

	c.castList = live
	c.st.Materializations = len(live)
}

// cancelled reports whether op casts back a value another cast produced.
func (c *conversion) cancelled(op *ir.Op) (ir.Value, bool) {
	if len(op.Operands) != 1 || len(op.Results) != 1 {
		return ir.Value{}, false
	}

	def, _, ok := c.f.Def(op.Operands[0])
	if !ok || !c.casts.IsSet(def.Index()) {
		return ir.Value{}, false
	}

	in := c.f.Op(def)
	if len(in.Operands) != 1 || c.f.Type(in.Operands[0]) != c.f.Type(op.Results[0]) {
		return ir.Value{}, false
	}

	return in.Operands[0], true
}

func (c *conversion) unused(op *ir.Op) bool {
	for _, r := range op.Results {
		if c.f.HasUses(r) {
			return false
		}
	}

	return true
}

func (c *conversion) rollback(rw *Rewriter) {
	created := rw.Created()

	for i := len(created) - 1; i >= 0; i-- {
		if c.f.Live(created[i]) {
			c.erase(created[i])
		}
	}
}

func (c *conversion) erase(id ir.OpID) {
	var ids []ir.OpID

	var collect func(op *ir.Op)
	collect = func(op *ir.Op) {
		ids = append(ids, op.ID)

		for _, r := range op.Regions {
			for _, x := range r.Ops {
				collect(c.f.Op(x))
			}
		}
	}

	collect(c.f.Op(id))

	c.f.Erase(id)

	for _, x := range ids {
		c.legal.Clear(x.Index())
		c.casts.Clear(x.Index())

		delete(c.keys, x)
		delete(c.lineage, x)
		delete(c.deferred, x)
	}
}

func (c *conversion) markCasts(rw *Rewriter) {
	for _, id := range rw.Created() {
		if !c.f.Live(id) {
			continue
		}

		c.casts.Set(id.Index())
		c.castList = append(c.castList, id)
	}
}

func (c *conversion) rewriter(at ir.OpID) *Rewriter {
	rw := NewRewriter(c.f, c.chip, c.Conv, at)
	rw.tr = c.tr

	return rw
}

func (c *conversion) failure(op *ir.Op, r FailureReason, feats []chipset.Feature, detail string) error {
	return LegalizationError{
		Func:     c.f.Name,
		Op:       op.ID,
		Kind:     op.Kind,
		Loc:      op.Loc,
		Chipset:  c.chip,
		Reason:   r,
		Features: feats,
		Detail:   detail,
	}
}

func (c *conversion) push(id ir.OpID) {
	c.next++
	c.keys[id] = c.next

	c.queue.Push(item{key: c.next, op: id})
}

func (c *conversion) pushTree(op *ir.Op) {
	c.push(op.ID)

	for _, r := range op.Regions {
		for _, id := range r.Ops {
			c.pushTree(c.f.Op(id))
		}
	}
}

func (c *conversion) hasTypes(vs []ir.Value, ts []ir.Type) bool {
	if len(vs) != len(ts) {
		return false
	}

	for i, v := range vs {
		if c.f.Type(v) != ts[i] {
			return false
		}
	}

	return true
}

func (c *conversion) allLive(vs []ir.Value) bool {
	for _, v := range vs {
		if !c.f.ValueLive(v) {
			return false
		}
	}

	return true
}

func (c *conversion) dump(when string) {
	c.f.Walk(func(op *ir.Op) bool {
		c.tr.Printw("op "+when, "id", op.ID, "kind", op.Kind, "operands", op.Operands, "results", op.Results, "types", c.f.Types(op.Results))

		return true
	})
}

func (d *Driver) maxIdentical() int {
	if d.MaxIdenticalRewrites <= 0 {
		return DefaultMaxIdenticalRewrites
	}

	return d.MaxIdenticalRewrites
}

func (d *Driver) maxDepth() int {
	if d.MaxDepth <= 0 {
		return DefaultMaxDepth
	}

	return d.MaxDepth
}

func (d *Driver) stepFactor() int {
	if d.StepFactor <= 0 {
		return DefaultStepFactor
	}

	return d.StepFactor
}

func fingerprint(f *ir.Func, op *ir.Op) string {
	return string(op.Kind) + ir.TypesString(f.Types(op.Operands)) + "->" + ir.TypesString(f.Types(op.Results)) + op.Attrs.String()
}

func itemLess(d []item, i, j int) bool {
	return d[i].key < d[j].key
}
