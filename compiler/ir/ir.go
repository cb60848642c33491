package ir

import (
	"fmt"
	"strings"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Kind is an op tag of the form "dialect.name".
	Kind string

	// OpID and Value are generation tagged arena indices.
	// A handle outlives the slot it points to only as a stale handle.
	OpID struct {
		idx int32
		gen uint32
	}

	Value struct {
		idx int32
		gen uint32
	}

	Use struct {
		Op      OpID
		Operand int
	}

	Loc struct {
		File string
		Line int
		Col  int
	}

	Op struct {
		ID       OpID
		Kind     Kind
		Operands []Value
		Results  []Value
		Attrs    Attrs
		Regions  []*Block
		Loc      Loc

		// Block is the block op is placed in, nil while detached.
		Block *Block
	}

	Block struct {
		Args []Value
		Ops  []OpID

		// Parent owns the region this block belongs to.
		// Zero for a function body.
		Parent OpID
	}

	Func struct {
		Name string
		Body *Block

		ops  []opSlot
		vals []valSlot

		freeOps  []int32
		freeVals []int32
	}

	Module struct {
		Name  string
		Funcs []*Func
	}

	opSlot struct {
		gen uint32
		op  *Op
	}

	valSlot struct {
		gen  uint32
		live bool
		typ  Type

		def OpID // zero for block arguments
		res int  // result or argument index

		block *Block // for block arguments
		uses  []Use
	}

	StaleHandleError struct {
		Handle any
	}
)

func (k Kind) Dialect() string {
	d, _, _ := strings.Cut(string(k), ".")
	return d
}

func (id OpID) IsZero() bool   { return id.gen == 0 }
func (v Value) IsZero() bool   { return v.gen == 0 }
func (id OpID) Index() int     { return int(id.idx) }
func (v Value) Index() int     { return int(v.idx) }
func (id OpID) String() string { return fmt.Sprintf("op%d.%d", id.idx, id.gen) }
func (v Value) String() string { return fmt.Sprintf("v%d.%d", v.idx, v.gen) }

func (id OpID) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if id.IsZero() {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "op%d.%d", id.idx, id.gen)
}

func (v Value) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if v.IsZero() {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "v%d.%d", v.idx, v.gen)
}

func (l Loc) String() string {
	if l.Line == 0 {
		return "<unknown>"
	}

	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

func (e StaleHandleError) Error() string {
	return fmt.Sprintf("stale handle: %v", e.Handle)
}

func NewFunc(name string, args ...Type) *Func {
	f := &Func{Name: name}
	f.Body = f.NewBlock(args...)

	return f
}

func (f *Func) NewBlock(args ...Type) *Block {
	b := &Block{}

	for i, t := range args {
		v := f.allocValue(valSlot{typ: t, res: i, block: b})
		b.Args = append(b.Args, v)
	}

	return b
}

// NewOp creates a detached op and registers its operand uses.
func (f *Func) NewOp(kind Kind, operands []Value, results []Type, attrs Attrs, regions ...*Block) *Op {
	op := &Op{
		Kind:     kind,
		Operands: append([]Value{}, operands...),
		Attrs:    attrs,
		Regions:  regions,
	}

	op.ID = f.allocOp(op)

	for i, t := range results {
		v := f.allocValue(valSlot{typ: t, def: op.ID, res: i})
		op.Results = append(op.Results, v)
	}

	for i, v := range op.Operands {
		f.addUse(v, Use{Op: op.ID, Operand: i})
	}

	for _, r := range regions {
		r.Parent = op.ID
	}

	return op
}

// Build creates an op and appends it to b.
func (f *Func) Build(b *Block, kind Kind, operands []Value, results []Type, attrs Attrs, regions ...*Block) *Op {
	op := f.NewOp(kind, operands, results, attrs, regions...)
	f.Append(b, op)

	return op
}

func (f *Func) Append(b *Block, op *Op) {
	if op.Block != nil {
		panic("op is already placed")
	}

	op.Block = b
	b.Ops = append(b.Ops, op.ID)
}

// InsertBefore places detached op right before the op at.
func (f *Func) InsertBefore(at OpID, op *Op) {
	if op.Block != nil {
		panic("op is already placed")
	}

	b := f.Op(at).Block
	i := b.IndexOf(at)

	b.Ops = append(b.Ops, OpID{})
	copy(b.Ops[i+1:], b.Ops[i:])
	b.Ops[i] = op.ID

	op.Block = b
}

func (b *Block) IndexOf(id OpID) int {
	for i, x := range b.Ops {
		if x == id {
			return i
		}
	}

	return -1
}

func (f *Func) Live(id OpID) bool {
	return id.gen != 0 && int(id.idx) < len(f.ops) && f.ops[id.idx].gen == id.gen && f.ops[id.idx].op != nil
}

func (f *Func) ValueLive(v Value) bool {
	return v.gen != 0 && int(v.idx) < len(f.vals) && f.vals[v.idx].gen == v.gen && f.vals[v.idx].live
}

func (f *Func) Op(id OpID) *Op {
	if !f.Live(id) {
		panic(StaleHandleError{Handle: id})
	}

	return f.ops[id.idx].op
}

func (f *Func) val(v Value) *valSlot {
	if !f.ValueLive(v) {
		panic(StaleHandleError{Handle: v})
	}

	return &f.vals[v.idx]
}

func (f *Func) Type(v Value) Type { return f.val(v).typ }

// Def returns the defining op and result index of v.
// ok is false for block arguments.
func (f *Func) Def(v Value) (id OpID, res int, ok bool) {
	s := f.val(v)

	return s.def, s.res, !s.def.IsZero()
}

// ArgBlock returns the block v is an argument of, nil for op results.
func (f *Func) ArgBlock(v Value) *Block { return f.val(v).block }

func (f *Func) Types(vs []Value) []Type {
	ts := make([]Type, len(vs))

	for i, v := range vs {
		ts[i] = f.Type(v)
	}

	return ts
}

func (f *Func) Uses(v Value) []Use {
	return append([]Use{}, f.val(v).uses...)
}

func (f *Func) HasUses(v Value) bool {
	return len(f.val(v).uses) != 0
}

func (f *Func) SetOperand(id OpID, i int, v Value) {
	op := f.Op(id)

	f.dropUse(op.Operands[i], Use{Op: id, Operand: i})
	op.Operands[i] = v
	f.addUse(v, Use{Op: id, Operand: i})
}

// ReplaceAllUsesWith redirects every use of old to repl.
func (f *Func) ReplaceAllUsesWith(old, repl Value) {
	if old == repl {
		return
	}

	for _, u := range f.Uses(old) {
		f.SetOperand(u.Op, u.Operand, repl)
	}
}

// Erase removes op and its nested regions.
// It panics if any result is still used.
func (f *Func) Erase(id OpID) {
	op := f.Op(id)

	for _, v := range op.Results {
		if f.HasUses(v) {
			panic(fmt.Sprintf("erase %v %v: result %v still has %d uses", op.Kind, id, v, len(f.val(v).uses)))
		}
	}

	for _, r := range op.Regions {
		for i := len(r.Ops) - 1; i >= 0; i-- {
			f.Erase(r.Ops[i])
		}

		for _, a := range r.Args {
			f.freeValue(a)
		}
	}

	for i, v := range op.Operands {
		f.dropUse(v, Use{Op: id, Operand: i})
	}

	if b := op.Block; b != nil {
		if i := b.IndexOf(id); i >= 0 {
			b.Ops = append(b.Ops[:i], b.Ops[i+1:]...)
		}

		op.Block = nil
	}

	for _, v := range op.Results {
		f.freeValue(v)
	}

	s := &f.ops[id.idx]
	s.op = nil
	s.gen++

	f.freeOps = append(f.freeOps, id.idx)
}

// Walk visits ops in pre-order: an op before the ops of its regions,
// blocks in program order. Returning false stops the walk.
func (f *Func) Walk(fn func(op *Op) bool) {
	walkBlock(f, f.Body, fn)
}

func walkBlock(f *Func, b *Block, fn func(op *Op) bool) bool {
	for _, id := range append([]OpID{}, b.Ops...) {
		if !f.Live(id) {
			continue
		}

		op := f.Op(id)

		if !fn(op) {
			return false
		}

		for _, r := range op.Regions {
			if !walkBlock(f, r, fn) {
				return false
			}
		}
	}

	return true
}

func (f *Func) NumOps() (n int) {
	f.Walk(func(*Op) bool {
		n++
		return true
	})

	return n
}

// Clone deep copies f. Handles valid in f stay valid in the copy.
func (f *Func) Clone() *Func {
	c := &Func{
		Name:     f.Name,
		ops:      make([]opSlot, len(f.ops)),
		vals:     make([]valSlot, len(f.vals)),
		freeOps:  append([]int32{}, f.freeOps...),
		freeVals: append([]int32{}, f.freeVals...),
	}

	blocks := map[*Block]*Block{nil: nil}

	var cloneBlock func(b *Block) *Block

	cloneBlock = func(b *Block) *Block {
		nb := &Block{
			Args:   append([]Value{}, b.Args...),
			Ops:    append([]OpID{}, b.Ops...),
			Parent: b.Parent,
		}

		blocks[b] = nb

		for _, id := range b.Ops {
			for _, r := range f.ops[id.idx].op.Regions {
				cloneBlock(r)
			}
		}

		return nb
	}

	c.Body = cloneBlock(f.Body)

	for i, s := range f.ops {
		c.ops[i].gen = s.gen

		if s.op == nil {
			continue
		}

		op := *s.op
		op.Operands = append([]Value{}, op.Operands...)
		op.Results = append([]Value{}, op.Results...)
		op.Attrs = append(Attrs{}, op.Attrs...)
		op.Regions = make([]*Block, len(s.op.Regions))

		for j, r := range s.op.Regions {
			op.Regions[j] = blocks[r]
		}

		op.Block = blocks[s.op.Block]

		c.ops[i].op = &op
	}

	for i, s := range f.vals {
		s.uses = append([]Use{}, s.uses...)
		s.block = blocks[s.block]
		c.vals[i] = s
	}

	return c
}

// Replace moves the contents of x into f. x must not be used afterwards.
func (f *Func) Replace(x *Func) {
	*f = *x
}

func (f *Func) allocOp(op *Op) OpID {
	if l := len(f.freeOps); l != 0 {
		idx := f.freeOps[l-1]
		f.freeOps = f.freeOps[:l-1]

		s := &f.ops[idx]
		s.op = op

		return OpID{idx: idx, gen: s.gen}
	}

	f.ops = append(f.ops, opSlot{gen: 1, op: op})

	return OpID{idx: int32(len(f.ops) - 1), gen: 1}
}

func (f *Func) allocValue(s valSlot) Value {
	s.live = true

	if l := len(f.freeVals); l != 0 {
		idx := f.freeVals[l-1]
		f.freeVals = f.freeVals[:l-1]

		s.gen = f.vals[idx].gen
		f.vals[idx] = s

		return Value{idx: idx, gen: s.gen}
	}

	s.gen = 1
	f.vals = append(f.vals, s)

	return Value{idx: int32(len(f.vals) - 1), gen: 1}
}

func (f *Func) freeValue(v Value) {
	s := f.val(v)

	s.live = false
	s.uses = nil
	s.typ = nil
	s.block = nil
	s.gen++

	f.freeVals = append(f.freeVals, v.idx)
}

func (f *Func) addUse(v Value, u Use) {
	s := f.val(v)
	s.uses = append(s.uses, u)
}

func (f *Func) dropUse(v Value, u Use) {
	s := f.val(v)

	for i, x := range s.uses {
		if x == u {
			s.uses = append(s.uses[:i], s.uses[i+1:]...)
			return
		}
	}
}
