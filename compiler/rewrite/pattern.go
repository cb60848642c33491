// Package rewrite is a pattern based dialect conversion engine.
//
// Patterns are grouped in a PatternSet bound to a chipset.
// Driver applies them to a function until every op is legal
// for a Target, or reports the first op it could not legalize.
package rewrite

import (
	"fmt"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	Pattern interface {
		Name() string

		// Root is the op kind the pattern rewrites.
		Root() ir.Kind

		// Benefit orders patterns with the same root, higher first.
		Benefit() int

		// Requires is the chipset feature the pattern needs.
		Requires() chipset.Feature

		// Match is a pure predicate over op kind, types and attributes.
		Match(f *ir.Func, op *ir.Op) bool

		// Rewrite creates the replacement ops through rw and returns
		// values replacing op results, or NoMatch.
		Rewrite(rw *Rewriter, op *ir.Op, operands Adaptor) Result
	}

	// Base implements the bookkeeping part of Pattern.
	Base struct {
		PatternName string
		Kind        ir.Kind
		Ben         int
		Feature     chipset.Feature
	}

	// Func is a Pattern built out of functions.
	Func struct {
		Base

		MatchFunc   func(f *ir.Func, op *ir.Op) bool
		RewriteFunc func(rw *Rewriter, op *ir.Op, operands Adaptor) Result
	}

	// Result is either Matched with the replacement values or NoMatch.
	Result struct {
		values  []ir.Value
		reason  string
		matched bool
	}

	// Adaptor holds op operands after type conversion.
	// An operand converted one to many has several values.
	Adaptor struct {
		vals [][]ir.Value
	}
)

func (b Base) Name() string {
	if b.PatternName != "" {
		return b.PatternName
	}

	return string(b.Kind)
}

func (b Base) Root() ir.Kind               { return b.Kind }
func (b Base) Benefit() int                { return b.Ben }
func (b Base) Requires() chipset.Feature   { return b.Feature }
func (b Base) Match(*ir.Func, *ir.Op) bool { return true }

func (p Func) Match(f *ir.Func, op *ir.Op) bool {
	if p.MatchFunc == nil {
		return true
	}

	return p.MatchFunc(f, op)
}

func (p Func) Rewrite(rw *Rewriter, op *ir.Op, operands Adaptor) Result {
	return p.RewriteFunc(rw, op, operands)
}

// Matched replaces op results, one value per result
// or one value per converted result type.
func Matched(values ...ir.Value) Result {
	return Result{values: values, matched: true}
}

func NoMatch(format string, args ...any) Result {
	return Result{reason: fmt.Sprintf(format, args...)}
}

func (r Result) OK() bool           { return r.matched }
func (r Result) Values() []ir.Value { return r.values }
func (r Result) Reason() string     { return r.reason }

func MakeAdaptor(vals [][]ir.Value) Adaptor {
	return Adaptor{vals: vals}
}

func (a Adaptor) Len() int { return len(a.vals) }

// Get returns the single value operand i was converted to.
func (a Adaptor) Get(i int) ir.Value {
	if len(a.vals[i]) != 1 {
		panic(fmt.Sprintf("operand %d converted to %d values", i, len(a.vals[i])))
	}

	return a.vals[i][0]
}

func (a Adaptor) Range(i int) []ir.Value { return a.vals[i] }

func (a Adaptor) Flat() (r []ir.Value) {
	for _, vs := range a.vals {
		r = append(r, vs...)
	}

	return r
}
