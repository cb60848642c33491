// Package typeconv maps source dialect types onto target dialect types
// and bridges values across a type mismatch with explicit cast ops.
package typeconv

import (
	"fmt"

	"tlog.app/go/errors"

	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	// Rule converts t. applied is false when the rule does not handle t.
	// An applied rule with no result types drops the value.
	Rule func(t ir.Type) (res []ir.Type, applied bool, err error)

	// Builder creates ops at the current insertion point.
	Builder interface {
		Func() *ir.Func
		Create(kind ir.Kind, operands []ir.Value, results []ir.Type, attrs ir.Attrs) *ir.Op
	}

	// SourceMaterializer rebuilds one value of source type t from converted inputs.
	SourceMaterializer func(b Builder, t ir.Type, inputs []ir.Value) (ir.Value, bool)

	// TargetMaterializer converts one value into values of the target types ts.
	TargetMaterializer func(b Builder, ts []ir.Type, input ir.Value) ([]ir.Value, bool)

	Converter struct {
		IndexBitwidth int

		rules  []Rule
		source []SourceMaterializer
		target []TargetMaterializer

		frozen bool
	}

	UnsupportedTypeError struct {
		Type   ir.Type
		Reason string
	}
)

const (
	KindBitcast ir.Kind = "llvm.bitcast"
	KindCast    ir.Kind = "builtin.unrealized_conversion_cast"
)

var ErrFrozen = errors.New("type converter is frozen")

// New creates a Converter lowering index to an integer of indexBits bits.
func New(indexBits int) *Converter {
	if indexBits <= 0 {
		indexBits = 64
	}

	c := &Converter{IndexBitwidth: indexBits}

	c.AddConversion(func(t ir.Type) ([]ir.Type, bool, error) {
		if _, ok := t.(ir.Index); !ok {
			return nil, false, nil
		}

		return []ir.Type{ir.Int{Width: c.IndexBitwidth}}, true, nil
	})

	return c
}

// AddConversion registers r. Rules added later are tried first.
func (c *Converter) AddConversion(r Rule) {
	c.mustNotBeFrozen()

	c.rules = append(c.rules, r)
}

func (c *Converter) AddSourceMaterialization(m SourceMaterializer) {
	c.mustNotBeFrozen()

	c.source = append(c.source, m)
}

func (c *Converter) AddTargetMaterialization(m TargetMaterializer) {
	c.mustNotBeFrozen()

	c.target = append(c.target, m)
}

// Freeze makes c read-only so it can be shared between goroutines.
func (c *Converter) Freeze() { c.frozen = true }

func (c *Converter) Frozen() bool { return c.frozen }

func (c *Converter) mustNotBeFrozen() {
	if c.frozen {
		panic(ErrFrozen)
	}
}

// ConvertType returns the target types for t.
// Types no rule applies to are passed through unchanged.
func (c *Converter) ConvertType(t ir.Type) ([]ir.Type, error) {
	for i := len(c.rules) - 1; i >= 0; i-- {
		res, ok, err := c.rules[i](t)
		if err != nil {
			return nil, err
		}

		if ok {
			return res, nil
		}
	}

	if v, ok := t.(ir.Vector); ok {
		el, err := c.ConvertOne(v.Elem)
		if err != nil {
			return nil, errors.Wrap(err, "vector element")
		}

		return []ir.Type{ir.Vector{Len: v.Len, Elem: el}}, nil
	}

	return []ir.Type{t}, nil
}

// ConvertOne is ConvertType for conversions which must be one to one.
func (c *Converter) ConvertOne(t ir.Type) (ir.Type, error) {
	res, err := c.ConvertType(t)
	if err != nil {
		return nil, err
	}

	if len(res) != 1 {
		return nil, UnsupportedTypeError{Type: t, Reason: fmt.Sprintf("converts to %d types", len(res))}
	}

	return res[0], nil
}

func (c *Converter) ConvertTypes(ts []ir.Type) ([]ir.Type, error) {
	var r []ir.Type

	for i, t := range ts {
		res, err := c.ConvertType(t)
		if err != nil {
			return nil, errors.Wrap(err, "type %d", i)
		}

		r = append(r, res...)
	}

	return r, nil
}

// IsLegal reports whether t converts to itself.
func (c *Converter) IsLegal(t ir.Type) bool {
	res, err := c.ConvertType(t)

	return err == nil && len(res) == 1 && res[0] == t
}

func (c *Converter) AreLegal(ts []ir.Type) bool {
	for _, t := range ts {
		if !c.IsLegal(t) {
			return false
		}
	}

	return true
}

// Bridges reports whether a cast from types from to types to
// is one a materialization would build: either side is the conversion of the other.
func (c *Converter) Bridges(from, to []ir.Type) bool {
	if len(to) == 1 {
		if res, err := c.ConvertType(to[0]); err == nil && sameTypes(res, from) {
			return true
		}
	}

	if len(from) == 1 {
		if res, err := c.ConvertType(from[0]); err == nil && sameTypes(res, to) {
			return true
		}
	}

	return false
}

func sameTypes(a, b []ir.Type) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// MaterializeSource builds a value of source type t out of converted inputs.
func (c *Converter) MaterializeSource(b Builder, t ir.Type, inputs []ir.Value) (ir.Value, error) {
	for i := len(c.source) - 1; i >= 0; i-- {
		if v, ok := c.source[i](b, t, inputs); ok {
			return v, nil
		}
	}

	return defaultCast(b, []ir.Type{t}, inputs)[0], nil
}

// MaterializeTarget converts input into values of types ts.
func (c *Converter) MaterializeTarget(b Builder, ts []ir.Type, input ir.Value) ([]ir.Value, error) {
	for i := len(c.target) - 1; i >= 0; i-- {
		if vs, ok := c.target[i](b, ts, input); ok {
			if len(vs) != len(ts) {
				return nil, errors.New("target materialization produced %d values, want %d", len(vs), len(ts))
			}

			return vs, nil
		}
	}

	return defaultCast(b, ts, []ir.Value{input}), nil
}

// defaultCast reinterprets bits with llvm.bitcast when that is possible
// and falls back to an unrealized cast otherwise.
func defaultCast(b Builder, ts []ir.Type, inputs []ir.Value) []ir.Value {
	f := b.Func()

	if len(ts) == 1 && len(inputs) == 1 && Bitcastable(f.Type(inputs[0]), ts[0]) {
		return b.Create(KindBitcast, inputs, ts, nil).Results
	}

	return b.Create(KindCast, inputs, ts, nil).Results
}

// Bitcastable reports whether a value of type from may be
// reinterpreted as to without changing its bits.
func Bitcastable(from, to ir.Type) bool {
	if from == to {
		return false
	}

	switch from.(type) {
	case ir.Index, ir.Ptr:
		return false
	}

	switch to.(type) {
	case ir.Index, ir.Ptr:
		return false
	}

	return from.Bits() == to.Bits()
}

func (e UnsupportedTypeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported type %v", e.Type)
	}

	return fmt.Sprintf("unsupported type %v: %s", e.Type, e.Reason)
}
