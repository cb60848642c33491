package rewrite

import (
	"fmt"
	"strings"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	FailureReason int

	// LegalizationError names the first op no pattern could legalize.
	// The function it was found in is left unmodified.
	LegalizationError struct {
		Func    string
		Op      ir.OpID
		Kind    ir.Kind
		Loc     ir.Loc
		Chipset chipset.Chipset

		Reason   FailureReason
		Features []chipset.Feature
		Detail   string
	}

	// NonTerminatingRewriteError means patterns keep producing ops
	// they were asked to replace. It is a bug in a pattern.
	NonTerminatingRewriteError struct {
		Func    string
		Kind    ir.Kind
		Pattern string
		Depth   int
		Steps   int
	}
)

const (
	NoPattern FailureReason = iota
	MissingFeature
	MissingTypeMapping
	PatternDeclined
)

func (r FailureReason) String() string {
	switch r {
	case NoPattern:
		return "no pattern"
	case MissingFeature:
		return "missing chipset feature"
	case MissingTypeMapping:
		return "missing type mapping"
	case PatternDeclined:
		return "patterns declined"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

func (e LegalizationError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "func @%s: failed to legalize %v at %v: %v", e.Func, e.Kind, e.Loc, e.Reason)

	if len(e.Features) != 0 {
		b.WriteString(" ")

		for i, f := range e.Features {
			if i != 0 {
				b.WriteString(", ")
			}

			b.WriteString(f.String())
		}

		fmt.Fprintf(&b, " (%v)", e.Chipset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	return b.String()
}

func (e NonTerminatingRewriteError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("func @%s: rewriting does not terminate: %d steps at %v", e.Func, e.Steps, e.Kind)
	}

	return fmt.Sprintf("func @%s: rewriting does not terminate: pattern %s keeps producing %v (depth %d)", e.Func, e.Pattern, e.Kind, e.Depth)
}
