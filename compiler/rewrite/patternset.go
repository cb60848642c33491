package rewrite

import (
	"fmt"
	"sort"

	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	// PatternSet is the registry of patterns offered for one chipset.
	// It is read only once the driver starts.
	PatternSet struct {
		chip chipset.Chipset

		byKind map[ir.Kind][]Pattern
		n      int
	}

	AmbiguousPatternsError struct {
		Kind    ir.Kind
		Benefit int
		Feature chipset.Feature
		First   string
		Second  string
	}
)

func NewPatternSet(chip chipset.Chipset) *PatternSet {
	return &PatternSet{
		chip:   chip,
		byKind: make(map[ir.Kind][]Pattern),
	}
}

func (s *PatternSet) Chipset() chipset.Chipset { return s.chip }

// Add registers patterns. Two patterns with the same root, benefit
// and required feature could never be ordered and are rejected.
func (s *PatternSet) Add(ps ...Pattern) error {
	for _, p := range ps {
		l := s.byKind[p.Root()]

		for _, q := range l {
			if q.Benefit() == p.Benefit() && q.Requires() == p.Requires() {
				return AmbiguousPatternsError{
					Kind:    p.Root(),
					Benefit: p.Benefit(),
					Feature: p.Requires(),
					First:   q.Name(),
					Second:  p.Name(),
				}
			}
		}

		i := sort.Search(len(l), func(i int) bool { return l[i].Benefit() < p.Benefit() })

		l = append(l, nil)
		copy(l[i+1:], l[i:])
		l[i] = p

		s.byKind[p.Root()] = l
		s.n++
	}

	return nil
}

// MustAdd is Add for statically known pattern lists.
func (s *PatternSet) MustAdd(ps ...Pattern) {
	if err := s.Add(ps...); err != nil {
		panic(err)
	}
}

// For returns patterns rooted at kind, highest benefit first.
// Equal benefits keep registration order.
func (s *PatternSet) For(kind ir.Kind) []Pattern {
	return s.byKind[kind]
}

func (s *PatternSet) Len() int { return s.n }

func (s *PatternSet) Kinds() []ir.Kind {
	l := make([]ir.Kind, 0, len(s.byKind))

	for k := range s.byKind {
		l = append(l, k)
	}

	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })

	return l
}

func (e AmbiguousPatternsError) Error() string {
	return fmt.Sprintf("ambiguous patterns for %v (benefit %d, feature %v): %s and %s", e.Kind, e.Benefit, e.Feature, e.First, e.Second)
}
