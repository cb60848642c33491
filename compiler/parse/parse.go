package parse

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"reflect"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/amdlower/compiler/ir"
)

type (
	Node = any

	State struct {
		b []byte // all files concatenated

		Grammar Parser

		files []file

		// per function
		fn     *ir.Func
		scopes []map[string]ir.Value
	}

	file struct {
		base int
		size int
		name string
	}

	Parser interface {
		Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error)
	}

	// SyntaxError is an input error at a text position.
	SyntaxError struct {
		File string
		Line int
		Col  int
		Err  error
	}

	TypeExpectedError struct {
		T interface{}
	}

	PartialReadError struct {
		End int
	}

	stateCtxKey struct{}
)

func ParseFile(ctx context.Context, name string) (*ir.Module, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Parse(ctx, name, data)
}

func Parse(ctx context.Context, name string, text []byte) (m *ir.Module, err error) {
	s := New()

	s.AddFile(name, text)

	return s.Parse(ctx)
}

func New() *State {
	return &State{
		Grammar: Module{},
	}
}

// Parse parses all added files into one module.
func (s *State) Parse(ctx context.Context) (m *ir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "parse", "files", len(s.files), "size", len(s.b))
	defer tr.Finish("err", &err)

	ctx = context.WithValue(ctx, stateCtxKey{}, s)

	m = &ir.Module{}

	for _, f := range s.files {
		end := f.base + f.size

		x, i, err := s.Grammar.Parse(ctx, s.b[:end], f.base)
		if err != nil {
			return nil, s.syntaxError(i, err)
		}

		i = SpaceAll.SkipComments(s.b[:end], i)

		if i != end {
			return nil, s.syntaxError(i, PartialReadError{End: i})
		}

		fm, err := as[*ir.Module](x)
		if err != nil {
			return nil, s.syntaxError(f.base, err)
		}

		if m.Name == "" {
			m.Name = fm.Name
		}

		m.Funcs = append(m.Funcs, fm.Funcs...)
	}

	if tr.If("dump_parsed") {
		tr.Printw("parsed", "module", m.Name, "funcs", len(m.Funcs))
	}

	return m, nil
}

func (s *State) AddFile(name string, text []byte) {
	f := file{
		name: name,
		base: len(s.b),
		size: len(text),
	}

	s.b = append(s.b, text...)

	s.files = append(s.files, f)
}

func (s *State) Text(pos, end int) []byte {
	return s.b[pos:end]
}

// Loc converts a text offset into a source location.
func (s *State) Loc(pos int) ir.Loc {
	for _, f := range s.files {
		if pos < f.base || pos > f.base+f.size {
			continue
		}

		text := s.b[f.base:pos]

		line := 1 + bytes.Count(text, []byte{'\n'})
		col := pos - f.base + 1

		if nl := bytes.LastIndexByte(text, '\n'); nl >= 0 {
			col = len(text) - nl
		}

		return ir.Loc{File: f.name, Line: line, Col: col}
	}

	return ir.Loc{}
}

func (s *State) syntaxError(pos int, err error) SyntaxError {
	l := s.Loc(pos)

	return SyntaxError{
		File: l.File,
		Line: l.Line,
		Col:  l.Col,
		Err:  err,
	}
}

func (s *State) beginFunc(f *ir.Func) {
	s.fn = f
	s.scopes = []map[string]ir.Value{{}}
}

func (s *State) push() { s.scopes = append(s.scopes, map[string]ir.Value{}) }
func (s *State) pop()  { s.scopes = s.scopes[:len(s.scopes)-1] }

func (s *State) define(name string, v ir.Value) error {
	sc := s.scopes[len(s.scopes)-1]

	if _, ok := sc[name]; ok {
		return errors.New("value %%%s redefined", name)
	}

	sc[name] = v

	return nil
}

func (s *State) lookup(name string) (ir.Value, error) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i][name]; ok {
			return v, nil
		}
	}

	return ir.Value{}, errors.New("undefined value %%%s", name)
}

func NewTypeExpectedError(t interface{}) TypeExpectedError {
	return TypeExpectedError{
		T: t,
	}
}

func StateFromContext(ctx context.Context) *State {
	return ctx.Value(stateCtxKey{}).(*State)
}

func as[T any](x Node) (T, error) {
	r, ok := x.(T)
	if !ok {
		var zero T
		return zero, NewTypeExpectedError(reflect.TypeOf((*T)(nil)).Elem())
	}

	return r, nil
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Col, e.Err)
}

func (e SyntaxError) Unwrap() error { return e.Err }

func (e TypeExpectedError) Error() string {
	t, ok := e.T.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(e.T)
	}

	return fmt.Sprintf("%v expected", t)
}

func (e PartialReadError) Error() string {
	return "unexpected input"
}
