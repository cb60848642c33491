package parse

import (
	"bytes"
	"context"
	"strconv"

	"tlog.app/go/errors"
)

type (
	Const []byte

	Ident []byte

	// Kind is a dotted identifier: dialect.name.with.dots.
	Kind struct{}

	// Sigil is a name prefixed by a sigil char: %value, @symbol.
	Sigil byte

	Bool struct{}

	String struct{}
)

func (p Const) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if bytes.HasPrefix(b[st:], p) {
		return Const(b[st : st+len(p)]), st + len(p), nil
	}

	return nil, st, errors.New("%q expected", []byte(p))
}

func (p Ident) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if i == len(b) || !isLetter(b[i]) {
		return nil, st, errors.New("Ident expected")
	}

	for i < len(b) && (isLetter(b[i]) || isDigit(b[i])) {
		i++
	}

	return Ident(b[st:i]), i, nil
}

func (Kind) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	_, i, err = Ident{}.Parse(ctx, b, st)
	if err != nil {
		return nil, st, errors.New("op kind expected")
	}

	for i+1 < len(b) && b[i] == '.' && identCont(b, i+1) {
		i++

		for identCont(b, i) {
			i++
		}
	}

	if bytes.IndexByte(b[st:i], '.') < 0 {
		return nil, i, errors.New("op kind must be dialect.name: %q", b[st:i])
	}

	return string(b[st:i]), i, nil
}

func (p Sigil) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if i == len(b) || b[i] != byte(p) {
		return nil, st, errors.New("%c name expected", byte(p))
	}

	i++

	for i < len(b) && (isLetter(b[i]) || isDigit(b[i]) || b[i] == '.' || b[i] == '$') {
		i++
	}

	if i == st+1 {
		return nil, i, errors.New("empty %c name", byte(p))
	}

	return string(b[st+1 : i]), i, nil
}

func (Bool) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	if bytes.HasPrefix(b[st:], []byte("true")) && !identCont(b, st+4) {
		return true, st + 4, nil
	}

	if bytes.HasPrefix(b[st:], []byte("false")) && !identCont(b, st+5) {
		return false, st + 5, nil
	}

	return nil, st, errors.New("Bool expected")
}

// Parse reads a double quoted string with Go escapes.
func (String) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if st == len(b) || b[st] != '"' {
		return nil, st, errors.New("String expected")
	}

	for i = st + 1; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '\n':
			return nil, i, errors.New("newline in string")
		case '"':
			s, err := strconv.Unquote(string(b[st : i+1]))
			if err != nil {
				return nil, st + 1, errors.Wrap(err, "unquote")
			}

			return s, i + 1, nil
		}
	}

	return nil, i, errors.New("unterminated string")
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func identCont(b []byte, i int) bool {
	return i < len(b) && (isLetter(b[i]) || isDigit(b[i]))
}
