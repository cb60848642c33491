package parse

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
)

type (
	Num struct{}

	Int struct{}

	Float struct{}
)

// Parse returns int64 for integer literals and float64 otherwise.
// Hex literals are read as unsigned 64 bit patterns.
func (p Num) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}

	if hex(b, i) {
		return Int{}.Parse(ctx, b, st)
	}

	dst := i
	dot := false
	exp := false

loop:
	for ; i < len(b); i++ {
		switch {
		case isDigit(b[i]):
		case !dot && !exp && b[i] == '.':
			dot = true
		case !exp && i != dst && (b[i] == 'e' || b[i] == 'E'):
			exp = true

			if i+1 < len(b) && (b[i+1] == '-' || b[i+1] == '+') {
				i++
			}
		default:
			break loop
		}
	}

	if i == dst || i == dst+1 && b[dst] == '.' {
		return nil, st, errors.New("Num expected")
	}

	if !dot && !exp {
		return Int{}.Parse(ctx, b, st)
	}

	f, err := strconv.ParseFloat(string(b[st:i]), 64)
	if err != nil {
		return nil, i, errors.Wrap(err, "parse float")
	}

	return f, i, nil
}

func (p Int) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}

	isHex := hex(b, i)
	if isHex {
		i += 2
	}

	dst := i

	for i < len(b) && (isDigit(b[i]) || isHex && isHexLetter(b[i])) {
		i++
	}

	if i == dst {
		return nil, st, errors.New("Int expected")
	}

	s := string(b[st:i])

	if isHex && b[st] == '0' {
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, i, errors.Wrap(err, "parse int")
		}

		return int64(u), i, nil
	}

	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return nil, i, errors.Wrap(err, "parse int")
	}

	return v, i, nil
}

func (p Float) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = Num{}.Parse(ctx, b, st)
	if err != nil {
		return nil, st, errors.New("Float expected")
	}

	if y, ok := x.(int64); ok {
		x = float64(y)
	}

	return
}

func hex(b []byte, i int) bool {
	return i+1 < len(b) && b[i] == '0' && (b[i+1] == 'x' || b[i+1] == 'X')
}

func isHexLetter(c byte) bool {
	return c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
