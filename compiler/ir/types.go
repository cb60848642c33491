package ir

import (
	"strconv"
)

type (
	Type interface {
		Bits() int
		String() string
	}

	// Int is a signless integer.
	Int struct {
		Width int
	}

	Float struct {
		Kind FloatKind
	}

	FloatKind uint8

	// Index is the target-independent machine word.
	// Its width is decided by the type converter.
	Index struct{}

	Vector struct {
		Len  int
		Elem Type
	}

	Ptr struct {
		Space int
	}
)

const (
	F16 FloatKind = iota
	BF16
	F32
	F64
)

var (
	I1  = Int{Width: 1}
	I8  = Int{Width: 8}
	I16 = Int{Width: 16}
	I32 = Int{Width: 32}
	I64 = Int{Width: 64}

	F16T  = Float{Kind: F16}
	BF16T = Float{Kind: BF16}
	F32T  = Float{Kind: F32}
	F64T  = Float{Kind: F64}
)

func (x Int) Bits() int { return x.Width }

func (x Float) Bits() int {
	switch x.Kind {
	case F16, BF16:
		return 16
	case F32:
		return 32
	default:
		return 64
	}
}

func (x Index) Bits() int  { return 64 }
func (x Ptr) Bits() int    { return 64 }
func (x Vector) Bits() int { return x.Len * x.Elem.Bits() }

func (x Int) String() string { return "i" + strconv.Itoa(x.Width) }

func (k FloatKind) String() string {
	switch k {
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "float" + strconv.Itoa(int(k))
	}
}

func (x Float) String() string { return x.Kind.String() }

func (x Index) String() string { return "index" }

func (x Vector) String() string {
	return "vector<" + strconv.Itoa(x.Len) + "x" + x.Elem.String() + ">"
}

func (x Ptr) String() string {
	if x.Space == 0 {
		return "ptr"
	}

	return "ptr<" + strconv.Itoa(x.Space) + ">"
}

// ElemType returns the scalar type of t: the element of a vector or t itself.
func ElemType(t Type) Type {
	if v, ok := t.(Vector); ok {
		return v.Elem
	}

	return t
}

func IsFloat(t Type) bool {
	_, ok := ElemType(t).(Float)
	return ok
}

func IsInt(t Type) bool {
	_, ok := ElemType(t).(Int)
	return ok
}

// IntOfWidth returns the integer type with the same shape and bit width as t.
func IntOfWidth(t Type) Type {
	if v, ok := t.(Vector); ok {
		return Vector{Len: v.Len, Elem: Int{Width: v.Elem.Bits()}}
	}

	return Int{Width: t.Bits()}
}

func TypesString(ts []Type) string {
	b := []byte{'('}

	for i, t := range ts {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, t.String()...)
	}

	b = append(b, ')')

	return string(b)
}
