package ir

import (
	"math"
	"sort"
	"strconv"

	"github.com/x448/float16"
)

type (
	Attr interface {
		String() string
	}

	IntAttr    int64
	BoolAttr   bool
	StringAttr string

	// FloatAttr stores the exact bit pattern of a value of float type Type.
	FloatAttr struct {
		Type Float
		Bits uint64
	}

	TypeAttr struct {
		Type Type
	}

	NamedAttr struct {
		Name  string
		Value Attr
	}

	// Attrs is kept sorted by name.
	Attrs []NamedAttr
)

func (a IntAttr) String() string    { return strconv.FormatInt(int64(a), 10) }
func (a BoolAttr) String() string   { return strconv.FormatBool(bool(a)) }
func (a StringAttr) String() string { return strconv.Quote(string(a)) }
func (a TypeAttr) String() string   { return a.Type.String() }

// FloatAttrOf rounds v to the precision of t.
func FloatAttrOf(t Float, v float64) FloatAttr {
	a := FloatAttr{Type: t}

	switch t.Kind {
	case F16:
		a.Bits = uint64(float16.Fromfloat32(float32(v)).Bits())
	case BF16:
		a.Bits = uint64(BF16FromFloat32(float32(v)))
	case F32:
		a.Bits = uint64(math.Float32bits(float32(v)))
	default:
		a.Bits = math.Float64bits(v)
	}

	return a
}

func (a FloatAttr) Float64() float64 {
	switch a.Type.Kind {
	case F16:
		return float64(float16.Frombits(uint16(a.Bits)).Float32())
	case BF16:
		return float64(BF16ToFloat32(uint16(a.Bits)))
	case F32:
		return float64(math.Float32frombits(uint32(a.Bits)))
	default:
		return math.Float64frombits(a.Bits)
	}
}

// String prints a decimal form when it reads back to the same bits
// and the raw bit pattern otherwise (NaN payloads, infinities).
func (a FloatAttr) String() string {
	v := a.Float64()

	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		s := strconv.FormatFloat(v, 'g', -1, 64)

		if FloatAttrOf(a.Type, v).Bits == a.Bits {
			return s + " : " + a.Type.String()
		}
	}

	return "0x" + strconv.FormatUint(a.Bits, 16) + " : " + a.Type.String()
}

// BF16FromFloat32 rounds to nearest even. NaN stays NaN.
func BF16FromFloat32(f float32) uint16 {
	b := math.Float32bits(f)

	if math.IsNaN(float64(f)) {
		return uint16(b>>16) | 0x40
	}

	b += 0x7fff + (b>>16)&1

	return uint16(b >> 16)
}

func BF16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

func (as Attrs) Get(name string) (Attr, bool) {
	i := sort.Search(len(as), func(i int) bool { return as[i].Name >= name })
	if i < len(as) && as[i].Name == name {
		return as[i].Value, true
	}

	return nil, false
}

func (as Attrs) Int(name string) (int64, bool) {
	a, ok := as.Get(name)
	if !ok {
		return 0, false
	}

	v, ok := a.(IntAttr)

	return int64(v), ok
}

// IntOr returns the named int attribute or def when absent.
func (as Attrs) IntOr(name string, def int64) int64 {
	if v, ok := as.Int(name); ok {
		return v
	}

	return def
}

func (as Attrs) Bool(name string) bool {
	a, _ := as.Get(name)
	v, _ := a.(BoolAttr)

	return bool(v)
}

func (as Attrs) Str(name string) (string, bool) {
	a, ok := as.Get(name)
	if !ok {
		return "", false
	}

	v, ok := a.(StringAttr)

	return string(v), ok
}

// With returns a copy of as with name set to v.
func (as Attrs) With(name string, v Attr) Attrs {
	r := make(Attrs, 0, len(as)+1)

	i := sort.Search(len(as), func(i int) bool { return as[i].Name >= name })

	r = append(r, as[:i]...)
	r = append(r, NamedAttr{Name: name, Value: v})

	if i < len(as) && as[i].Name == name {
		i++
	}

	r = append(r, as[i:]...)

	return r
}

// MakeAttrs builds sorted Attrs from name/value pairs.
func MakeAttrs(kv ...any) Attrs {
	var as Attrs

	for i := 0; i+1 < len(kv); i += 2 {
		as = as.With(kv[i].(string), kv[i+1].(Attr))
	}

	return as
}

func (as Attrs) String() string {
	if len(as) == 0 {
		return ""
	}

	b := []byte{'{'}

	for i, a := range as {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, a.Name...)
		b = append(b, " = "...)
		b = append(b, a.Value.String()...)
	}

	b = append(b, '}')

	return string(b)
}
