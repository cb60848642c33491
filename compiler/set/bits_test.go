package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	s := MakeBits[int]()

	assert.False(t, s.IsSet(3))

	for _, k := range []int{3, 64, 0, 200, 65} {
		s.Set(k)
	}

	assert.True(t, s.IsSet(200))
	assert.False(t, s.IsSet(199))
	assert.Equal(t, 5, s.Size())

	var got []int

	s.Range(func(k int) bool {
		got = append(got, k)
		return true
	})

	assert.Equal(t, []int{0, 3, 64, 65, 200}, got)

	s.Clear(64)
	s.Clear(10000)

	assert.False(t, s.IsSet(64))
	assert.Equal(t, 4, s.Size())

	s.Reset()

	assert.Equal(t, 0, s.Size())
}

func TestBitsRangeStop(t *testing.T) {
	var s Bits[int32]

	s.Set(1)
	s.Set(2)
	s.Set(130)

	n := 0

	s.Range(func(k int32) bool {
		n++
		return k < 2
	})

	assert.Equal(t, 2, n)
}
