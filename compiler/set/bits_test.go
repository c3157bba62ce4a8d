package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	var s Bits[int]

	assert.False(t, s.IsSet(100))

	s.Set(1)
	s.Set(64)
	s.Set(130)

	assert.True(t, s.IsSet(64))
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, []int{1, 64, 130}, s.Slice())

	c := s.Copy()
	c.Clear(64)

	assert.True(t, s.IsSet(64))
	assert.False(t, c.IsSet(64))
	assert.False(t, s.Equal(c))

	c.Set(64)
	assert.True(t, s.Equal(c))

	var x Bits[int]
	x.Set(2)

	assert.True(t, c.Merge(x))
	assert.False(t, c.Merge(x))

	c.Subtract(s)
	assert.Equal(t, []int{2}, c.Slice())

	c.Clear(2)
	assert.True(t, c.Equal(Bits[int]{}), "trailing zero words")
}
