package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bitsetOf(n int, members ...int) *Bitset {
	b := NewBitset(n)
	for _, i := range members {
		b.Set(i)
	}
	return b
}

func TestBitset_SetClearTest(t *testing.T) {
	b := NewBitset(40)
	b.Set(0)
	b.Set(39)
	b.Set(-3)
	assert.True(t, b.Test(0))
	assert.True(t, b.Test(39))
	assert.False(t, b.Test(-3))
	assert.False(t, b.Test(1000))
	assert.Equal(t, 2, b.Count())

	b.Clear(0)
	b.Clear(5000)
	assert.False(t, b.Test(0))
	assert.Equal(t, []int{39}, b.Members())
}

func TestBitset_GrowsOnSet(t *testing.T) {
	b := NewBitset(0)
	b.Set(130)
	assert.True(t, b.Test(130))
	assert.Equal(t, "{130}", b.String())
}

func TestBitset_Algebra(t *testing.T) {
	a := bitsetOf(64, 1, 3, 5)
	wide := bitsetOf(256, 3, 200)

	tests := []struct {
		name string
		got  *Bitset
		want []int
	}{
		{"union", a.Union(wide), []int{1, 3, 5, 200}},
		{"intersect", a.Intersect(wide), []int{3}},
		{"difference", a.Difference(wide), []int{1, 5}},
		{"difference wide", wide.Difference(a), []int{200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got.Members())
		})
	}

	assert.Equal(t, []int{1, 3, 5}, a.Members(), "operands are untouched")
	assert.Equal(t, []int{3, 200}, wide.Members())
}

func TestBitset_Nil(t *testing.T) {
	var b *Bitset
	assert.True(t, b.IsEmpty())
	assert.False(t, b.Test(1))
	assert.Zero(t, b.Count())
	assert.Equal(t, "{}", b.String())
	assert.Equal(t, []int{2}, b.Union(bitsetOf(8, 2)).Members())
	assert.True(t, b.Intersect(bitsetOf(8, 2)).IsEmpty())
	assert.True(t, b.Equal(NewBitset(512)))
}

func TestBitset_EachStops(t *testing.T) {
	b := bitsetOf(128, 2, 64, 90, 127)
	var seen []int
	b.Each(func(i int) bool {
		seen = append(seen, i)
		return len(seen) < 2
	})
	assert.Equal(t, []int{2, 64}, seen)
}

func TestBitset_CloneAndEqual(t *testing.T) {
	a := bitsetOf(10, 4, 8)
	c := a.Clone()
	assert.True(t, a.Equal(c))

	c.Set(9)
	assert.False(t, a.Equal(c))
	assert.False(t, a.Test(9))

	assert.True(t, bitsetOf(10, 4).Equal(bitsetOf(300, 4)), "capacity is ignored")
	assert.False(t, bitsetOf(10).Equal(bitsetOf(300, 299)))
}
