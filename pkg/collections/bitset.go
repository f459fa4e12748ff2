// Package collections provides small data structures shared by the tool interface.
package collections

import (
	"math/bits"
	"strconv"
	"strings"
)

// Bitset is a growable set of small non-negative integers. Set and Clear mutate;
// Union, Intersect and Difference return fresh bitsets.
type Bitset struct {
	words []uint64
}

// NewBitset creates a bitset with room for n bits before it has to grow.
func NewBitset(n int) *Bitset {
	if n < 1 {
		n = 1
	}
	return &Bitset{words: make([]uint64, (n+63)>>6)}
}

func (b *Bitset) word(i int) uint64 {
	if b == nil || i >= len(b.words) {
		return 0
	}
	return b.words[i]
}

func (b *Bitset) len() int {
	if b == nil {
		return 0
	}
	return len(b.words)
}

// Set adds i. Negative indices are ignored.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	if w := i >> 6; w >= len(b.words) {
		grown := make([]uint64, w+1)
		copy(grown, b.words)
		b.words = grown
	}
	b.words[i>>6] |= 1 << uint(i&63)
}

// Clear removes i.
func (b *Bitset) Clear(i int) {
	if i >= 0 && i>>6 < len(b.words) {
		b.words[i>>6] &^= 1 << uint(i&63)
	}
}

// Test reports whether i is in the set.
func (b *Bitset) Test(i int) bool {
	return i >= 0 && b.word(i>>6)&(1<<uint(i&63)) != 0
}

// Count returns the number of members.
func (b *Bitset) Count() int {
	n := 0
	for i := 0; i < b.len(); i++ {
		n += bits.OnesCount64(b.words[i])
	}
	return n
}

// IsEmpty reports whether the set has no members. A nil Bitset is empty.
func (b *Bitset) IsEmpty() bool {
	for i := 0; i < b.len(); i++ {
		if b.words[i] != 0 {
			return false
		}
	}
	return true
}

// Equal compares membership only; capacity is ignored.
func (b *Bitset) Equal(o *Bitset) bool {
	n := max(b.len(), o.len())
	for i := 0; i < n; i++ {
		if b.word(i) != o.word(i) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (b *Bitset) Clone() *Bitset {
	c := &Bitset{words: make([]uint64, max(b.len(), 1))}
	for i := 0; i < b.len(); i++ {
		c.words[i] = b.words[i]
	}
	return c
}

func combine(a, o *Bitset, n int, op func(x, y uint64) uint64) *Bitset {
	out := &Bitset{words: make([]uint64, max(n, 1))}
	for i := 0; i < n; i++ {
		out.words[i] = op(a.word(i), o.word(i))
	}
	return out
}

// Union returns b ∪ o.
func (b *Bitset) Union(o *Bitset) *Bitset {
	return combine(b, o, max(b.len(), o.len()), func(x, y uint64) uint64 { return x | y })
}

// Intersect returns b ∩ o.
func (b *Bitset) Intersect(o *Bitset) *Bitset {
	return combine(b, o, min(b.len(), o.len()), func(x, y uint64) uint64 { return x & y })
}

// Difference returns b ∖ o.
func (b *Bitset) Difference(o *Bitset) *Bitset {
	return combine(b, o, b.len(), func(x, y uint64) uint64 { return x &^ y })
}

// Each calls fn for every member in ascending order until fn returns false.
func (b *Bitset) Each(fn func(i int) bool) {
	for w := 0; w < b.len(); w++ {
		for word := b.words[w]; word != 0; word &= word - 1 {
			if !fn(w<<6 + bits.TrailingZeros64(word)) {
				return
			}
		}
	}
}

// Members returns the members in ascending order.
func (b *Bitset) Members() []int {
	out := make([]int, 0, b.Count())
	b.Each(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}

// String renders the members, e.g. "{1 5 64}".
func (b *Bitset) String() string {
	parts := make([]string, 0, b.Count())
	for _, i := range b.Members() {
		parts = append(parts, strconv.Itoa(i))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
