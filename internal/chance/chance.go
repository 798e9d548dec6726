package chance

import (
	"fmt"
	"math/rand/v2"
)

// Source is the randomness every planning step draws from. *rand.Rand from
// math/rand/v2 satisfies it; tests inject Script to force specific rolls.
type Source interface {
	// IntN returns a value in [0, n). It panics if n <= 0.
	IntN(n int) int
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
}

// New returns a seeded PCG source. The same seed always yields the same
// sequence of draws.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomSeed draws a fresh seed from the runtime's entropy source.
func RandomSeed() uint64 {
	return rand.Uint64()
}

// Between returns a uniform integer in [lo, hi] inclusive.
func Between(src Source, lo, hi int) int {
	if hi < lo {
		panic(fmt.Sprintf("chance: invalid range [%d, %d]", lo, hi))
	}
	return lo + src.IntN(hi-lo+1)
}

// Roll reports whether a uniform draw falls below p.
func Roll(src Source, p float64) (bool, float64) {
	r := src.Float64()
	return r < p, r
}

// Pick returns a uniformly chosen element of items. items must not be empty.
func Pick[T any](src Source, items []T) T {
	return items[src.IntN(len(items))]
}

// Weighted picks an index with probability proportional to weights[i].
// Non-positive weights are never picked. It returns -1 when no weight is positive.
func Weighted(src Source, weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return -1
	}
	r := src.IntN(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if r < w {
			return i
		}
		r -= w
	}
	return -1
}

// Sample returns k distinct values drawn uniformly without replacement from
// [lo, hi] inclusive, in draw order.
func Sample(src Source, lo, hi, k int) []int {
	pool := make([]int, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		pool = append(pool, v)
	}
	if k > len(pool) {
		panic(fmt.Sprintf("chance: cannot sample %d values from %d", k, len(pool)))
	}
	for i := 0; i < k; i++ {
		j := i + src.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
