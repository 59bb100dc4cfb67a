package util

import (
	"math/rand/v2"
)

// RandomIndex returns a uniformly distributed index in [0, n). n must be positive.
type RandomIndex func(n int) int

// DefaultRandomIndex uses the global math/rand/v2 source.
func DefaultRandomIndex(n int) int {
	return rand.IntN(n)
}

// CircularScan returns the first element satisfying match, scanning forward from a random
// start index and wrapping around to the beginning of the slice. Every element is
// visited at most once.
func CircularScan[T any](items []T, randomIndex RandomIndex, match func(T) bool) (T, bool) {
	var zero T

	n := len(items)
	if n == 0 {
		return zero, false
	}

	if randomIndex == nil {
		randomIndex = DefaultRandomIndex
	}

	start := randomIndex(n)

	for i := 0; i < n; i++ {
		item := items[(start+i)%n]
		if match(item) {
			return item, true
		}
	}

	return zero, false
}
