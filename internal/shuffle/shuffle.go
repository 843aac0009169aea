// Package shuffle produces the display order of an attempt's questions.
//
// The order is generated once, when an attempt's draft is first created, and
// the resulting permutation is persisted with the draft. Nothing here keeps
// state between calls.
package shuffle

import "math/rand/v2"

// Order returns a uniformly random permutation of [0, n) using Fisher–Yates.
// It returns an empty slice for n <= 0.
func Order(n int) []int {
	order := Identity(n)
	for i := len(order) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Identity returns [0, 1, ..., n-1].
func Identity(n int) []int {
	if n <= 0 {
		return []int{}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// IsPermutation reports whether order contains every index in [0, n) exactly once.
func IsPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range order {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
