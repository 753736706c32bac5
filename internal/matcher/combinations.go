package matcher

import "math"

// forEachCombination visits every r-element index combination of 0..n-1 in
// lexicographic order. The slice passed to fn is reused between calls.
// Returns true as soon as fn returns true.
func forEachCombination(n, r int, fn func(idx []int) bool) bool {
	if r <= 0 || r > n {
		return false
	}

	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}

	for {
		if fn(idx) {
			return true
		}

		i := r - 1
		for i >= 0 && idx[i] == n-r+i {
			i--
		}
		if i < 0 {
			return false
		}

		idx[i]++
		for j := i + 1; j < r; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// binomial returns C(n, r) as a float64, saturating at +Inf.
func binomial(n, r int) float64 {
	if r < 0 || r > n {
		return 0
	}
	if r > n-r {
		r = n - r
	}
	result := 1.0
	for i := 1; i <= r; i++ {
		result = result * float64(n-r+i) / float64(i)
		if math.IsInf(result, 1) {
			return result
		}
	}
	return math.Round(result)
}

// EstimateSearchSpace returns the number of combinations enumerated for a
// single target against a pool of n entries when no match is found,
// i.e. the sum of C(n, r) for r in 2..min(n, maxSize).
func EstimateSearchSpace(n, maxSize int) float64 {
	upper := n
	if maxSize < upper {
		upper = maxSize
	}
	total := 0.0
	for r := 2; r <= upper; r++ {
		total += binomial(n, r)
	}
	return total
}
