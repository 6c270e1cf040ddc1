// Package kernels provides the element-wise compute kernels behind tensor
// transforms and reductions.
//
// All map kernels operate in-place on float64 slices with zero allocations;
// reductions return a scalar. Callers own buffer lifetimes, so hot paths
// (support bijections, log-density summation) stay allocation-free after the
// initial clone.
//
// Available operations:
//   - Maps: exp, log, log1p, negate, sigmoid, logit
//   - Accumulation: element-wise add
//   - Reductions: sum
//
// Numerical stability notes are attached to the kernels that need them.
package kernels

import "math"

// Exp replaces each element with e^x.
func Exp(x []float64) {
	for i, v := range x {
		x[i] = math.Exp(v)
	}
}

// Log replaces each element with its natural logarithm.
func Log(x []float64) {
	for i, v := range x {
		x[i] = math.Log(v)
	}
}

// Log1p replaces each element x with log(1+x), accurate near zero.
func Log1p(x []float64) {
	for i, v := range x {
		x[i] = math.Log1p(v)
	}
}

// Neg negates each element.
func Neg(x []float64) {
	for i, v := range x {
		x[i] = -v
	}
}

// Add accumulates src into dst element-wise. The slices must have equal
// length; extra elements of a longer src are ignored.
func Add(dst, src []float64) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] += src[i]
	}
}

// Sigmoid replaces each element with 1/(1+e^-x). The two-branch form avoids
// overflow of e^-x for large negative inputs.
func Sigmoid(x []float64) {
	for i, v := range x {
		if v >= 0 {
			x[i] = 1 / (1 + math.Exp(-v))
		} else {
			e := math.Exp(v)
			x[i] = e / (1 + e)
		}
	}
}

// Logit replaces each element y in (0,1) with log(y/(1-y)), computed as
// log(y) - log1p(-y) to keep precision for y near 1.
func Logit(x []float64) {
	for i, v := range x {
		x[i] = math.Log(v) - math.Log1p(-v)
	}
}

// Sum returns the sum of all elements. An empty slice sums to zero.
func Sum(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s
}
