// Package core provides fundamental primitives for the easyguide inference engine.
//
// This package implements the flat tensor representation used throughout the
// guide-construction pipeline. Values are row-major float64 buffers paired with
// an explicit Shape, so that batch/event splitting, packing and plate-dimension
// arithmetic stay visible and cheap.
//
// Key components:
//   - Shape: Dimension list with element-count and concatenation helpers
//   - Tensor: Flat buffer plus shape, with reshape, broadcast and indexing
//   - Packing utilities: trailing-dimension slicing, rightmost summation,
//     and modular re-indexing for subsampled plates
//   - Serialization support for parameter persistence
//
// Scalars are represented as rank-0 tensors (empty shape, one element), which
// keeps the batch/event split well-defined for plate-free sites.
package core

import (
	"fmt"
	"strings"
)

// Shape is a row-major dimension list. An empty Shape is a scalar.
type Shape []int

// Numel returns the total number of elements described by the shape.
// A scalar (empty) shape has one element.
func (s Shape) Numel() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Concat returns the concatenation s + t as a new shape.
func (s Shape) Concat(t Shape) Shape {
	out := make(Shape, 0, len(s)+len(t))
	out = append(out, s...)
	out = append(out, t...)
	return out
}

// Eq reports whether two shapes are identical dimension by dimension.
func (s Shape) Eq(t Shape) bool {
	if len(s) != len(t) {
		return false
	}
	for i := range s {
		if s[i] != t[i] {
			return false
		}
	}
	return true
}

// BroadcastShapes returns the right-aligned broadcast of two shapes. For each
// aligned pair of dimensions one side must equal the other or be 1.
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Shape, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db, db == 1:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		default:
			return nil, fmt.Errorf("core: shapes %v and %v do not broadcast", a, b)
		}
	}
	return out, nil
}

// Ones returns a shape of n dimensions, all of size 1.
func Ones(n int) Shape {
	out := make(Shape, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
