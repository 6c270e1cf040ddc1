package core

import (
	"github.com/pkg/errors"
)

// Tensor is a row-major float64 buffer with an explicit shape.
// A rank-0 tensor (empty shape) holds exactly one element.
type Tensor struct {
	Data  []float64
	Shape Shape
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(shape Shape) *Tensor {
	return &Tensor{
		Data:  make([]float64, shape.Numel()),
		Shape: shape.Clone(),
	}
}

// Full allocates a tensor with every element set to v.
func Full(shape Shape, v float64) *Tensor {
	t := NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Scalar wraps a single value as a rank-0 tensor.
func Scalar(v float64) *Tensor {
	return &Tensor{Data: []float64{v}, Shape: Shape{}}
}

// FromSlice builds a tensor from data, which must match the shape's element count.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	if len(data) != shape.Numel() {
		return nil, errors.Errorf("core: %d data elements do not fill shape %s", len(data), shape)
	}
	t := NewTensor(shape)
	copy(t.Data, data)
	return t, nil
}

// Numel returns the element count.
func (t *Tensor) Numel() int { return len(t.Data) }

// Dim returns the rank of the tensor.
func (t *Tensor) Dim() int { return len(t.Shape) }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Shape)
	copy(out.Data, t.Data)
	return out
}

// Reshape returns a copy of t viewed under a different shape with the same
// element count.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if shape.Numel() != t.Numel() {
		return nil, errors.Errorf("core: cannot reshape %s (%d elems) to %s (%d elems)",
			t.Shape, t.Numel(), shape, shape.Numel())
	}
	out := t.Clone()
	out.Shape = shape.Clone()
	return out, nil
}

// offset converts a multi-index to a flat position.
func (t *Tensor) offset(idx []int) (int, error) {
	if len(idx) != len(t.Shape) {
		return 0, errors.Errorf("core: index rank %d does not match tensor rank %d", len(idx), len(t.Shape))
	}
	pos := 0
	for d, i := range idx {
		if i < 0 || i >= t.Shape[d] {
			return 0, errors.Errorf("core: index %d out of range for dim %d of %s", i, d, t.Shape)
		}
		pos = pos*t.Shape[d] + i
	}
	return pos, nil
}

// At returns the element at a multi-index.
func (t *Tensor) At(idx ...int) (float64, error) {
	pos, err := t.offset(idx)
	if err != nil {
		return 0, err
	}
	return t.Data[pos], nil
}

// Set assigns the element at a multi-index.
func (t *Tensor) Set(v float64, idx ...int) error {
	pos, err := t.offset(idx)
	if err != nil {
		return err
	}
	t.Data[pos] = v
	return nil
}

// NormalizeDim resolves a possibly negative dimension index against a rank.
// Negative dims count from the right, matching plate dimension conventions.
func NormalizeDim(dim, rank int) (int, error) {
	d := dim
	if d < 0 {
		d += rank
	}
	if d < 0 || d >= rank {
		return 0, errors.Errorf("core: dim %d out of range for rank %d", dim, rank)
	}
	return d, nil
}

// BroadcastTo expands t to the target shape. Dimensions may be prepended, and
// existing size-1 dimensions expanded; any other mismatch is an error.
func BroadcastTo(t *Tensor, target Shape) (*Tensor, error) {
	if len(target) < len(t.Shape) {
		return nil, errors.Errorf("core: cannot broadcast %s down to %s", t.Shape, target)
	}
	// Right-align the source shape against the target.
	src := Ones(len(target))
	copy(src[len(target)-len(t.Shape):], t.Shape)
	for d := range target {
		if src[d] != target[d] && src[d] != 1 {
			return nil, errors.Errorf("core: cannot broadcast %s to %s at dim %d", t.Shape, target, d)
		}
	}
	out := NewTensor(target)
	idx := make([]int, len(target))
	srcStrides := stridesOf(src)
	for pos := 0; pos < out.Numel(); pos++ {
		spos := 0
		for d := range idx {
			i := idx[d]
			if src[d] == 1 {
				i = 0
			}
			spos += i * srcStrides[d]
		}
		out.Data[pos] = t.Data[spos]
		// Advance the row-major multi-index.
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < target[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

func stridesOf(s Shape) []int {
	strides := make([]int, len(s))
	acc := 1
	for d := len(s) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= s[d]
	}
	return strides
}
