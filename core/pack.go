package core

import (
	"github.com/pkg/errors"

	"github.com/sbl8/easyguide/kernels"
)

// SumRightmost sums the rightmost n dimensions of t into a single value per
// remaining index, dropping those dimensions. n <= 0 returns a copy.
// This is the collapse used for log-density Jacobian corrections: everything
// beyond a site's batch dimensions folds into one per-batch-element scalar.
func SumRightmost(t *Tensor, n int) (*Tensor, error) {
	if n <= 0 {
		return t.Clone(), nil
	}
	if n > len(t.Shape) {
		return nil, errors.Errorf("core: cannot sum rightmost %d dims of rank-%d tensor", n, len(t.Shape))
	}
	keep := t.Shape[:len(t.Shape)-n].Clone()
	block := Shape(t.Shape[len(t.Shape)-n:]).Numel()
	out := NewTensor(keep)
	for i := 0; i < out.Numel(); i++ {
		out.Data[i] = kernels.Sum(t.Data[i*block : (i+1)*block])
	}
	return out, nil
}

// SliceLastDim extracts the contiguous span [lo, hi) of the trailing dimension
// for every leading index. This is the pack/unpack slicing primitive: slice
// boundaries accumulate in catalog order on both ends of the protocol.
func SliceLastDim(t *Tensor, lo, hi int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, errors.New("core: cannot slice trailing dim of a scalar")
	}
	last := t.Shape[len(t.Shape)-1]
	if lo < 0 || hi > last || lo > hi {
		return nil, errors.Errorf("core: span [%d,%d) out of range for trailing dim %d", lo, hi, last)
	}
	span := hi - lo
	outShape := t.Shape.Clone()
	outShape[len(outShape)-1] = span
	out := NewTensor(outShape)
	lead := t.Numel() / last
	for i := 0; i < lead; i++ {
		copy(out.Data[i*span:(i+1)*span], t.Data[i*last+lo:i*last+hi])
	}
	return out, nil
}

// IndexSelectMod re-indexes t along dim (negative dims allowed) with modular
// repetition: output index i maps to source index i mod current-size. It is
// used to expand a subsample-sized initial value back to a plate's full size.
func IndexSelectMod(t *Tensor, dim, size int) (*Tensor, error) {
	d, err := NormalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Errorf("core: invalid target size %d", size)
	}
	cur := t.Shape[d]
	outShape := t.Shape.Clone()
	outShape[d] = size
	out := NewTensor(outShape)
	outer := Shape(t.Shape[:d]).Numel()
	inner := Shape(t.Shape[d+1:]).Numel()
	for o := 0; o < outer; o++ {
		for j := 0; j < size; j++ {
			src := t.Data[(o*cur+j%cur)*inner : (o*cur+j%cur+1)*inner]
			dst := out.Data[(o*size+j)*inner : (o*size+j+1)*inner]
			copy(dst, src)
		}
	}
	return out, nil
}

// IndexSelect gathers slices of t along dim (negative dims allowed) at the
// given indices, in order. Plates use it to subsample full-size values.
func IndexSelect(t *Tensor, dim int, indices []int) (*Tensor, error) {
	d, err := NormalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	cur := t.Shape[d]
	for _, i := range indices {
		if i < 0 || i >= cur {
			return nil, errors.Errorf("core: index %d out of range for dim %d of %s", i, dim, t.Shape)
		}
	}
	outShape := t.Shape.Clone()
	outShape[d] = len(indices)
	out := NewTensor(outShape)
	outer := Shape(t.Shape[:d]).Numel()
	inner := Shape(t.Shape[d+1:]).Numel()
	for o := 0; o < outer; o++ {
		for j, src := range indices {
			copy(out.Data[(o*len(indices)+j)*inner:(o*len(indices)+j+1)*inner],
				t.Data[(o*cur+src)*inner:(o*cur+src+1)*inner])
		}
	}
	return out, nil
}

// ExpandDim broadcasts a size-1 dimension of t (negative dims allowed) to size.
func ExpandDim(t *Tensor, dim, size int) (*Tensor, error) {
	d, err := NormalizeDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	if t.Shape[d] == size {
		return t.Clone(), nil
	}
	if t.Shape[d] != 1 {
		return nil, errors.Errorf("core: cannot expand dim %d of %s to %d", dim, t.Shape, size)
	}
	target := t.Shape.Clone()
	target[d] = size
	return BroadcastTo(t, target)
}
