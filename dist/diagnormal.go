package dist

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sbl8/easyguide/core"
)

// DiagNormal is a diagonal Gaussian whose event shape is the full shape of its
// location tensor. It is the usual choice for a group's packed auxiliary
// distribution: the event is the flattened concatenation of the group.
type DiagNormal struct {
	loc   *core.Tensor
	scale *core.Tensor
	batch core.Shape
}

// NewDiagNormal constructs a diagonal Gaussian. loc and scale must share a
// shape and every scale element must be strictly positive; it panics otherwise.
func NewDiagNormal(loc, scale *core.Tensor) *DiagNormal {
	if !loc.Shape.Eq(scale.Shape) {
		panic("dist: DiagNormal loc and scale shapes differ")
	}
	for _, s := range scale.Data {
		if s <= 0 {
			panic("dist: DiagNormal scale must be positive")
		}
	}
	return &DiagNormal{loc: loc.Clone(), scale: scale.Clone()}
}

func (d *DiagNormal) BatchShape() core.Shape { return d.batch.Clone() }
func (d *DiagNormal) EventShape() core.Shape { return d.loc.Shape.Clone() }
func (d *DiagNormal) EventDim() int          { return len(d.loc.Shape) }
func (d *DiagNormal) Support() Support       { return Real }

func (d *DiagNormal) Sample(rng *rand.Rand) (*core.Tensor, error) {
	if rng == nil {
		return nil, errors.New("dist: nil rng")
	}
	out := core.NewTensor(fullShape(d))
	ev := d.loc.Numel()
	for i := range out.Data {
		j := i % ev
		n := distuv.Normal{Mu: d.loc.Data[j], Sigma: d.scale.Data[j], Src: rng}
		out.Data[i] = n.Rand()
	}
	return out, nil
}

func (d *DiagNormal) LogProb(x *core.Tensor) (*core.Tensor, error) {
	if !x.Shape.Eq(fullShape(d)) {
		return nil, errors.Errorf("dist: value shape %s does not match %s", x.Shape, fullShape(d))
	}
	out := core.NewTensor(d.batch)
	ev := d.loc.Numel()
	for i := range out.Data {
		sum := 0.0
		for j := 0; j < ev; j++ {
			n := distuv.Normal{Mu: d.loc.Data[j], Sigma: d.scale.Data[j]}
			sum += n.LogProb(x.Data[i*ev+j])
		}
		out.Data[i] = sum
	}
	return out, nil
}

func (d *DiagNormal) Expand(batch core.Shape) (Distribution, error) {
	if len(batch) < len(d.batch) {
		return nil, errors.Errorf("dist: cannot shrink batch shape %s to %s", d.batch, batch)
	}
	off := len(batch) - len(d.batch)
	for i, cur := range d.batch {
		if cur != 1 && cur != batch[off+i] {
			return nil, errors.Errorf("dist: cannot expand batch shape %s to %s", d.batch, batch)
		}
	}
	return &DiagNormal{loc: d.loc, scale: d.scale, batch: batch.Clone()}, nil
}
