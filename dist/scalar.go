package dist

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sbl8/easyguide/core"
)

// scalarDist is the shared batch machinery for distributions whose per-element
// law is a scalar distuv distribution. The event shape is empty; plates supply
// batch dimensions via Expand.
type scalarDist struct {
	batch core.Shape
}

func (d scalarDist) BatchShape() core.Shape { return d.batch.Clone() }
func (d scalarDist) EventShape() core.Shape { return core.Shape{} }
func (d scalarDist) EventDim() int          { return 0 }

func (d scalarDist) sample(rng *rand.Rand, draw func(rand.Source) float64) (*core.Tensor, error) {
	if rng == nil {
		return nil, errors.New("dist: nil rng")
	}
	out := core.NewTensor(d.batch)
	for i := range out.Data {
		out.Data[i] = draw(rng)
	}
	return out, nil
}

func (d scalarDist) logProb(x *core.Tensor, lp func(float64) float64) (*core.Tensor, error) {
	if !x.Shape.Eq(d.batch) {
		return nil, errors.Errorf("dist: value shape %s does not match batch shape %s", x.Shape, d.batch)
	}
	out := core.NewTensor(d.batch)
	for i, v := range x.Data {
		out.Data[i] = lp(v)
	}
	return out, nil
}

func (d scalarDist) expandBatch(batch core.Shape) (core.Shape, error) {
	if len(batch) < len(d.batch) {
		return nil, errors.Errorf("dist: cannot shrink batch shape %s to %s", d.batch, batch)
	}
	off := len(batch) - len(d.batch)
	for i, cur := range d.batch {
		if cur != 1 && cur != batch[off+i] {
			return nil, errors.Errorf("dist: cannot expand batch shape %s to %s", d.batch, batch)
		}
	}
	return batch.Clone(), nil
}

// Normal is a scalar Gaussian with shared location and scale across the batch.
type Normal struct {
	scalarDist
	Loc   float64
	Scale float64
}

// NewNormal constructs a scalar Normal distribution. It panics if scale is not
// strictly positive.
func NewNormal(loc, scale float64) *Normal {
	if scale <= 0 {
		panic(fmt.Sprintf("dist: Normal scale must be positive, got %v", scale))
	}
	return &Normal{Loc: loc, Scale: scale}
}

func (d *Normal) Support() Support { return Real }

func (d *Normal) Sample(rng *rand.Rand) (*core.Tensor, error) {
	return d.sample(rng, func(src rand.Source) float64 {
		return distuv.Normal{Mu: d.Loc, Sigma: d.Scale, Src: src}.Rand()
	})
}

func (d *Normal) LogProb(x *core.Tensor) (*core.Tensor, error) {
	n := distuv.Normal{Mu: d.Loc, Sigma: d.Scale}
	return d.logProb(x, n.LogProb)
}

func (d *Normal) Expand(batch core.Shape) (Distribution, error) {
	b, err := d.expandBatch(batch)
	if err != nil {
		return nil, err
	}
	return &Normal{scalarDist: scalarDist{batch: b}, Loc: d.Loc, Scale: d.Scale}, nil
}

// LogNormal is a scalar log-normal distribution; its support is the positive
// half line.
type LogNormal struct {
	scalarDist
	Mu    float64
	Sigma float64
}

// NewLogNormal constructs a scalar LogNormal distribution. It panics if sigma
// is not strictly positive.
func NewLogNormal(mu, sigma float64) *LogNormal {
	if sigma <= 0 {
		panic(fmt.Sprintf("dist: LogNormal sigma must be positive, got %v", sigma))
	}
	return &LogNormal{Mu: mu, Sigma: sigma}
}

func (d *LogNormal) Support() Support { return Positive }

func (d *LogNormal) Sample(rng *rand.Rand) (*core.Tensor, error) {
	return d.sample(rng, func(src rand.Source) float64 {
		return distuv.LogNormal{Mu: d.Mu, Sigma: d.Sigma, Src: src}.Rand()
	})
}

func (d *LogNormal) LogProb(x *core.Tensor) (*core.Tensor, error) {
	ln := distuv.LogNormal{Mu: d.Mu, Sigma: d.Sigma}
	return d.logProb(x, ln.LogProb)
}

func (d *LogNormal) Expand(batch core.Shape) (Distribution, error) {
	b, err := d.expandBatch(batch)
	if err != nil {
		return nil, err
	}
	return &LogNormal{scalarDist: scalarDist{batch: b}, Mu: d.Mu, Sigma: d.Sigma}, nil
}

// Beta is a scalar Beta distribution on the open unit interval.
type Beta struct {
	scalarDist
	Alpha float64
	BetaP float64
}

// NewBeta constructs a scalar Beta distribution. It panics unless both
// concentration parameters are strictly positive.
func NewBeta(alpha, beta float64) *Beta {
	if alpha <= 0 || beta <= 0 {
		panic(fmt.Sprintf("dist: Beta parameters must be positive, got (%v, %v)", alpha, beta))
	}
	return &Beta{Alpha: alpha, BetaP: beta}
}

func (d *Beta) Support() Support { return UnitInterval }

func (d *Beta) Sample(rng *rand.Rand) (*core.Tensor, error) {
	return d.sample(rng, func(src rand.Source) float64 {
		return distuv.Beta{Alpha: d.Alpha, Beta: d.BetaP, Src: src}.Rand()
	})
}

func (d *Beta) LogProb(x *core.Tensor) (*core.Tensor, error) {
	b := distuv.Beta{Alpha: d.Alpha, Beta: d.BetaP}
	return d.logProb(x, b.LogProb)
}

func (d *Beta) Expand(batch core.Shape) (Distribution, error) {
	b, err := d.expandBatch(batch)
	if err != nil {
		return nil, err
	}
	return &Beta{scalarDist: scalarDist{batch: b}, Alpha: d.Alpha, BetaP: d.BetaP}, nil
}
