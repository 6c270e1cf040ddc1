// Package dist provides the distribution objects consumed by the guide layer.
//
// Each distribution exposes a batch shape, an event shape, a constrained
// support, sampling, and per-element log densities. Together with the
// bijections in BijectTo this is the surface the pack/sample/unpack protocol
// needs: transform an unconstrained packed sample piecewise into each site's
// constrained support while tracking the log-density Jacobian correction.
//
// Scalar math (sampling, log densities) is delegated to gonum's stat/distuv;
// shapes are handled explicitly with core tensors.
package dist

import (
	"math/rand/v2"

	"github.com/sbl8/easyguide/core"
)

// Support identifies the constrained domain of a distribution.
type Support int

const (
	// Real is the unconstrained support.
	Real Support = iota
	// Positive is the open half line (0, inf).
	Positive
	// UnitInterval is the open interval (0, 1).
	UnitInterval
)

func (s Support) String() string {
	switch s {
	case Real:
		return "real"
	case Positive:
		return "positive"
	case UnitInterval:
		return "unit_interval"
	default:
		return "unknown"
	}
}

// Distribution is a batch of probability distributions over a common event
// shape. Sampled values have shape BatchShape + EventShape; log densities
// have shape BatchShape.
type Distribution interface {
	BatchShape() core.Shape
	EventShape() core.Shape
	// EventDim is the number of event dimensions.
	EventDim() int
	Support() Support
	Sample(rng *rand.Rand) (*core.Tensor, error)
	LogProb(x *core.Tensor) (*core.Tensor, error)
	// Expand returns a copy of the distribution with the given batch shape.
	// Existing batch dimensions may only be kept or broadcast from size 1.
	Expand(batch core.Shape) (Distribution, error)
}

// fullShape is the sampled value shape of d.
func fullShape(d Distribution) core.Shape {
	return d.BatchShape().Concat(d.EventShape())
}
