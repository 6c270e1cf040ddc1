package dist

import (
	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/kernels"
)

// Transform is an element-wise bijection from unconstrained space to a
// constrained support. InverseLogDetJacobian reports log|d unconstrained /
// d constrained| per element, the correction attached to unpacked samples.
type Transform interface {
	// Forward maps unconstrained x into the constrained support.
	Forward(x *core.Tensor) *core.Tensor
	// Inverse maps constrained y back to unconstrained space.
	Inverse(y *core.Tensor) *core.Tensor
	// InverseLogDetJacobian evaluates the inverse transform's log-abs-det
	// Jacobian element-wise. Both the constrained value y and its
	// unconstrained preimage x are supplied so implementations can use
	// whichever is numerically convenient.
	InverseLogDetJacobian(y, x *core.Tensor) *core.Tensor
}

// BijectTo returns the canonical bijection from unconstrained space to the
// given support.
func BijectTo(s Support) Transform {
	switch s {
	case Positive:
		return expTransform{}
	case UnitInterval:
		return sigmoidTransform{}
	default:
		return identityTransform{}
	}
}

type identityTransform struct{}

func (identityTransform) Forward(x *core.Tensor) *core.Tensor { return x.Clone() }
func (identityTransform) Inverse(y *core.Tensor) *core.Tensor { return y.Clone() }

func (identityTransform) InverseLogDetJacobian(y, _ *core.Tensor) *core.Tensor {
	return core.NewTensor(y.Shape)
}

// expTransform maps x to e^x, the bijection onto the positive half line.
type expTransform struct{}

func (expTransform) Forward(x *core.Tensor) *core.Tensor {
	out := x.Clone()
	kernels.Exp(out.Data)
	return out
}

func (expTransform) Inverse(y *core.Tensor) *core.Tensor {
	out := y.Clone()
	kernels.Log(out.Data)
	return out
}

func (expTransform) InverseLogDetJacobian(_ *core.Tensor, x *core.Tensor) *core.Tensor {
	// d log(y) / d y = 1/y, so log|det| = -log y = -x.
	out := x.Clone()
	kernels.Neg(out.Data)
	return out
}

// sigmoidTransform maps x to 1/(1+e^-x), the bijection onto (0, 1).
type sigmoidTransform struct{}

func (sigmoidTransform) Forward(x *core.Tensor) *core.Tensor {
	out := x.Clone()
	kernels.Sigmoid(out.Data)
	return out
}

func (sigmoidTransform) Inverse(y *core.Tensor) *core.Tensor {
	out := y.Clone()
	kernels.Logit(out.Data)
	return out
}

func (sigmoidTransform) InverseLogDetJacobian(y, _ *core.Tensor) *core.Tensor {
	// d logit(y) / d y = 1/(y(1-y)), so log|det| = -log y - log(1-y).
	logY := y.Clone()
	kernels.Log(logY.Data)
	log1mY := y.Clone()
	kernels.Neg(log1mY.Data)
	kernels.Log1p(log1mY.Data)
	kernels.Add(logY.Data, log1mY.Data)
	kernels.Neg(logY.Data)
	return logY
}
