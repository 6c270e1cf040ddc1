package dist

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/sbl8/easyguide/core"
)

// Delta is a point mass at a fixed value. The trailing eventDim dimensions of
// the value are the event shape; the rest are batch. An optional log-density
// correction (one scalar per batch element) rides along so that unpacked
// group samples keep their change-of-variables Jacobian.
type Delta struct {
	value      *core.Tensor
	logDensity *core.Tensor
	eventDim   int
}

// NewDelta constructs a point mass at value. logDensity may be nil; when
// given, its shape must equal the value's batch shape.
func NewDelta(value *core.Tensor, logDensity *core.Tensor, eventDim int) (*Delta, error) {
	if eventDim < 0 || eventDim > len(value.Shape) {
		return nil, errors.Errorf("dist: Delta event dim %d out of range for shape %s", eventDim, value.Shape)
	}
	d := &Delta{value: value.Clone(), eventDim: eventDim}
	if logDensity != nil {
		if !logDensity.Shape.Eq(d.BatchShape()) {
			return nil, errors.Errorf("dist: Delta log density shape %s does not match batch shape %s",
				logDensity.Shape, d.BatchShape())
		}
		d.logDensity = logDensity.Clone()
	}
	return d, nil
}

func (d *Delta) BatchShape() core.Shape {
	return d.value.Shape[:len(d.value.Shape)-d.eventDim].Clone()
}

func (d *Delta) EventShape() core.Shape {
	return d.value.Shape[len(d.value.Shape)-d.eventDim:].Clone()
}

func (d *Delta) EventDim() int    { return d.eventDim }
func (d *Delta) Support() Support { return Real }

// Value returns the point the mass sits at.
func (d *Delta) Value() *core.Tensor { return d.value.Clone() }

func (d *Delta) Sample(_ *rand.Rand) (*core.Tensor, error) {
	return d.value.Clone(), nil
}

// LogProb returns the stored log-density correction, or zeros when none was
// attached. Mismatch against the point itself is the caller's concern.
func (d *Delta) LogProb(x *core.Tensor) (*core.Tensor, error) {
	if !x.Shape.Eq(d.value.Shape) {
		return nil, errors.Errorf("dist: value shape %s does not match %s", x.Shape, d.value.Shape)
	}
	if d.logDensity != nil {
		return d.logDensity.Clone(), nil
	}
	return core.NewTensor(d.BatchShape()), nil
}

// Expand broadcasts the point (and its correction) to the target batch shape.
// Size-1 batch dimensions produced by collapsing shared plate frames are
// expanded back to the live plate size here.
func (d *Delta) Expand(batch core.Shape) (Distribution, error) {
	v, err := core.BroadcastTo(d.value, batch.Concat(d.EventShape()))
	if err != nil {
		return nil, errors.Wrap(err, "dist: Delta expand")
	}
	out := &Delta{value: v, eventDim: d.eventDim}
	if d.logDensity != nil {
		ld, err := core.BroadcastTo(d.logDensity, batch)
		if err != nil {
			return nil, errors.Wrap(err, "dist: Delta expand log density")
		}
		out.logDensity = ld
	}
	return out, nil
}
