package runtime

import (
	"github.com/pkg/errors"

	"github.com/sbl8/easyguide/core"
)

// Frame identifies one batching context active at a statement: a named plate
// dimension, its total size, its current subsample size, and whether it is of
// the vectorized kind. Frames are referenced by sites and groups but owned by
// the execution context.
type Frame struct {
	Name          string
	Size          int
	SubsampleSize int
	// Dim is the batch dimension the plate occupies, counted from the right
	// (always negative).
	Dim        int
	Vectorized bool
}

// Plate is a vectorized batching context. While entered it sits on the
// handler stack: every sample statement inside gains the plate's frame and
// has its distribution expanded along the plate dimension. Entering also
// registers a subsample bookkeeping site so recorded executions can see (and
// prune) the subsampling state.
type Plate struct {
	frame     Frame
	subsample []int
	active    bool
}

// NewPlate constructs a vectorized plate. A zero subsampleSize means no
// subsampling. When subsample indices are given they override subsampleSize;
// otherwise a subsample is drawn without replacement from the context RNG.
// The plate dimension is allocated per name, innermost first, and is stable
// for the lifetime of the context.
func (c *Context) NewPlate(name string, size, subsampleSize int, subsample []int) (*Plate, error) {
	if size <= 0 {
		return nil, errors.Errorf("runtime: plate %q must have positive size, got %d", name, size)
	}
	if subsample != nil {
		subsampleSize = len(subsample)
	}
	if subsampleSize <= 0 || subsampleSize > size {
		subsampleSize = size
	}
	p := &Plate{frame: Frame{
		Name:          name,
		Size:          size,
		SubsampleSize: subsampleSize,
		Dim:           c.allocDim(name),
		Vectorized:    true,
	}}
	switch {
	case subsample != nil:
		for _, i := range subsample {
			if i < 0 || i >= size {
				return nil, errors.Errorf("runtime: plate %q subsample index %d out of range [0,%d)", name, i, size)
			}
		}
		p.subsample = append([]int(nil), subsample...)
	case subsampleSize < size:
		p.subsample = c.rng.Perm(size)[:subsampleSize]
	}
	return p, nil
}

// Frame returns the plate's frame descriptor.
func (p *Plate) Frame() Frame { return p.frame }

// Name returns the plate name.
func (p *Plate) Name() string { return p.frame.Name }

// Size returns the full plate size.
func (p *Plate) Size() int { return p.frame.Size }

// SubsampleSize returns the current subsample size.
func (p *Plate) SubsampleSize() int { return p.frame.SubsampleSize }

// Dim returns the (negative) batch dimension occupied by the plate.
func (p *Plate) Dim() int { return p.frame.Dim }

// Indices returns the active subsample indices; without subsampling this is
// the identity range.
func (p *Plate) Indices() []int {
	if p.subsample != nil {
		return append([]int(nil), p.subsample...)
	}
	out := make([]int, p.frame.Size)
	for i := range out {
		out[i] = i
	}
	return out
}

// Enter activates the plate on the context's handler stack. Every Enter must
// be paired with exactly one Exit per call cycle.
func (p *Plate) Enter(ctx *Context) error {
	if p.active {
		return errors.Errorf("runtime: plate %q entered twice", p.frame.Name)
	}
	idx := p.Indices()
	v := core.NewTensor(core.Shape{len(idx)})
	for i, j := range idx {
		v.Data[i] = float64(j)
	}
	if err := ctx.apply(&Message{Kind: KindSubsample, Name: p.frame.Name, Value: v}); err != nil {
		return err
	}
	p.active = true
	ctx.push(p)
	return nil
}

// Exit deactivates the plate.
func (p *Plate) Exit(ctx *Context) {
	if !p.active {
		return
	}
	ctx.pop(p)
	p.active = false
}

// Process stamps the plate's frame onto statements inside it and expands
// sampled distributions along the plate dimension.
func (p *Plate) Process(m *Message) error {
	if m.Kind == KindSubsample {
		return nil
	}
	m.Stack = append(m.Stack, p.frame)
	if m.Kind == KindParam {
		return p.subsampleParam(m)
	}
	if m.Kind != KindSample || m.Dist == nil || m.Observed {
		return nil
	}

	eff := p.frame.SubsampleSize
	b := m.Dist.BatchShape()
	rank := len(b)
	if need := -p.frame.Dim; rank < need {
		rank = need
	}
	target := core.Ones(rank)
	copy(target[rank-len(b):], b)
	idx := rank + p.frame.Dim
	switch target[idx] {
	case eff:
		// Site already carries the plate dimension.
	case 1:
		target[idx] = eff
	default:
		return errors.Errorf("runtime: site %q batch shape %s incompatible with plate %q size %d at dim %d",
			m.Name, b, p.frame.Name, eff, p.frame.Dim)
	}
	if !target.Eq(b) {
		d, err := m.Dist.Expand(target)
		if err != nil {
			return errors.Wrapf(err, "runtime: expanding site %q under plate %q", m.Name, p.frame.Name)
		}
		m.Dist = d
	}
	return nil
}

// subsampleParam slices a full-size parameter value down to the active
// subsample along the plate dimension. Values that do not carry the plate
// dimension at full size pass through untouched.
func (p *Plate) subsampleParam(m *Message) error {
	if p.subsample == nil || m.Value == nil {
		return nil
	}
	d, err := core.NormalizeDim(p.frame.Dim-m.EventDim, m.Value.Dim())
	if err != nil || m.Value.Shape[d] != p.frame.Size {
		return nil
	}
	v, err := core.IndexSelect(m.Value, d, p.subsample)
	if err != nil {
		return errors.Wrapf(err, "runtime: subsampling param %q under plate %q", m.Name, p.frame.Name)
	}
	m.Value = v
	return nil
}

func (p *Plate) Postprocess(*Message) error { return nil }

// SequentialRange iterates body over [0, size) under a non-vectorized
// batching frame. The guide layer rejects models using it; the construct
// exists so that the unsupported-structure failure mode is observable.
func (c *Context) SequentialRange(name string, size int, body func(i int) error) error {
	if size <= 0 {
		return errors.Errorf("runtime: sequential range %q must have positive size, got %d", name, size)
	}
	frame := Frame{Name: name, Size: size, SubsampleSize: size, Vectorized: false}
	for i := 0; i < size; i++ {
		h := &seqFrame{frame: frame}
		c.push(h)
		err := body(i)
		c.pop(h)
		if err != nil {
			return err
		}
	}
	return nil
}

type seqFrame struct {
	frame Frame
}

func (h *seqFrame) Process(m *Message) error {
	if m.Kind != KindSubsample {
		m.Stack = append(m.Stack, h.frame)
	}
	return nil
}

func (h *seqFrame) Postprocess(*Message) error { return nil }
