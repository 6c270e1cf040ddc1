package guide

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
	"github.com/sbl8/easyguide/runtime"
)

// Group is a validated selection of catalog sites sampled jointly as one
// packed tensor. Groups are created through EasyGuide.Group and cached per
// pattern, so site selections, spans, and the packed event size are computed
// once per guide instance.
type Group struct {
	// guide points back to the owning EasyGuide. The guide outlives its
	// groups, so the pointer is non-owning and never released here.
	guide *EasyGuide

	sites []*Site
	// common holds the frames shared by every member site, keyed by name.
	// Only these dimensions collapse to 1 in the packed sample: a frame some
	// member lacks cannot be jointly subsampled, so its full extent must be
	// packed per element.
	common map[string]runtime.Frame
	// collapsed holds, per site, the distribution batch shape with the
	// common frame dimensions set to 1. The packed sample covers one element
	// per collapsed batch slot; plates restore the full extent at unpack.
	collapsed []core.Shape
	spans     []int
	eventSize int
}

func newGroup(g *EasyGuide, sites []*Site) (*Group, error) {
	grp := &Group{
		guide:     g,
		sites:     sites,
		common:    make(map[string]runtime.Frame),
		collapsed: make([]core.Shape, len(sites)),
		spans:     make([]int, len(sites)),
	}
	for _, f := range sites[0].Stack {
		grp.common[f.Name] = f
	}
	for _, site := range sites[1:] {
		names := make(map[string]bool, len(site.Stack))
		for _, f := range site.Stack {
			names[f.Name] = true
		}
		for name := range grp.common {
			if !names[name] {
				delete(grp.common, name)
			}
		}
	}
	for i, site := range sites {
		batch := site.Dist.BatchShape().Clone()
		for _, f := range site.Stack {
			if _, shared := grp.common[f.Name]; !shared {
				continue
			}
			idx := len(batch) + f.Dim
			if idx < 0 || idx >= len(batch) {
				return nil, errors.Errorf("guide: site %q frame %q dim %d outside batch shape %v",
					site.Name, f.Name, f.Dim, batch)
			}
			batch[idx] = 1
		}
		grp.collapsed[i] = batch
		grp.spans[i] = batch.Numel() * site.Dist.EventShape().Numel()
		grp.eventSize += grp.spans[i]
	}
	return grp, nil
}

// Sites returns the group's member sites in catalog order.
func (grp *Group) Sites() []*Site {
	return append([]*Site(nil), grp.sites...)
}

// CommonFrames returns the frames shared by every member site, innermost
// first. An empty result means the group can never be subsampled.
func (grp *Group) CommonFrames() []runtime.Frame {
	out := make([]runtime.Frame, 0, len(grp.common))
	for _, f := range grp.common {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dim > out[j].Dim })
	return out
}

// EventShape returns the one-dimensional shape of the packed group sample.
func (grp *Group) EventShape() core.Shape {
	return core.Shape{grp.eventSize}
}

// Sample draws the whole group from one auxiliary distribution and unpacks it
// into per-site model replays. fn must have event shape equal to
// grp.EventShape; extra leading batch dimensions are allowed and broadcast
// against each site.
//
// The auxiliary statement is recorded under guideName with is_auxiliary set,
// so downstream consumers can drop it when aligning against the model. Each
// unpacked slice is transformed into the site's support, wrapped in a Delta
// carrying the inverse-transform log-density correction, and replayed under
// the site's plates. Sample returns the packed draw and the per-site
// constrained values.
func (grp *Group) Sample(ctx *runtime.Context, guideName string, fn dist.Distribution, infer map[string]bool) (*core.Tensor, map[string]*core.Tensor, error) {
	flags := make(map[string]bool, len(infer)+1)
	for k, v := range infer {
		flags[k] = v
	}
	flags["is_auxiliary"] = true

	packed, err := ctx.Sample(guideName, fn, runtime.WithInfer(flags))
	if err != nil {
		return nil, nil, err
	}
	if packed.Dim() < 1 || packed.Shape[packed.Dim()-1] != grp.eventSize {
		return nil, nil, errors.Errorf("guide: group sample %q has shape %v, want trailing dim %d",
			guideName, packed.Shape, grp.eventSize)
	}
	commonBatch := core.Shape(packed.Shape[:packed.Dim()-1]).Clone()

	values := make(map[string]*core.Tensor, len(grp.sites))
	pos := 0
	for i, site := range grp.sites {
		span := grp.spans[i]
		z, err := grp.unpackSite(ctx, site, packed, commonBatch, grp.collapsed[i], pos, pos+span)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "guide: unpacking site %q", site.Name)
		}
		values[site.Name] = z
		pos += span
	}
	return packed, values, nil
}

// unpackSite slices one site's span out of the packed draw, moves it into the
// site's support, and replays the model statement under the site's plates.
func (grp *Group) unpackSite(ctx *runtime.Context, site *Site, packed *core.Tensor, commonBatch, collapsed core.Shape, lo, hi int) (*core.Tensor, error) {
	sliced, err := core.SliceLastDim(packed, lo, hi)
	if err != nil {
		return nil, err
	}
	batch, err := core.BroadcastShapes(commonBatch, collapsed)
	if err != nil {
		return nil, err
	}
	unconstrained, err := sliced.Reshape(batch.Concat(site.Dist.EventShape()))
	if err != nil {
		return nil, err
	}

	transform := dist.BijectTo(site.Dist.Support())
	z := transform.Forward(unconstrained)
	logDensity := transform.InverseLogDetJacobian(z, unconstrained)
	logDensity, err = core.SumRightmost(logDensity, site.Dist.EventDim())
	if err != nil {
		return nil, err
	}
	d, err := dist.NewDelta(z, logDensity, site.Dist.EventDim())
	if err != nil {
		return nil, err
	}

	var entered []*runtime.Plate
	defer func() {
		for i := len(entered) - 1; i >= 0; i-- {
			entered[i].Exit(ctx)
		}
	}()
	for _, f := range site.Stack {
		p, err := grp.guide.Plate(ctx, f.Name, 0, 0, nil)
		if err != nil {
			return nil, err
		}
		if ctx.InStack(p) {
			continue
		}
		if err := p.Enter(ctx); err != nil {
			return nil, err
		}
		entered = append(entered, p)
	}
	return ctx.Sample(site.Name, d)
}

// MapEstimate takes a maximum-a-posteriori point estimate of every site in
// the group, one learnable parameter per site.
func (grp *Group) MapEstimate(ctx *runtime.Context) (map[string]*core.Tensor, error) {
	values := make(map[string]*core.Tensor, len(grp.sites))
	for _, site := range grp.sites {
		v, err := grp.guide.MapEstimate(ctx, site.Name)
		if err != nil {
			return nil, err
		}
		values[site.Name] = v
	}
	return values, nil
}
