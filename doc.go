// Package easyguide implements structured guide construction for variational inference.
//
// An "easy guide" is a reduced, structured approximation to a probabilistic model:
// the user selects groups of the model's random-variable sites, packs them into a
// single auxiliary latent blob, samples that blob under a simpler distribution, and
// unpacks the blob back into per-site samples that replay against the model's
// original sites, including its plate (batch) structure.
//
// # Architecture Overview
//
// The engine consists of several key components:
//
//   - Tensors: Flat float64 buffers with explicit row-major shape bookkeeping
//   - Distributions: Batch/event-shaped distribution objects with constrained
//     supports and bijections to unconstrained space
//   - Runtime: An effect-handler execution substrate with trace recording,
//     vectorized plates with subsampling, and a keyed parameter store
//   - Guide: The EasyGuide orchestrator, site catalog, plate registry, and
//     Group pack/sample/unpack protocol
//
// # Basic Usage
//
//	model := func(ctx *runtime.Context, args ...any) error {
//	    _, err := ctx.Sample("x", dist.NewNormal(0, 1))
//	    return err
//	}
//
//	g := guide.New(model, func(g *guide.EasyGuide, ctx *runtime.Context, args ...any) error {
//	    grp, err := g.Group(ctx, ".*")
//	    if err != nil {
//	        return err
//	    }
//	    loc := core.NewTensor(grp.EventShape())
//	    scale := core.Full(grp.EventShape(), 1)
//	    _, _, err = grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
//	    return err
//	})
//
//	ctx := runtime.NewContext(runtime.WithSeed(1))
//	err := g.Run(ctx)
//
// # Package Structure
//
//   - core: Shape and tensor primitives, packing math, serialization
//   - kernels: In-place element-wise compute kernels and reductions
//   - dist: Distribution objects, supports, and unconstraining bijections
//   - runtime: Effect handlers, traces, plates, and the parameter store
//   - guide: EasyGuide, Group selection, and MAP point estimates
//   - cmd: Command-line tools (guiderun)
//
// For more information, see the documentation at https://pkg.go.dev/github.com/sbl8/easyguide
// and the project repository at https://github.com/sbl8/easyguide
package easyguide
