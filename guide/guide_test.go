package guide_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
	"github.com/sbl8/easyguide/guide"
	"github.com/sbl8/easyguide/runtime"
)

func scalarModel(ctx *runtime.Context, _ ...any) error {
	if _, err := ctx.Sample("loc", dist.NewNormal(0, 1)); err != nil {
		return err
	}
	_, err := ctx.Sample("scale", dist.NewLogNormal(0, 1))
	return err
}

func plateModel(size, subsampleSize int) guide.Model {
	return func(ctx *runtime.Context, _ ...any) error {
		p, err := ctx.NewPlate("data", size, subsampleSize, nil)
		if err != nil {
			return err
		}
		if err := p.Enter(ctx); err != nil {
			return err
		}
		defer p.Exit(ctx)
		_, err = ctx.Sample("z", dist.NewNormal(0, 1))
		return err
	}
}

func TestRunRequiresGuideBody(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, nil)
	err := g.Run(runtime.NewContext())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no guide body")
}

func TestCatalogBuiltOnFirstRun(t *testing.T) {
	t.Parallel()
	modelCalls := 0
	model := func(ctx *runtime.Context, args ...any) error {
		modelCalls++
		return scalarModel(ctx, args...)
	}
	g := guide.New(model, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		return nil
	})
	require.Empty(t, g.Sites())

	ctx := runtime.NewContext(runtime.WithSeed(1))
	require.NoError(t, g.Run(ctx))
	require.NoError(t, g.Run(ctx))

	require.Equal(t, 1, modelCalls)
	sites := g.Sites()
	require.Len(t, sites, 2)
	require.Equal(t, "loc", sites[0].Name)
	require.Equal(t, "scale", sites[1].Name)
}

func TestSequentialModelRejected(t *testing.T) {
	t.Parallel()
	model := func(ctx *runtime.Context, _ ...any) error {
		return ctx.SequentialRange("seq", 2, func(i int) error {
			name := "s0"
			if i == 1 {
				name = "s1"
			}
			_, err := ctx.Sample(name, dist.NewNormal(0, 1))
			return err
		})
	}
	g := guide.New(model, func(*guide.EasyGuide, *runtime.Context, ...any) error { return nil })
	err := g.Run(runtime.NewContext(runtime.WithSeed(1)))
	require.Error(t, err)
	require.True(t, errors.Is(err, guide.ErrSequentialPlate))
}

func TestFailedCatalogBuildDoesNotAccumulate(t *testing.T) {
	t.Parallel()
	// "ok" is recorded before the sequential frame aborts construction; a
	// retry must not stack another copy of it onto the partial catalog.
	model := func(ctx *runtime.Context, _ ...any) error {
		if _, err := ctx.Sample("ok", dist.NewNormal(0, 1)); err != nil {
			return err
		}
		return ctx.SequentialRange("seq", 1, func(int) error {
			_, err := ctx.Sample("s0", dist.NewNormal(0, 1))
			return err
		})
	}
	g := guide.New(model, func(*guide.EasyGuide, *runtime.Context, ...any) error { return nil })
	ctx := runtime.NewContext(runtime.WithSeed(15))

	require.Error(t, g.Run(ctx))
	require.Error(t, g.Run(ctx))
	require.Len(t, g.Sites(), 1)
	require.Equal(t, "ok", g.Sites()[0].Name)
}

func TestGroupCachedByPattern(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		a, err := g.Group(ctx, ".*")
		require.NoError(t, err)
		b, err := g.Group(ctx, ".*")
		require.NoError(t, err)
		require.Same(t, a, b)

		only, err := g.Group(ctx, "loc")
		require.NoError(t, err)
		require.Len(t, only.Sites(), 1)
		require.NotSame(t, a, only)
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(2))))
}

func TestGroupEmptySelectionFails(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		_, err := g.Group(ctx, "nope.*")
		require.Error(t, err)
		require.Contains(t, err.Error(), "matched no model sites")
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(2))))
}

func TestGroupPacksScalarSites(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, ".*")
		require.NoError(t, err)
		require.True(t, grp.EventShape().Eq(core.Shape{2}))

		loc := core.Full(core.Shape{2}, 0)
		scale := core.Full(core.Shape{2}, 1)
		packed, values, err := grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
		require.NoError(t, err)
		require.True(t, packed.Shape.Eq(core.Shape{2}))
		require.Len(t, values, 2)

		// Catalog order is loc then scale: slot 0 maps through the identity
		// and slot 1 through exp into the positive half line.
		require.Equal(t, 0, values["loc"].Dim())
		require.Equal(t, 0, values["scale"].Dim())
		require.InDelta(t, packed.Data[0], values["loc"].Data[0], 1e-12)
		require.InDelta(t, math.Exp(packed.Data[1]), values["scale"].Data[0], 1e-12)
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(3))))
}

func TestGroupSampleShapeMismatch(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, ".*")
		require.NoError(t, err)

		loc := core.Full(core.Shape{3}, 0)
		scale := core.Full(core.Shape{3}, 1)
		_, _, err = grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "trailing dim")
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(3))))
}

func TestGroupRestoresPlateShape(t *testing.T) {
	t.Parallel()
	g := guide.New(plateModel(3, 0), func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, "z")
		require.NoError(t, err)
		// The plate dimension collapses to 1 inside the packed sample.
		require.True(t, grp.EventShape().Eq(core.Shape{1}))

		loc := core.Full(core.Shape{1}, 0)
		scale := core.Full(core.Shape{1}, 1)
		packed, values, err := grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
		require.NoError(t, err)
		require.True(t, packed.Shape.Eq(core.Shape{1}))
		require.True(t, values["z"].Shape.Eq(core.Shape{3}))
		for _, v := range values["z"].Data {
			require.InDelta(t, packed.Data[0], v, 1e-12)
		}
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(4))))
}

func TestGroupCollapsesOnlySharedFrames(t *testing.T) {
	t.Parallel()
	model := func(ctx *runtime.Context, _ ...any) error {
		if _, err := ctx.Sample("a", dist.NewNormal(0, 1)); err != nil {
			return err
		}
		p, err := ctx.NewPlate("data", 3, 0, nil)
		if err != nil {
			return err
		}
		if err := p.Enter(ctx); err != nil {
			return err
		}
		defer p.Exit(ctx)
		_, err = ctx.Sample("z", dist.NewNormal(0, 1))
		return err
	}
	g := guide.New(model, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, ".*")
		require.NoError(t, err)
		// "a" has no frames, so the shared set is empty and the plate dim of
		// "z" stays at full extent in the packed sample: 1 + 3 slots.
		require.Empty(t, grp.CommonFrames())
		require.True(t, grp.EventShape().Eq(core.Shape{4}))

		loc := core.NewTensor(core.Shape{4})
		scale := core.Full(core.Shape{4}, 1)
		packed, values, err := grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
		require.NoError(t, err)
		require.Equal(t, 0, values["a"].Dim())
		require.True(t, values["z"].Shape.Eq(core.Shape{3}))
		require.InDelta(t, packed.Data[0], values["a"].Data[0], 1e-12)
		// Each plate element keeps its own packed slot.
		for i := 0; i < 3; i++ {
			require.InDelta(t, packed.Data[1+i], values["z"].Data[i], 1e-12)
		}

		single, err := g.Group(ctx, "z")
		require.NoError(t, err)
		frames := single.CommonFrames()
		require.Len(t, frames, 1)
		require.Equal(t, "data", frames[0].Name)
		require.True(t, single.EventShape().Eq(core.Shape{1}))
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(14))))
}

func TestGroupSampleUnderSubsampledPlate(t *testing.T) {
	t.Parallel()
	g := guide.New(plateModel(7, 3), func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, "z")
		require.NoError(t, err)
		require.True(t, grp.EventShape().Eq(core.Shape{1}))

		loc := core.Full(core.Shape{1}, 0)
		scale := core.Full(core.Shape{1}, 1)
		_, values, err := grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
		require.NoError(t, err)
		// The replayed value carries the subsample-sized batch dimension,
		// matching the shape recorded at catalog time.
		require.True(t, values["z"].Shape.Eq(core.Shape{3}))
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(12))))
}

func TestGroupBeforeFirstRunBuildsCatalog(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(*guide.EasyGuide, *runtime.Context, ...any) error { return nil })
	grp, err := g.Group(runtime.NewContext(runtime.WithSeed(13)), ".*")
	require.NoError(t, err)
	require.Len(t, grp.Sites(), 2)
	require.True(t, grp.EventShape().Eq(core.Shape{2}))
}

func TestGroupSampleMarkedAuxiliary(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, ".*")
		if err != nil {
			return err
		}
		loc := core.Full(core.Shape{2}, 0)
		scale := core.Full(core.Shape{2}, 1)
		_, _, err = grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), map[string]bool{"custom": true})
		return err
	})
	ctx := runtime.NewContext(runtime.WithSeed(5))
	tr := runtime.NewTrace()
	require.NoError(t, ctx.WithHandlers([]runtime.Handler{tr}, func() error {
		return g.Run(ctx)
	}))

	aux, ok := tr.Site("latent")
	require.True(t, ok)
	require.True(t, aux.Infer["is_auxiliary"])
	require.True(t, aux.Infer["custom"])

	replayed, ok := tr.Site("loc")
	require.True(t, ok)
	require.False(t, replayed.Infer["is_auxiliary"])
}

func TestPlateMemoizedWithRecordedDefaults(t *testing.T) {
	t.Parallel()
	g := guide.New(plateModel(7, 3), func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		p, err := g.Plate(ctx, "data", 0, 0, nil)
		require.NoError(t, err)
		require.Equal(t, 7, p.Size())
		require.Equal(t, 3, p.SubsampleSize())

		// A cache hit ignores later parameters entirely.
		again, err := g.Plate(ctx, "data", 99, 5, nil)
		require.NoError(t, err)
		require.Same(t, p, again)
		require.Equal(t, 7, again.Size())

		_, err = g.Plate(ctx, "unknown", 0, 0, nil)
		require.Error(t, err)
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(6))))
}

func TestMapEstimateCreatesParamOnce(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		v, err := g.MapEstimate(ctx, "loc")
		require.NoError(t, err)
		require.Equal(t, 0, v.Dim())

		stored, err := ctx.Store().Get("auto_loc")
		require.NoError(t, err)
		require.InDelta(t, stored.Data[0], v.Data[0], 1e-12)
		return nil
	})
	ctx := runtime.NewContext(runtime.WithSeed(7))
	require.NoError(t, g.Run(ctx))
	first, err := ctx.Store().Get("auto_loc")
	require.NoError(t, err)

	require.NoError(t, g.Run(ctx))
	second, err := ctx.Store().Get("auto_loc")
	require.NoError(t, err)
	require.InDelta(t, first.Data[0], second.Data[0], 1e-12)
	require.Equal(t, []string{"auto_loc"}, ctx.Store().Names())
}

func TestMapEstimateConstrainedSite(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		v, err := g.MapEstimate(ctx, "scale")
		require.NoError(t, err)
		require.Greater(t, v.Data[0], 0.0)
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(8))))
}

func TestMapEstimateUnknownSite(t *testing.T) {
	t.Parallel()
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		_, err := g.MapEstimate(ctx, "missing")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown site")
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(8))))
}

func TestMapEstimateEntersPlates(t *testing.T) {
	t.Parallel()
	g := guide.New(plateModel(3, 0), func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		v, err := g.MapEstimate(ctx, "z")
		require.NoError(t, err)
		require.True(t, v.Shape.Eq(core.Shape{3}))
		return nil
	})
	require.NoError(t, g.Run(runtime.NewContext(runtime.WithSeed(9))))
}

func TestMapEstimateReindexesSubsampledInit(t *testing.T) {
	t.Parallel()
	init := func(site *guide.Site) (*core.Tensor, error) {
		return core.FromSlice([]float64{0, 1, 2}, core.Shape{3})
	}
	g := guide.New(plateModel(7, 3), func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		p, err := g.Plate(ctx, "data", 0, 0, nil)
		require.NoError(t, err)
		require.NoError(t, p.Enter(ctx))
		defer p.Exit(ctx)

		v, err := g.MapEstimate(ctx, "z")
		require.NoError(t, err)
		require.True(t, v.Shape.Eq(core.Shape{3}))
		return nil
	}, guide.WithInit(init))

	ctx := runtime.NewContext(runtime.WithSeed(10))
	require.NoError(t, g.Run(ctx))

	// The recorded subsample-sized seed is repeated modularly out to the
	// plate's full size before the parameter is created.
	full, err := ctx.Store().Get("auto_z")
	require.NoError(t, err)
	require.True(t, full.Shape.Eq(core.Shape{7}))
	require.Equal(t, []float64{0, 1, 2, 0, 1, 2, 0}, full.Data)
}

func BenchmarkGroupSample(b *testing.B) {
	g := guide.New(scalarModel, func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
		grp, err := g.Group(ctx, ".*")
		if err != nil {
			return err
		}
		loc := core.Full(core.Shape{2}, 0)
		scale := core.Full(core.Shape{2}, 1)
		_, _, err = grp.Sample(ctx, "latent", dist.NewDiagNormal(loc, scale), nil)
		return err
	})
	ctx := runtime.NewContext(runtime.WithSeed(11))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := g.Run(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
