// Package guide implements the EasyGuide construction layer.
//
// An EasyGuide wraps a probabilistic model and lets a user-supplied guide body
// approximate it structurally: select groups of the model's sample sites by
// name pattern, sample each group as one packed auxiliary blob, and unpack the
// blob back into per-site replays that respect the model's plate structure.
// Single sites can instead take maximum-a-posteriori point estimates backed by
// learnable parameters.
//
// Key components:
//   - EasyGuide: Orchestrator owning the site catalog, plate registry, and
//     group cache; the entry point an inference driver invokes
//   - Site catalog: One recorded, side-effect-free execution of the model,
//     capturing every stochastic site's distribution, value, and plate stack
//   - Group: A validated selection of sites with a joint packed sample
//   - MAP estimates: Delta guides over support-constrained parameters
//
// The guide body is an ordinary function; New builds a complete EasyGuide
// around it. Custom site initialization plugs in through WithInit.
package guide

import (
	"regexp"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
	"github.com/sbl8/easyguide/runtime"
)

// paramPrefix names the learnable parameter behind a MAP site estimate.
const paramPrefix = "auto_"

// ErrSequentialPlate reports a model using a non-vectorized batching context.
var ErrSequentialPlate = errors.New("guide: sequential batching contexts are not supported")

// Model is an opaque probabilistic program executed under a Context.
type Model func(ctx *runtime.Context, args ...any) error

// GuideFn is a guide body: the user's approximation logic, invoked with the
// owning EasyGuide and the same arguments as the model.
type GuideFn func(g *EasyGuide, ctx *runtime.Context, args ...any) error

// InitFn maps a catalog site descriptor to an initial value for the
// prototype run.
type InitFn func(site *Site) (*core.Tensor, error)

// Site is one stochastic statement recorded at catalog-build time. Sites are
// immutable after construction and owned by the catalog.
type Site struct {
	Name  string
	Dist  dist.Distribution
	Value *core.Tensor
	// Stack holds the batching-context frames active when the statement
	// executed, innermost first.
	Stack []runtime.Frame
}

// EasyGuide owns a model reference, its site catalog, the plate registry, and
// the group cache. The catalog is built lazily on first invocation and is
// fixed for the instance's lifetime.
type EasyGuide struct {
	model   Model
	guideFn GuideFn
	init    InitFn
	log     *zap.Logger

	catalog []*Site
	sites   map[string]*Site
	frames  map[string]runtime.Frame
	ready   bool

	// plates is the per-call batching-context cache; object construction is
	// memoized within a call and the cache is cleared when the call returns.
	plates map[string]*runtime.Plate
	groups map[string]*Group
}

// Option configures an EasyGuide.
type Option func(*EasyGuide)

// WithInit overrides the site initialization policy used during catalog
// construction. The default draws one fresh sample from each site.
func WithInit(fn InitFn) Option {
	return func(g *EasyGuide) { g.init = fn }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *EasyGuide) { g.log = l }
}

// New builds a concrete EasyGuide around a guide function. This is the
// function-to-guide convenience constructor: supplying fn here is equivalent
// to overriding the guide body of a derived type.
func New(model Model, fn GuideFn, opts ...Option) *EasyGuide {
	g := &EasyGuide{
		model:   model,
		guideFn: fn,
		log:     zap.NewNop(),
		sites:   make(map[string]*Site),
		frames:  make(map[string]runtime.Frame),
		plates:  make(map[string]*runtime.Plate),
		groups:  make(map[string]*Group),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Run executes the guide. Inference drivers call this once per step with
// exactly the arguments the model accepts. The first invocation builds the
// site catalog with those arguments; the per-call plate cache is cleared on
// every exit path.
func (g *EasyGuide) Run(ctx *runtime.Context, args ...any) error {
	if g.guideFn == nil {
		return errors.New("guide: no guide body defined; construct with guide.New(model, fn)")
	}
	if !g.ready {
		if err := g.setupPrototype(ctx, args...); err != nil {
			return err
		}
	}
	defer func() {
		g.plates = make(map[string]*runtime.Plate)
	}()
	return g.guideFn(g, ctx, args...)
}

// setupPrototype runs the model once under a recorded, side-effect-free
// execution and builds the site catalog and frame registry from the result.
func (g *EasyGuide) setupPrototype(ctx *runtime.Context, args ...any) error {
	if g.model == nil {
		return errors.New("guide: no model to build a catalog from")
	}
	// A failed construction may have left a partial catalog behind; a retry
	// starts from scratch.
	g.catalog = nil
	g.sites = make(map[string]*Site)
	g.frames = make(map[string]runtime.Frame)
	tr := runtime.NewTrace()
	handlers := []runtime.Handler{
		runtime.NewBlock(),
		tr,
		runtime.NewInitOverride(g.initOverride()),
	}
	if err := ctx.WithHandlers(handlers, func() error {
		return g.model(ctx, args...)
	}); err != nil {
		return errors.Wrap(err, "guide: prototype run")
	}

	proto := tr.PruneSubsampleSites()
	for _, ts := range proto.StochasticSites() {
		for _, f := range ts.Stack {
			if !f.Vectorized {
				return errors.Wrapf(ErrSequentialPlate, "site %q uses frame %q", ts.Name, f.Name)
			}
			if _, ok := g.frames[f.Name]; !ok {
				g.frames[f.Name] = f
			}
		}
		site := &Site{
			Name:  ts.Name,
			Dist:  ts.Dist,
			Value: ts.Value.Clone(),
			Stack: append([]runtime.Frame(nil), ts.Stack...),
		}
		g.catalog = append(g.catalog, site)
		g.sites[site.Name] = site
	}
	g.ready = true
	g.log.Info("site catalog constructed",
		zap.Int("sites", len(g.catalog)),
		zap.Int("frames", len(g.frames)))
	return nil
}

// initOverride adapts the guide's initialization policy to the runtime's
// handler shape. A nil policy keeps the default fresh-draw behavior.
func (g *EasyGuide) initOverride() runtime.InitFn {
	if g.init == nil {
		return nil
	}
	return func(m *runtime.Message) (*core.Tensor, error) {
		return g.init(&Site{Name: m.Name, Dist: m.Dist, Stack: append([]runtime.Frame(nil), m.Stack...)})
	}
}

// Sites returns the catalog in registration order.
func (g *EasyGuide) Sites() []*Site {
	return append([]*Site(nil), g.catalog...)
}

// Site looks up a catalog site by name.
func (g *EasyGuide) Site(name string) (*Site, bool) {
	s, ok := g.sites[name]
	return s, ok
}

// Plate returns the batching context for name, constructing and caching it on
// first request within the current call. A cache hit returns the existing
// object unconditionally; later parameters are ignored. Zero size and
// subsampleSize default to the values recorded for the frame at catalog time.
// The caller enters and exits the returned plate.
func (g *EasyGuide) Plate(ctx *runtime.Context, name string, size, subsampleSize int, subsample []int) (*runtime.Plate, error) {
	if p, ok := g.plates[name]; ok {
		return p, nil
	}
	if size == 0 {
		f, ok := g.frames[name]
		if !ok {
			return nil, errors.Errorf("guide: plate %q has no recorded size and none was given", name)
		}
		size = f.Size
		if subsampleSize == 0 {
			subsampleSize = f.SubsampleSize
		}
	}
	p, err := ctx.NewPlate(name, size, subsampleSize, subsample)
	if err != nil {
		return nil, err
	}
	g.plates[name] = p
	return p, nil
}

// Group selects catalog sites whose names match the regular expression
// (anchored at the start, so ".*" selects everything) and returns the Group,
// cached by the exact pattern string. An empty selection is an error
// and caches nothing.
func (g *EasyGuide) Group(ctx *runtime.Context, match string) (*Group, error) {
	if !g.ready {
		if err := g.setupPrototype(ctx); err != nil {
			return nil, err
		}
	}
	if grp, ok := g.groups[match]; ok {
		return grp, nil
	}
	re, err := regexp.Compile("^(?:" + match + ")")
	if err != nil {
		return nil, errors.Wrapf(err, "guide: bad group pattern %q", match)
	}
	var sites []*Site
	for _, s := range g.catalog {
		if re.MatchString(s.Name) {
			sites = append(sites, s)
		}
	}
	if len(sites) == 0 {
		return nil, errors.Errorf("guide: group pattern %q matched no model sites", match)
	}
	grp, err := newGroup(g, sites)
	if err != nil {
		return nil, err
	}
	g.groups[match] = grp
	return grp, nil
}

// MapEstimate constructs a maximum-a-posteriori estimate for one site: a
// Delta sample from a learnable parameter constrained to the site's support.
// The parameter is seeded from the catalog value on first use. Plates in the
// site's stack are entered for the duration of the statement; a plate that is
// already active with a strict subsample has the seed re-indexed from
// subsample size up to full size by modular repetition.
func (g *EasyGuide) MapEstimate(ctx *runtime.Context, name string) (*core.Tensor, error) {
	if !g.ready {
		if err := g.setupPrototype(ctx); err != nil {
			return nil, err
		}
	}
	site, ok := g.sites[name]
	if !ok {
		return nil, errors.Errorf("guide: unknown site %q", name)
	}
	fn := site.Dist
	paramName := paramPrefix + name

	var initVal *core.Tensor
	if !ctx.Store().Has(paramName) {
		initVal = site.Value.Clone()
	}

	var entered []*runtime.Plate
	defer func() {
		for i := len(entered) - 1; i >= 0; i-- {
			entered[i].Exit(ctx)
		}
	}()
	for _, f := range site.Stack {
		p, err := g.Plate(ctx, f.Name, 0, 0, nil)
		if err != nil {
			return nil, err
		}
		switch {
		case !ctx.InStack(p):
			if err := p.Enter(ctx); err != nil {
				return nil, err
			}
			entered = append(entered, p)
		case initVal != nil && p.SubsampleSize() < p.Size():
			// Repeat the recorded subsample-sized value out to full size.
			initVal, err = core.IndexSelectMod(initVal, p.Dim()-fn.EventDim(), p.Size())
			if err != nil {
				return nil, errors.Wrapf(err, "guide: re-indexing init value for site %q", name)
			}
		}
	}

	value, err := ctx.Param(paramName, initVal, fn.Support(), fn.EventDim())
	if err != nil {
		return nil, err
	}
	d, err := dist.NewDelta(value, nil, fn.EventDim())
	if err != nil {
		return nil, err
	}
	return ctx.Sample(name, d)
}
