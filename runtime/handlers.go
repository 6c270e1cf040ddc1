package runtime

import (
	"github.com/pkg/errors"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
)

// TraceSite is one completed statement recorded by a Trace.
type TraceSite struct {
	Kind     Kind
	Name     string
	Dist     dist.Distribution
	Value    *core.Tensor
	Observed bool
	Infer    map[string]bool
	Stack    []Frame
}

// Trace records every statement flowing through it, in registration order.
// Pushing a Trace handler is the recorded-execution wrapper: the model runs
// fully while the trace observes.
type Trace struct {
	sites  []*TraceSite
	byName map[string]*TraceSite
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{byName: make(map[string]*TraceSite)}
}

// Process rejects duplicate site names early.
func (t *Trace) Process(m *Message) error {
	if m.Kind == KindSubsample {
		return nil
	}
	if _, ok := t.byName[m.Name]; ok {
		return errors.Errorf("runtime: site %q appears twice in one trace", m.Name)
	}
	return nil
}

// Postprocess records the completed statement.
func (t *Trace) Postprocess(m *Message) error {
	site := &TraceSite{
		Kind:     m.Kind,
		Name:     m.Name,
		Dist:     m.Dist,
		Observed: m.Observed,
		Infer:    m.Infer,
		Stack:    append([]Frame(nil), m.Stack...),
	}
	if m.Value != nil {
		site.Value = m.Value.Clone()
	}
	t.sites = append(t.sites, site)
	if m.Kind != KindSubsample {
		t.byName[m.Name] = site
	}
	return nil
}

// Sites returns all recorded statements in registration order.
func (t *Trace) Sites() []*TraceSite { return t.sites }

// Site looks up a recorded statement by name.
func (t *Trace) Site(name string) (*TraceSite, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// StochasticSites returns the unobserved sample statements in order.
func (t *Trace) StochasticSites() []*TraceSite {
	var out []*TraceSite
	for _, s := range t.sites {
		if s.Kind == KindSample && !s.Observed {
			out = append(out, s)
		}
	}
	return out
}

// Prune returns a filtered copy keeping the sites for which keep is true.
// Registration order is preserved.
func (t *Trace) Prune(keep func(*TraceSite) bool) *Trace {
	out := NewTrace()
	for _, s := range t.sites {
		if !keep(s) {
			continue
		}
		out.sites = append(out.sites, s)
		if s.Kind != KindSubsample {
			out.byName[s.Name] = s
		}
	}
	return out
}

// PruneSubsampleSites drops the synthetic bookkeeping sites that plate
// subsampling introduces. The selection rule is a predicate, so substrates
// with different bookkeeping conventions can prune with Trace.Prune directly.
func (t *Trace) PruneSubsampleSites() *Trace {
	return t.Prune(func(s *TraceSite) bool { return s.Kind != KindSubsample })
}

// Block hides inner statements from the handlers beneath it, so that a
// recorded prototype run does not disturb a surrounding active inference
// program.
type Block struct{}

// NewBlock returns a blocking handler.
func NewBlock() *Block { return &Block{} }

func (b *Block) Process(m *Message) error {
	m.StopPropagation()
	return nil
}

func (b *Block) Postprocess(*Message) error { return nil }

// InitFn maps a site descriptor to a forced initial value.
type InitFn func(m *Message) (*core.Tensor, error)

// InitOverride forces the value of every unobserved sample statement through
// an initialization policy. With a nil policy the base behavior (one fresh
// draw from the site's distribution) applies.
type InitOverride struct {
	fn InitFn
}

// NewInitOverride wraps an initialization policy as a handler.
func NewInitOverride(fn InitFn) *InitOverride {
	return &InitOverride{fn: fn}
}

func (h *InitOverride) Process(m *Message) error {
	if h.fn == nil || m.Kind != KindSample || m.Observed || m.Value != nil {
		return nil
	}
	v, err := h.fn(m)
	if err != nil {
		return errors.Wrapf(err, "runtime: initializing site %q", m.Name)
	}
	m.Value = v
	return nil
}

func (h *InitOverride) Postprocess(*Message) error { return nil }
