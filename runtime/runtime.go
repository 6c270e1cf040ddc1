// Package runtime implements the probabilistic execution substrate for easyguide.
//
// This package turns declarative sample and param statements into recordable,
// replayable executions. A Context owns an explicit stack of effect handlers;
// every statement is wrapped in a Message that travels through the stack
// innermost-first before the base draw and back outermost-first afterwards.
// Entering a plate or a recorded-execution wrapper pushes a handler, exiting
// pops it, so cleanup is guaranteed on every exit path.
//
// Key components:
//   - Context: Handler stack, RNG, parameter store, plate dim allocation
//   - Message: One sample/param/subsample statement in flight
//   - Trace: Ordered recording of completed statements
//   - Block: Side-effect suppression for prototype runs
//   - Plate: Vectorized batching context with subsampling
//   - ParamStore: Keyed storage with create-if-absent semantics
//
// Execution model:
//  1. Push wrapper handlers (trace, block, init override)
//  2. Run the model; plates push and pop themselves as they are entered
//  3. Each statement flows through the stack and is recorded in order
//  4. Pop the wrappers; the trace holds the episode
//
// The substrate is single-threaded by design: a Context is driven by one
// logical call sequence and carries no internal locking.
package runtime

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
)

// Kind classifies a statement.
type Kind int

const (
	// KindSample is a stochastic sample statement.
	KindSample Kind = iota
	// KindParam is a learnable parameter statement.
	KindParam
	// KindSubsample is plate subsampling bookkeeping, not a true random
	// variable; catalog construction prunes these.
	KindSubsample
)

func (k Kind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindParam:
		return "param"
	case KindSubsample:
		return "subsample"
	default:
		return "unknown"
	}
}

// Message is one statement traveling through the handler stack.
type Message struct {
	Kind     Kind
	Name     string
	Dist     dist.Distribution
	Value    *core.Tensor
	Observed bool
	Infer    map[string]bool
	// EventDim is the declared event dimensionality of a param statement;
	// plates use it to locate their dimension in the value.
	EventDim int
	// Stack is the conditional-independence stack: one Frame per batching
	// context active when the statement executed, innermost first.
	Stack []Frame

	stop bool
}

// StopPropagation hides the message from handlers beneath the current one.
func (m *Message) StopPropagation() { m.stop = true }

// Handler is one effect in the ambient stack. Process runs innermost-first
// before the base draw; Postprocess runs in reverse order once the value is
// set.
type Handler interface {
	Process(m *Message) error
	Postprocess(m *Message) error
}

// Context threads the ambient effect state explicitly through every
// operation: the handler stack, the RNG, the parameter store, and plate
// dimension allocation.
type Context struct {
	handlers []Handler
	store    *ParamStore
	rng      *rand.Rand
	log      *zap.Logger
	dims     map[string]int
}

// Option configures a Context.
type Option func(*Context)

// WithStore uses an externally owned parameter store.
func WithStore(s *ParamStore) Option {
	return func(c *Context) { c.store = s }
}

// WithSeed seeds the context RNG deterministically.
func WithSeed(seed uint64) Option {
	return func(c *Context) { c.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithLogger attaches a structured logger; the default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Context) { c.log = l }
}

// NewContext constructs an execution context with its own parameter store and
// a fixed default seed.
func NewContext(opts ...Option) *Context {
	c := &Context{
		store: NewParamStore(),
		rng:   rand.New(rand.NewPCG(1, 1)),
		log:   zap.NewNop(),
		dims:  make(map[string]int),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store returns the context's parameter store.
func (c *Context) Store() *ParamStore { return c.store }

// RNG returns the context's random source.
func (c *Context) RNG() *rand.Rand { return c.rng }

// Logger returns the context's structured logger.
func (c *Context) Logger() *zap.Logger { return c.log }

func (c *Context) push(h Handler) { c.handlers = append(c.handlers, h) }

func (c *Context) pop(h Handler) {
	for i := len(c.handlers) - 1; i >= 0; i-- {
		if c.handlers[i] == h {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			return
		}
	}
}

// InStack reports whether h is currently active on the handler stack.
func (c *Context) InStack(h Handler) bool {
	for _, x := range c.handlers {
		if x == h {
			return true
		}
	}
	return false
}

// WithHandlers pushes hs (outermost first), runs fn, and pops them again on
// every exit path.
func (c *Context) WithHandlers(hs []Handler, fn func() error) error {
	for _, h := range hs {
		c.push(h)
	}
	defer func() {
		for i := len(hs) - 1; i >= 0; i-- {
			c.pop(hs[i])
		}
	}()
	return fn()
}

// apply routes a message through the handler stack and the base behavior.
func (c *Context) apply(m *Message) error {
	visited := make([]Handler, 0, len(c.handlers))
	for i := len(c.handlers) - 1; i >= 0; i-- {
		h := c.handlers[i]
		visited = append(visited, h)
		if err := h.Process(m); err != nil {
			return err
		}
		if m.stop {
			break
		}
	}

	if m.Kind == KindSample && m.Value == nil {
		if m.Dist == nil {
			return errors.Errorf("runtime: sample site %q has no distribution", m.Name)
		}
		v, err := m.Dist.Sample(c.rng)
		if err != nil {
			return errors.Wrapf(err, "runtime: sampling site %q", m.Name)
		}
		m.Value = v
	}

	for i := len(visited) - 1; i >= 0; i-- {
		if err := visited[i].Postprocess(m); err != nil {
			return err
		}
	}
	return nil
}

// SampleOption configures a sample statement.
type SampleOption func(*Message)

// WithObs conditions the site on an observed value.
func WithObs(v *core.Tensor) SampleOption {
	return func(m *Message) {
		m.Value = v
		m.Observed = true
	}
}

// WithInfer merges inference-configuration flags into the statement.
func WithInfer(infer map[string]bool) SampleOption {
	return func(m *Message) {
		for k, v := range infer {
			m.Infer[k] = v
		}
	}
}

// Sample registers a sample statement under name and returns its value.
func (c *Context) Sample(name string, d dist.Distribution, opts ...SampleOption) (*core.Tensor, error) {
	m := &Message{Kind: KindSample, Name: name, Dist: d, Infer: make(map[string]bool)}
	for _, o := range opts {
		o(m)
	}
	if err := c.apply(m); err != nil {
		return nil, err
	}
	c.log.Debug("sample statement",
		zap.String("site", name),
		zap.Stringer("shape", m.Value.Shape),
		zap.Bool("observed", m.Observed))
	return m.Value, nil
}

// Param registers a learnable parameter. The initial value seeds the store
// only when the name is not yet present; an existing parameter is returned
// unchanged, constrained to its support.
func (c *Context) Param(name string, init *core.Tensor, support dist.Support, eventDim int) (*core.Tensor, error) {
	v, err := c.store.GetOrCreate(name, init, support, eventDim)
	if err != nil {
		return nil, err
	}
	m := &Message{Kind: KindParam, Name: name, Value: v, EventDim: eventDim}
	if err := c.apply(m); err != nil {
		return nil, err
	}
	c.log.Debug("param statement",
		zap.String("name", name),
		zap.Stringer("shape", m.Value.Shape))
	return m.Value, nil
}

// allocDim assigns a stable negative batch dimension to a plate name,
// innermost first in registration order.
func (c *Context) allocDim(name string) int {
	if d, ok := c.dims[name]; ok {
		return d
	}
	d := -(len(c.dims) + 1)
	c.dims[name] = d
	return d
}
