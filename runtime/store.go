package runtime

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
)

// ParamStore is keyed storage for learnable parameters. Values are held in
// unconstrained space together with the support they are constrained to;
// reads return the constrained value. Creation is idempotent: a seed value is
// written only on first reference to a name, never resetting an existing one.
type ParamStore struct {
	params map[string]*paramEntry
	order  []string
}

type paramEntry struct {
	unconstrained *core.Tensor
	support       dist.Support
	eventDim      int
}

// NewParamStore returns an empty store.
func NewParamStore() *ParamStore {
	return &ParamStore{params: make(map[string]*paramEntry)}
}

// Has reports whether a parameter exists.
func (s *ParamStore) Has(name string) bool {
	_, ok := s.params[name]
	return ok
}

// Names returns parameter names in creation order.
func (s *ParamStore) Names() []string {
	return append([]string(nil), s.order...)
}

// Get returns the constrained value of an existing parameter.
func (s *ParamStore) Get(name string) (*core.Tensor, error) {
	e, ok := s.params[name]
	if !ok {
		return nil, errors.Errorf("runtime: param %q does not exist", name)
	}
	return dist.BijectTo(e.support).Forward(e.unconstrained), nil
}

// GetOrCreate returns the constrained value of name, creating it from init
// when absent. init is mapped through the support's bijection into
// unconstrained storage; it is required only on first reference.
func (s *ParamStore) GetOrCreate(name string, init *core.Tensor, support dist.Support, eventDim int) (*core.Tensor, error) {
	if e, ok := s.params[name]; ok {
		return dist.BijectTo(e.support).Forward(e.unconstrained), nil
	}
	if init == nil {
		return nil, errors.Errorf("runtime: param %q does not exist and no initial value was given", name)
	}
	e := &paramEntry{
		unconstrained: dist.BijectTo(support).Inverse(init),
		support:       support,
		eventDim:      eventDim,
	}
	s.params[name] = e
	s.order = append(s.order, name)
	return dist.BijectTo(support).Forward(e.unconstrained), nil
}

// SetUnconstrained overwrites the raw unconstrained value of an existing
// parameter; optimizers drive learning through this.
func (s *ParamStore) SetUnconstrained(name string, v *core.Tensor) error {
	e, ok := s.params[name]
	if !ok {
		return errors.Errorf("runtime: param %q does not exist", name)
	}
	if !v.Shape.Eq(e.unconstrained.Shape) {
		return errors.Errorf("runtime: param %q shape %s cannot be replaced by %s",
			name, e.unconstrained.Shape, v.Shape)
	}
	e.unconstrained = v.Clone()
	return nil
}

// EventDim returns the declared event dimensionality of a parameter.
func (s *ParamStore) EventDim(name string) (int, error) {
	e, ok := s.params[name]
	if !ok {
		return 0, errors.Errorf("runtime: param %q does not exist", name)
	}
	return e.eventDim, nil
}

// Delete removes a parameter if present.
func (s *ParamStore) Delete(name string) {
	if !s.Has(name) {
		return
	}
	delete(s.params, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Clear removes every parameter.
func (s *ParamStore) Clear() {
	s.params = make(map[string]*paramEntry)
	s.order = nil
}

const storeVersion = 1

type storeSnapshot struct {
	Version int
	Records []paramRecord
}

type paramRecord struct {
	Name     string
	Support  int
	EventDim int
	Tensor   []byte
}

// Save writes the store to path. Tensors use the core binary layout inside a
// versioned gob container.
func (s *ParamStore) Save(path string) error {
	snap := storeSnapshot{Version: storeVersion}
	for _, name := range s.order {
		e := s.params[name]
		b, err := core.SerializeTensor(e.unconstrained)
		if err != nil {
			return errors.Wrapf(err, "runtime: serializing param %q", name)
		}
		snap.Records = append(snap.Records, paramRecord{
			Name:     name,
			Support:  int(e.support),
			EventDim: e.eventDim,
			Tensor:   b,
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "runtime: creating param store file")
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return errors.Wrap(err, "runtime: encoding param store")
	}
	return nil
}

// Load replaces the store contents with a snapshot previously written by Save.
func (s *ParamStore) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "runtime: opening param store file")
	}
	defer f.Close()

	var snap storeSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return errors.Wrap(err, "runtime: decoding param store")
	}
	if snap.Version != storeVersion {
		return errors.Errorf("runtime: unsupported param store version %d", snap.Version)
	}

	s.Clear()
	for _, r := range snap.Records {
		t, err := core.DeserializeTensor(r.Tensor)
		if err != nil {
			return errors.Wrapf(err, "runtime: deserializing param %q", r.Name)
		}
		s.params[r.Name] = &paramEntry{
			unconstrained: t,
			support:       dist.Support(r.Support),
			eventDim:      r.EventDim,
		}
		s.order = append(s.order, r.Name)
	}
	return nil
}
