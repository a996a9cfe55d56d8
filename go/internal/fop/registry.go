package fop

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// ErrUnknownFOP is returned when no field of play has the requested ID
var ErrUnknownFOP = errors.New("unknown field of play")

// Registry holds the fields of play of a competition by ID. Callers pass the
// handle they get from it explicitly; nothing is looked up from ambient state.
type Registry struct {
	clock clockwork.Clock

	mu   sync.RWMutex
	fops map[string]*FieldOfPlay
}

// NewRegistry creates a field of play for every config
func NewRegistry(clock clockwork.Clock, configs ...Config) (*Registry, error) {
	r := &Registry{
		clock: clock,
		fops:  make(map[string]*FieldOfPlay),
	}
	for _, cfg := range configs {
		if _, err := r.Add(cfg); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Add creates and registers a field of play
func (r *Registry) Add(cfg Config) (*FieldOfPlay, error) {
	if cfg.ID == "" {
		return nil, errors.New("field of play id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fops[cfg.ID]; exists {
		return nil, fmt.Errorf("field of play %q already registered", cfg.ID)
	}
	f := New(cfg, r.clock)
	r.fops[cfg.ID] = f
	return f, nil
}

// Get returns the field of play with the given ID
func (r *Registry) Get(id string) (*FieldOfPlay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFOP, id)
	}
	return f, nil
}

// IDs returns the registered IDs in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.fops))
	for id := range r.fops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every field of play, sorted by ID
func (r *Registry) All() []*FieldOfPlay {
	ids := r.IDs()

	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*FieldOfPlay, 0, len(ids))
	for _, id := range ids {
		if f, ok := r.fops[id]; ok {
			all = append(all, f)
		}
	}
	return all
}

// Close closes every field of play
func (r *Registry) Close() {
	r.mu.Lock()
	fops := r.fops
	r.fops = make(map[string]*FieldOfPlay)
	r.mu.Unlock()

	for _, f := range fops {
		f.Close()
	}
}
