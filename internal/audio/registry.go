package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry maps a stable clip identifier to one reused Playable. A Playable
// is recreated only when the requested source locator differs from the one
// it was created with, so volume, loop and position survive catalog refetches.
// Entries are never evicted implicitly.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	entries  map[string]Playable
	onCreate func(id string, p Playable)
	log      *slog.Logger
}

// NewRegistry returns an empty Registry creating Playables with factory.
func NewRegistry(factory Factory, log *slog.Logger) *Registry {
	return &Registry{
		factory: factory,
		entries: make(map[string]Playable),
		log:     log,
	}
}

// OnCreate registers fn to be called for every Playable the Registry creates.
func (r *Registry) OnCreate(fn func(id string, p Playable)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = fn
}

// GetOrCreate returns the Playable for id, creating it on first use and
// replacing it (after closing the stale one) when source changed.
func (r *Registry) GetOrCreate(id, source string) (Playable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.entries[id]; ok {
		if p.Source() == source {
			return p, nil
		}
		r.log.Info("playable source changed, recreating",
			slog.String("clip_id", id),
			slog.String("old_source", p.Source()),
			slog.String("new_source", source))
		if err := p.Close(); err != nil {
			r.log.Warn("close stale playable", slog.String("clip_id", id), slog.String("error", err.Error()))
		}
		delete(r.entries, id)
	}

	p, err := r.factory(source)
	if err != nil {
		return nil, fmt.Errorf("create playable for %q: %w", id, err)
	}
	r.entries[id] = p
	if r.onCreate != nil {
		r.onCreate(id, p)
	}
	return p, nil
}

// Get returns the Playable for id without creating one.
func (r *Registry) Get(id string) (Playable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[id]
	return p, ok
}

// Evict closes and forgets the Playable for id. It reports whether an entry existed.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	p, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := p.Close(); err != nil {
		r.log.Warn("close evicted playable", slog.String("clip_id", id), slog.String("error", err.Error()))
	}
	return true
}

// Len returns the number of live Playables.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every Playable. The Registry is empty afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Playable)
	r.mu.Unlock()

	var errs []error
	for id, p := range entries {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close playable %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
