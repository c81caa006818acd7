package catalog

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"clip-mixer/internal/audio"

	"golang.org/x/sync/singleflight"
)

// PlayableProvider hands out the Playable bound to a clip's source.
// *audio.Registry satisfies it.
type PlayableProvider interface {
	GetOrCreate(id, source string) (audio.Playable, error)
}

// Key returns the cache key for a set of clip ids. The key is built from the
// sorted, de-duplicated ids so that reordering a session does not change it.
// Each id is quoted, so distinct id sets never share a key whatever bytes
// the ids contain.
func Key(ids []string) string {
	sorted := slices.Clone(ids)
	sort.Strings(sorted)
	sorted = slices.Compact(sorted)
	quoted := make([]string, len(sorted))
	for i, id := range sorted {
		quoted[i] = strconv.Quote(id)
	}
	return strings.Join(quoted, ",")
}

// Cache resolves clip ids through a Resolver and remembers the result per
// id set. Identical concurrent lookups share one fetch. Local inserts and
// removals patch cached results so the session stays renderable while a
// drag is in flight.
type Cache struct {
	resolver  Resolver
	playables PlayableProvider
	log       *slog.Logger
	group     singleflight.Group

	mu     sync.RWMutex
	all    []Clip
	hasAll bool
	byKey  map[string]map[string]Entry
	gen    uint64 // bumped by Invalidate; stale fetches are not stored

	onFetch func(op string, err error)
}

// NewCache returns an empty Cache.
func NewCache(resolver Resolver, playables PlayableProvider, log *slog.Logger) *Cache {
	return &Cache{
		resolver:  resolver,
		playables: playables,
		log:       log,
		byKey:     make(map[string]map[string]Entry),
	}
}

// OnFetch registers fn to be called after every resolver round-trip with
// op ("all" or "ids") and the fetch error, if any.
func (c *Cache) OnFetch(fn func(op string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFetch = fn
}

// ResolveAll returns the full catalog ordered by name (then id).
func (c *Cache) ResolveAll(ctx context.Context) ([]Clip, error) {
	c.mu.RLock()
	if c.hasAll {
		out := slices.Clone(c.all)
		c.mu.RUnlock()
		return out, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do("all", func() (any, error) {
		clips, err := c.resolver.ResolveAll(ctx)
		c.observe("all", err)
		if err != nil {
			return nil, &ResolutionError{Op: "resolve all", Err: err}
		}
		out := make([]Clip, 0, len(clips))
		for _, clip := range clips {
			out = append(out, clip.normalize())
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID < out[j].ID
		})

		c.mu.Lock()
		if c.gen == gen {
			c.all = out
			c.hasAll = true
		}
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]Clip)), nil
}

// ResolveByIDs returns the entries for ids, fetching only when the id set
// has no complete cached result.
func (c *Cache) ResolveByIDs(ctx context.Context, ids []string) (map[string]Entry, error) {
	if len(ids) == 0 {
		return map[string]Entry{}, nil
	}
	key := Key(ids)

	c.mu.RLock()
	cached, ok := c.byKey[key]
	gen := c.gen
	c.mu.RUnlock()
	if ok && complete(cached) {
		return cloneEntries(cached), nil
	}

	v, err, _ := c.group.Do("ids:"+key, func() (any, error) {
		clips, err := c.resolver.ResolveByIDs(ctx, ids)
		c.observe("ids", err)
		if err != nil {
			return nil, &ResolutionError{Op: "resolve by ids", Err: err}
		}
		entries := make(map[string]Entry, len(clips))
		for id, clip := range clips {
			entries[id] = c.entryFor(clip.normalize())
		}

		c.mu.Lock()
		if c.gen == gen {
			c.byKey[key] = entries
		}
		c.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneEntries(v.(map[string]Entry)), nil
}

// InsertLocal adds clip to the result cached for currentIDs and stores the
// patched result under both the old key and the key that includes clip.ID.
// Nothing is written when a non-empty currentIDs has no cached result.
func (c *Cache) InsertLocal(clip Clip, currentIDs []string) {
	if clip.ID == "" {
		return
	}
	entry := c.entryFor(clip.normalize())

	pre := Key(currentIDs)
	post := Key(append(slices.Clone(currentIDs), clip.ID))

	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.byKey[pre]
	if !ok && len(currentIDs) > 0 {
		return
	}
	next := cloneEntries(cached)
	if existing, ok := next[clip.ID]; ok && existing.Playable != nil && entry.Playable == nil {
		entry = existing
	}
	next[clip.ID] = entry
	c.byKey[pre] = next
	c.byKey[post] = next
}

// RemoveLocal drops id from the result cached for currentIDs and stores the
// patched result under both the old key and the key without id.
func (c *Cache) RemoveLocal(id string, currentIDs []string) {
	pre := Key(currentIDs)
	post := Key(slices.DeleteFunc(slices.Clone(currentIDs), func(s string) bool { return s == id }))

	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.byKey[pre]
	if !ok {
		return
	}
	next := cloneEntries(cached)
	delete(next, id)
	c.byKey[pre] = next
	c.byKey[post] = next
}

// Invalidate forgets every cached result. Playables are untouched; the next
// resolution reuses them unless a clip's source changed.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.all = nil
	c.hasAll = false
	c.byKey = make(map[string]map[string]Entry)
}

func (c *Cache) entryFor(clip Clip) Entry {
	if clip.Source == "" {
		return Entry{Clip: clip}
	}
	p, err := c.playables.GetOrCreate(clip.ID, clip.Source)
	if err != nil {
		c.log.Warn("playable unavailable", slog.String("clip_id", clip.ID), slog.String("error", err.Error()))
		return Entry{Clip: clip}
	}
	return Entry{Clip: clip, Playable: p}
}

func (c *Cache) observe(op string, err error) {
	c.mu.RLock()
	fn := c.onFetch
	c.mu.RUnlock()
	if fn != nil {
		fn(op, err)
	}
}

// complete reports whether every entry has a Playable. Entries patched in
// from a hint without a source force a refetch.
func complete(entries map[string]Entry) bool {
	for _, e := range entries {
		if e.Playable == nil {
			return false
		}
	}
	return true
}

func cloneEntries(m map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
