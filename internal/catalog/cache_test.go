package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clip-mixer/internal/audio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResolver serves a fixed catalog and counts round-trips.
type fakeResolver struct {
	mu    sync.Mutex
	clips map[string]Clip
	err   error
	delay time.Duration
	all   atomic.Int32
	byIDs atomic.Int32
}

func newFakeResolver(clips ...Clip) *fakeResolver {
	r := &fakeResolver{clips: make(map[string]Clip)}
	for _, c := range clips {
		r.clips[c.ID] = c
	}
	return r
}

func (r *fakeResolver) set(c Clip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips[c.ID] = c
}

func (r *fakeResolver) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeResolver) ResolveAll(ctx context.Context) ([]Clip, error) {
	r.all.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]Clip, 0, len(r.clips))
	for _, c := range r.clips {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeResolver) ResolveByIDs(ctx context.Context, ids []string) (map[string]Clip, error) {
	r.byIDs.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]Clip)
	for _, id := range ids {
		if c, ok := r.clips[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

var (
	rain    = Clip{ID: "rain", Name: "Rain", Source: "https://cdn/rain.mp3", Category: "weather", Type: TypeAmbiance}
	thunder = Clip{ID: "thunder", Name: "Thunder", Source: "https://cdn/thunder.mp3", Type: TypeEffect}
	lute    = Clip{ID: "lute", Name: "Lute", Source: "https://cdn/lute.ogg", Type: TypeMusic}
)

func newTestCache(r Resolver) (*Cache, *audio.Registry) {
	reg := audio.NewRegistry(audio.HeadlessFactory(0), discardLogger())
	return NewCache(r, reg, discardLogger()), reg
}

func TestKey_order_independent(t *testing.T) {
	assert.Equal(t, Key([]string{"b", "a", "c"}), Key([]string{"c", "b", "a"}))
	assert.Equal(t, Key([]string{"a", "b"}), Key([]string{"b", "a", "a"}))
	assert.NotEqual(t, Key([]string{"a", "b"}), Key([]string{"a"}))
	assert.Equal(t, "", Key(nil))
	assert.NotEqual(t, Key(nil), Key([]string{""}))
}

func TestKey_distinct_sets_never_collide(t *testing.T) {
	sets := [][]string{
		{"rain", "thunder"},
		{"rain\x1fthunder"},
		{"rain,thunder"},
		{`rain","thunder`},
		{"rain", "thunder", ""},
	}
	seen := make(map[string][]string)
	for _, ids := range sets {
		k := Key(ids)
		prev, dup := seen[k]
		assert.False(t, dup, "%q and %q share key %q", prev, ids, k)
		seen[k] = ids
	}
}

func TestCache_ResolveByIDs_id_containing_separator_bytes(t *testing.T) {
	odd := Clip{ID: "rain\x1fthunder", Name: "Odd", Source: "https://cdn/odd.mp3", Type: TypeEffect}
	r := newFakeResolver(rain, thunder, odd)
	c, _ := newTestCache(r)

	pair, err := c.ResolveByIDs(context.Background(), []string{"rain", "thunder"})
	require.NoError(t, err)
	require.Len(t, pair, 2)

	got, err := c.ResolveByIDs(context.Background(), []string{odd.ID})
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.byIDs.Load(), "the single odd id must be fetched, not served from the pair")
	require.Len(t, got, 1)
	assert.Equal(t, "Odd", got[odd.ID].Clip.Name)
}

func TestCache_ResolveAll_sorted_by_name_and_cached(t *testing.T) {
	r := newFakeResolver(thunder, rain, lute, Clip{ID: "odd", Name: "Odd", Source: "x", Type: "noise"})
	c, _ := newTestCache(r)

	clips, err := c.ResolveAll(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(clips))
	for _, clip := range clips {
		names = append(names, clip.Name)
	}
	assert.Equal(t, []string{"Lute", "Odd", "Rain", "Thunder"}, names)
	assert.Equal(t, ClipType(""), clips[1].Type, "unknown type tag should be dropped")

	_, err = c.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.all.Load())
}

func TestCache_ResolveByIDs_key_ignores_order(t *testing.T) {
	r := newFakeResolver(rain, thunder)
	c, _ := newTestCache(r)

	first, err := c.ResolveByIDs(context.Background(), []string{"rain", "thunder"})
	require.NoError(t, err)
	second, err := c.ResolveByIDs(context.Background(), []string{"thunder", "rain"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), r.byIDs.Load())
	assert.Same(t, first["rain"].Playable, second["rain"].Playable)
	assert.Equal(t, "Thunder", second["thunder"].Clip.Name)
}

func TestCache_ResolveByIDs_coalesces_concurrent_fetches(t *testing.T) {
	r := newFakeResolver(rain)
	r.delay = 20 * time.Millisecond
	c, _ := newTestCache(r)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.ResolveByIDs(context.Background(), []string{"rain"})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), r.byIDs.Load())
}

func TestCache_ResolveByIDs_failure_is_retryable(t *testing.T) {
	r := newFakeResolver(rain)
	boom := errors.New("connection reset")
	r.fail(boom)
	c, _ := newTestCache(r)

	_, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Retryable())
	assert.ErrorIs(t, err, boom)

	r.fail(nil)
	got, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.Contains(t, got, "rain")
}

func TestCache_refetch_reuses_playable_unless_source_changed(t *testing.T) {
	r := newFakeResolver(rain)
	c, _ := newTestCache(r)

	before, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)

	c.Invalidate()
	again, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.Same(t, before["rain"].Playable, again["rain"].Playable)

	moved := rain
	moved.Source = "https://cdn2/rain.mp3"
	r.set(moved)
	c.Invalidate()
	after, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.NotSame(t, before["rain"].Playable, after["rain"].Playable)
	assert.Equal(t, int32(3), r.byIDs.Load())
}

func TestCache_InsertLocal_patches_pre_and_post_keys(t *testing.T) {
	r := newFakeResolver(rain, thunder)
	c, _ := newTestCache(r)
	_, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)

	c.InsertLocal(thunder, []string{"rain"})

	got, err := c.ResolveByIDs(context.Background(), []string{"thunder", "rain"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotNil(t, got["thunder"].Playable)

	pre, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.Contains(t, pre, "thunder")
	assert.Equal(t, int32(1), r.byIDs.Load(), "optimistic insert must not refetch")
}

func TestCache_InsertLocal_into_empty_session(t *testing.T) {
	r := newFakeResolver(rain)
	c, _ := newTestCache(r)

	c.InsertLocal(rain, nil)

	got, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.Equal(t, "Rain", got["rain"].Clip.Name)
	assert.Equal(t, int32(0), r.byIDs.Load())
}

func TestCache_InsertLocal_hint_without_source_forces_refetch(t *testing.T) {
	r := newFakeResolver(rain)
	c, _ := newTestCache(r)

	c.InsertLocal(Clip{ID: "rain", Name: "Rain"}, nil)

	got, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.NotNil(t, got["rain"].Playable)
	assert.Equal(t, int32(1), r.byIDs.Load())
}

func TestCache_RemoveLocal_patches_pre_and_post_keys(t *testing.T) {
	r := newFakeResolver(rain, thunder)
	c, _ := newTestCache(r)
	_, err := c.ResolveByIDs(context.Background(), []string{"rain", "thunder"})
	require.NoError(t, err)

	c.RemoveLocal("thunder", []string{"rain", "thunder"})

	got, err := c.ResolveByIDs(context.Background(), []string{"rain"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NotContains(t, got, "thunder")
	assert.Equal(t, int32(1), r.byIDs.Load())
}

func TestCache_OnFetch(t *testing.T) {
	r := newFakeResolver(rain)
	c, _ := newTestCache(r)
	var ops []string
	c.OnFetch(func(op string, err error) { ops = append(ops, op) })

	_, _ = c.ResolveAll(context.Background())
	_, _ = c.ResolveByIDs(context.Background(), []string{"rain"})
	assert.Equal(t, []string{"all", "ids"}, ops)
}
