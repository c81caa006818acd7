package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clip-mixer/internal/audio"
	"clip-mixer/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver serves a fixed catalog.
type staticResolver struct {
	mu    sync.Mutex
	clips map[string]catalog.Clip
	err   error
	calls atomic.Int32
}

func newStaticResolver(clips ...catalog.Clip) *staticResolver {
	r := &staticResolver{clips: make(map[string]catalog.Clip)}
	for _, c := range clips {
		r.clips[c.ID] = c
	}
	return r
}

func (r *staticResolver) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *staticResolver) ResolveAll(ctx context.Context) ([]catalog.Clip, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]catalog.Clip, 0, len(r.clips))
	for _, c := range r.clips {
		out = append(out, c)
	}
	return out, nil
}

func (r *staticResolver) ResolveByIDs(ctx context.Context, ids []string) (map[string]catalog.Clip, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]catalog.Clip)
	for _, id := range ids {
		if c, ok := r.clips[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type countingRecorder struct {
	rejected atomic.Int32
	ended    atomic.Int32
}

func (r *countingRecorder) IncPlaybackRejected() { r.rejected.Add(1) }
func (r *countingRecorder) IncClipsEnded()       { r.ended.Add(1) }

var (
	rainClip    = catalog.Clip{ID: "rain", Name: "Rain", Source: "mem://rain", Category: "weather", Type: catalog.TypeAmbiance}
	luteClip    = catalog.Clip{ID: "lute", Name: "Lute", Source: "mem://lute", Type: catalog.TypeMusic}
	blockedClip = catalog.Clip{ID: "horn", Name: "Horn", Source: "blocked://horn", Type: catalog.TypeEffect}
)

type testStack struct {
	svc      *Service
	store    *Store
	cache    *catalog.Cache
	registry *audio.Registry
	resolver *staticResolver
	recorder *countingRecorder
}

func newTestStack(t *testing.T, clipLength time.Duration) *testStack {
	t.Helper()
	log := discardLogger()
	resolver := newStaticResolver(rainClip, luteClip, blockedClip)
	reg := audio.NewRegistry(testFactory(clipLength), log)
	t.Cleanup(func() { _ = reg.Close() })

	fader := audio.NewFader(time.Millisecond, log)
	mixer := NewMixer(reg, fader, testFade, log)
	cache := catalog.NewCache(resolver, reg, log)
	store := NewStore(NewInMemoryStorage(), cache, mixer, log)
	svc := NewService(store, cache, mixer, reg, log)

	rec := &countingRecorder{}
	svc.SetRecorder(rec)
	svc.WatchEnded(reg)

	return &testStack{svc: svc, store: store, cache: cache, registry: reg, resolver: resolver, recorder: rec}
}

func TestService_Session_view(t *testing.T) {
	st := newTestStack(t, 0)
	ctx := context.Background()

	_, err := st.svc.Add("rain", rainClip, nil)
	require.NoError(t, err)
	_, err = st.svc.Add("lute", catalog.Clip{}, intPtr(0))
	require.NoError(t, err)
	require.NoError(t, st.svc.SetVolume("rain", 40))
	require.NoError(t, st.svc.SetMasterVolume(50))

	view, err := st.svc.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, view.MasterVolume)
	require.Len(t, view.Members, 2)

	lute, rain := view.Members[0], view.Members[1]
	assert.Equal(t, "lute", lute.ID)
	assert.Equal(t, "Lute", lute.Name, "lute not resolved from the catalog")
	assert.True(t, lute.Resolved)
	assert.Equal(t, "weather", rain.Category)
	assert.Equal(t, catalog.TypeAmbiance, rain.Type)
	assert.InDelta(t, 0.2, rain.EffectiveVolume, 1e-9)

	p, ok := st.registry.Get("rain")
	require.True(t, ok)
	assert.InDelta(t, 0.2, p.Volume(), 1e-9, "playable volume not synced")
}

func TestService_Session_resolution_failure(t *testing.T) {
	st := newTestStack(t, 0)
	_, err := st.svc.Add("rain", rainClip, nil)
	require.NoError(t, err)
	st.cache.Invalidate()
	st.resolver.fail(errors.New("connection refused"))

	_, err = st.svc.Session(context.Background())
	var resErr *catalog.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.True(t, resErr.Retryable())
	assert.True(t, st.store.IsMember("rain"), "session changed after a failed resolution")

	st.resolver.fail(nil)
	_, err = st.svc.Session(context.Background())
	assert.NoError(t, err, "retry")
}

func TestService_Play(t *testing.T) {
	st := newTestStack(t, 0)
	ctx := context.Background()
	_, err := st.svc.Add("rain", catalog.Clip{}, nil)
	require.NoError(t, err)
	require.NoError(t, st.svc.SetVolume("rain", 60))

	playing, err := st.svc.Play(ctx, "rain")
	require.NoError(t, err)
	require.True(t, playing)
	p, _ := st.registry.Get("rain")
	eventually(t, "fade-in to 0.6", func() bool { return near(p.Volume(), 0.6) })

	require.NoError(t, st.svc.Pause("rain"))
	eventually(t, "pause", func() bool { return !p.Playing() })

	_, err = st.svc.Play(ctx, "lute")
	assert.ErrorIs(t, err, ErrNotMember)
	assert.ErrorIs(t, st.svc.Pause("lute"), ErrNotMember)
}

func TestService_Play_rejected(t *testing.T) {
	st := newTestStack(t, 0)
	_, err := st.svc.Add("horn", blockedClip, nil)
	require.NoError(t, err)

	playing, err := st.svc.Play(context.Background(), "horn")
	require.NoError(t, err)
	assert.False(t, playing)
	assert.Equal(t, int32(1), st.recorder.rejected.Load())

	view, err := st.svc.Session(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Members, 1)
	assert.False(t, view.Members[0].Playing, "rejected member reported as playing")
}

func TestService_Play_unresolved(t *testing.T) {
	st := newTestStack(t, 0)
	_, err := st.svc.Add("ghost", catalog.Clip{Name: "Ghost"}, nil)
	require.NoError(t, err)

	_, err = st.svc.Play(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPlayableNotFound)
}

func TestService_ended_is_counted(t *testing.T) {
	st := newTestStack(t, 30*time.Millisecond)
	_, err := st.svc.Add("rain", rainClip, nil)
	require.NoError(t, err)
	_, err = st.svc.Play(context.Background(), "rain")
	require.NoError(t, err)
	eventually(t, "ended notification", func() bool { return st.recorder.ended.Load() == 1 })
}

func TestService_PauseAll_and_Clear(t *testing.T) {
	st := newTestStack(t, 0)
	ctx := context.Background()
	for _, c := range []catalog.Clip{rainClip, luteClip} {
		_, err := st.svc.Add(c.ID, c, nil)
		require.NoError(t, err)
		_, err = st.svc.Play(ctx, c.ID)
		require.NoError(t, err)
	}

	require.NoError(t, st.svc.PauseAll(ctx))
	for _, id := range []string{"rain", "lute"} {
		p, _ := st.registry.Get(id)
		assert.False(t, p.Playing(), "%s still playing after PauseAll", id)
	}

	_, err := st.svc.Play(ctx, "rain")
	require.NoError(t, err)
	require.NoError(t, st.svc.Clear(ctx))
	p, _ := st.registry.Get("rain")
	assert.False(t, p.Playing(), "rain still playing after Clear")
	assert.Zero(t, st.store.Len())
	assert.Equal(t, 2, st.registry.Len(), "clear evicted playables")
}

func TestService_Evict(t *testing.T) {
	st := newTestStack(t, 0)
	_, err := st.svc.Add("rain", rainClip, nil)
	require.NoError(t, err)

	_, err = st.svc.Evict("rain")
	assert.ErrorIs(t, err, ErrStillMember)

	_, err = st.svc.Remove("rain")
	require.NoError(t, err)
	_, ok := st.registry.Get("rain")
	require.True(t, ok, "remove evicted the playable")

	evicted, err := st.svc.Evict("rain")
	require.NoError(t, err)
	assert.True(t, evicted)

	evicted, _ = st.svc.Evict("rain")
	assert.False(t, evicted, "second eviction reported a playable")
}

func TestService_Catalog(t *testing.T) {
	st := newTestStack(t, 0)
	clips, err := st.svc.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, clips, 3)
	assert.Equal(t, "Horn", clips[0].Name, "catalog should be sorted by name")
}
