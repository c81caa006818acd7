package session

import (
	"context"
	"errors"
	"log/slog"

	"clip-mixer/internal/audio"
	"clip-mixer/internal/catalog"
)

// ErrStillMember is returned when evicting the Playable of a session member.
var ErrStillMember = errors.New("clip is still a session member")

// Resolver is the read side of the catalog cache. *catalog.Cache satisfies it.
type Resolver interface {
	ResolveAll(ctx context.Context) ([]catalog.Clip, error)
	ResolveByIDs(ctx context.Context, ids []string) (map[string]catalog.Entry, error)
}

// Evictor drops a Playable. *audio.Registry satisfies it.
type Evictor interface {
	Evict(id string) bool
}

// Recorder counts playback outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	IncPlaybackRejected()
	IncClipsEnded()
}

// Service joins the Store, the catalog and the Mixer into the operations
// exposed to clients.
type Service struct {
	store    *Store
	catalog  Resolver
	mixer    *Mixer
	evictor  Evictor
	log      *slog.Logger
	recorder Recorder
}

// NewService returns a Service.
func NewService(store *Store, cat Resolver, mixer *Mixer, evictor Evictor, log *slog.Logger) *Service {
	return &Service{store: store, catalog: cat, mixer: mixer, evictor: evictor, log: log}
}

// SetRecorder installs r; a nil Recorder disables recording.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// WatchEnded logs and counts natural completions of every Playable reg
// creates from now on.
func (s *Service) WatchEnded(reg *audio.Registry) {
	reg.OnCreate(func(id string, p audio.Playable) {
		p.OnEnded(func() {
			s.log.Info("clip ended", slog.String("clip_id", id))
			if s.recorder != nil {
				s.recorder.IncClipsEnded()
			}
		})
	})
}

// Catalog returns the browsable catalog ordered by name.
func (s *Service) Catalog(ctx context.Context) ([]catalog.Clip, error) {
	return s.catalog.ResolveAll(ctx)
}

// Session resolves every member and returns the session view. On catalog
// failure the error is returned and the session is untouched.
func (s *Service) Session(ctx context.Context) (View, error) {
	if _, err := s.resolve(ctx); err != nil {
		return View{}, err
	}
	snap := s.store.Snapshot()
	entries, err := s.catalog.ResolveByIDs(ctx, snap.Order)
	if err != nil {
		return View{}, err
	}

	view := View{Members: make([]MemberView, 0, len(snap.Order)), MasterVolume: snap.Master}
	for _, id := range snap.Order {
		m := snap.Members[id]
		mv := MemberView{
			ID:              id,
			Volume:          m.Volume,
			Loop:            m.Loop,
			EffectiveVolume: EffectiveVolume(m.Volume, snap.Master),
			Playing:         s.mixer.Playing(id),
		}
		if e, ok := entries[id]; ok {
			mv.Name = e.Clip.Name
			mv.Source = e.Clip.Source
			mv.Category = e.Clip.Category
			mv.Type = e.Clip.Type
			mv.Resolved = e.Playable != nil
		}
		view.Members = append(view.Members, mv)
	}
	return view, nil
}

// resolve makes sure every member has a Playable and pushes the current
// settings to the ones just created.
func (s *Service) resolve(ctx context.Context) (map[string]catalog.Entry, error) {
	entries, err := s.catalog.ResolveByIDs(ctx, s.store.Order())
	if err != nil {
		s.log.Warn("catalog resolution failed", slog.String("error", err.Error()))
		return nil, err
	}
	s.store.Resync()
	return entries, nil
}

// Snapshot returns the session without catalog metadata.
func (s *Service) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Add adds a clip to the session; see Store.Add.
func (s *Service) Add(id string, hint catalog.Clip, insertIndex *int) (bool, error) {
	return s.store.Add(id, hint, insertIndex)
}

// Remove removes a clip from the session; see Store.Remove.
func (s *Service) Remove(id string) (bool, error) {
	return s.store.Remove(id)
}

// Reorder replaces the session order; see Store.Reorder.
func (s *Service) Reorder(ids []string) error {
	return s.store.Reorder(ids)
}

// SetVolume sets a member's volume; see Store.SetVolume.
func (s *Service) SetVolume(id string, volume int) error {
	return s.store.SetVolume(id, volume)
}

// SetLoop sets a member's loop flag; see Store.SetLoop.
func (s *Service) SetLoop(id string, loop bool) error {
	return s.store.SetLoop(id, loop)
}

// SetMasterVolume sets the master volume; see Store.SetMasterVolume.
func (s *Service) SetMasterVolume(volume int) error {
	return s.store.SetMasterVolume(volume)
}

// Clear empties the session; see Store.Clear.
func (s *Service) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// Play starts member id with a fade-in. A Playable refusing to start is not
// an error: it is logged, counted, and reported as playing == false.
func (s *Service) Play(ctx context.Context, id string) (playing bool, err error) {
	if !s.store.IsMember(id) {
		return false, ErrNotMember
	}
	if _, err := s.resolve(ctx); err != nil {
		return false, err
	}
	// Read after resolve so a concurrent volume change is not lost.
	snap := s.store.Snapshot()
	if _, ok := snap.Members[id]; !ok {
		return false, ErrNotMember
	}

	if err := s.mixer.Play(ctx, id, snap.EffectiveVolume(id)); err != nil {
		if errors.Is(err, audio.ErrPlaybackRejected) {
			s.log.Warn("playback rejected", slog.String("clip_id", id), slog.String("error", err.Error()))
			if s.recorder != nil {
				s.recorder.IncPlaybackRejected()
			}
			return false, nil
		}
		return false, err
	}
	s.log.Info("clip playing", slog.String("clip_id", id))
	return true, nil
}

// Pause fades member id out and pauses it.
func (s *Service) Pause(id string) error {
	if !s.store.IsMember(id) {
		return ErrNotMember
	}
	_, err := s.mixer.Pause(id)
	return err
}

// PauseAll fades out every playing member and waits for the fades.
func (s *Service) PauseAll(ctx context.Context) error {
	return s.mixer.PauseAll(ctx, s.store.Order())
}

// Evict drops the Playable of a clip that is no longer a member. It reports
// whether a Playable existed.
func (s *Service) Evict(id string) (bool, error) {
	if s.store.IsMember(id) {
		return false, ErrStillMember
	}
	return s.evictor.Evict(id), nil
}
