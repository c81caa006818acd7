package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clip-mixer/internal/audio"

	"golang.org/x/sync/errgroup"
)

// ErrPlayableNotFound is returned when a member has no Playable yet, i.e.
// its catalog entry has not been resolved.
var ErrPlayableNotFound = errors.New("no playable for clip")

// PlayableLookup finds the Playable bound to a clip id without creating one.
// *audio.Registry satisfies it.
type PlayableLookup interface {
	Get(id string) (audio.Playable, bool)
}

// Mixer keeps each member's Playable in line with the session: effective
// volume, loop flag, and play/pause transitions. It reads snapshots handed
// to it and never changes the session.
type Mixer struct {
	playables    PlayableLookup
	fader        *audio.Fader
	fadeDuration time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	pausing map[audio.Playable]*audio.Fade
}

// NewMixer returns a Mixer. If fadeDuration <= 0, audio.DefaultFadeDuration
// is used.
func NewMixer(playables PlayableLookup, fader *audio.Fader, fadeDuration time.Duration, log *slog.Logger) *Mixer {
	if fadeDuration <= 0 {
		fadeDuration = audio.DefaultFadeDuration
	}
	return &Mixer{
		playables:    playables,
		fader:        fader,
		fadeDuration: fadeDuration,
		log:          log,
		pausing:      make(map[audio.Playable]*audio.Fade),
	}
}

// Sync implements Output.Sync.
func (m *Mixer) Sync(snap Snapshot) {
	for _, id := range snap.Order {
		m.ApplyMember(id, snap.Members[id], snap.Master)
	}
}

// ApplyMember implements Output.ApplyMember. Members without a Playable are
// skipped; they are picked up by the next Sync after resolution.
func (m *Mixer) ApplyMember(id string, member Member, master int) {
	p, ok := m.playables.Get(id)
	if !ok {
		return
	}
	p.SetLoop(member.Loop)
	m.setVolume(id, p, EffectiveVolume(member.Volume, master))
}

// setVolume writes v unless a fade owns the volume: a fade-in is retargeted
// to v, a fade-out is left to finish. The check and the write happen under
// m.mu so a fade-out cannot start in between.
func (m *Mixer) setVolume(id string, p audio.Playable, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pausingLocked(p) {
		return
	}
	if f, ok := m.fader.Active(p); ok {
		if f.Target() != v {
			m.fader.FadeTo(p, v, m.fadeDuration)
		}
		return
	}
	if err := p.SetVolume(v); err != nil {
		m.log.Debug("set volume skipped", slog.String("clip_id", id), slog.String("error", err.Error()))
	}
}

// Stop implements Output.Stop.
func (m *Mixer) Stop(id string) {
	p, ok := m.playables.Get(id)
	if !ok {
		return
	}
	m.fader.Cancel(p)
	p.Pause()
}

// Play starts member id from silence and fades it in to volume. Any fade-out
// in progress is cancelled. A refusal by the Playable is reported as
// audio.ErrPlaybackRejected.
func (m *Mixer) Play(ctx context.Context, id string, volume float64) error {
	p, ok := m.playables.Get(id)
	if !ok {
		return fmt.Errorf("play %q: %w", id, ErrPlayableNotFound)
	}

	m.fader.Cancel(p)
	if !p.Playing() {
		if err := p.SetVolume(0); err != nil {
			return fmt.Errorf("play %q: %w", id, err)
		}
	}
	if err := p.Play(ctx); err != nil {
		if errors.Is(err, audio.ErrPlaybackRejected) {
			return fmt.Errorf("play %q: %w", id, err)
		}
		return fmt.Errorf("play %q: %w: %w", id, audio.ErrPlaybackRejected, err)
	}
	m.fader.FadeTo(p, volume, m.fadeDuration)
	return nil
}

// Pause fades member id out and pauses it once the fade completes. It
// returns immediately with the fade, or nil when the member is not playing.
func (m *Mixer) Pause(id string) (*audio.Fade, error) {
	p, ok := m.playables.Get(id)
	if !ok {
		return nil, fmt.Errorf("pause %q: %w", id, ErrPlayableNotFound)
	}
	if !p.Playing() {
		return nil, nil
	}

	f := m.fadeOut(p)
	go func() {
		<-f.Done()
		m.finishPause(p, f)
	}()
	return f, nil
}

// PauseAll implements Output.PauseAll. Fades run concurrently and are awaited
// as an unordered set; a fade abandoned or superseded on one member does not
// hold up the others, and its member is not paused.
func (m *Mixer) PauseAll(ctx context.Context, ids []string) error {
	var g errgroup.Group
	for _, id := range ids {
		p, ok := m.playables.Get(id)
		if !ok || !p.Playing() {
			continue
		}
		f := m.fadeOut(p)
		g.Go(func() error {
			select {
			case <-f.Done():
				m.finishPause(p, f)
			case <-ctx.Done():
				go func() {
					<-f.Done()
					m.finishPause(p, f)
				}()
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Playing reports whether member id is currently audible or fading out.
func (m *Mixer) Playing(id string) bool {
	p, ok := m.playables.Get(id)
	return ok && p.Playing()
}

func (m *Mixer) fadeOut(p audio.Playable) *audio.Fade {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.fader.FadeTo(p, 0, m.fadeDuration)
	m.pausing[p] = f
	return f
}

func (m *Mixer) finishPause(p audio.Playable, f *audio.Fade) {
	m.mu.Lock()
	if m.pausing[p] == f {
		delete(m.pausing, p)
	}
	m.mu.Unlock()

	if err := f.Err(); err != nil {
		m.log.Debug("pause skipped", slog.String("source", p.Source()), slog.String("reason", err.Error()))
		return
	}
	p.Pause()
}

func (m *Mixer) pausingLocked(p audio.Playable) bool {
	f, ok := m.pausing[p]
	if !ok {
		return false
	}
	select {
	case <-f.Done():
		return false
	default:
		return true
	}
}
