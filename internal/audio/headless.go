package audio

import (
	"context"
	"sync"
	"time"
)

// HeadlessPlayer is a clock-driven Playable that tracks position, volume and
// loop state without producing sound. It is the default backend for servers
// that only coordinate playback and for tests.
type HeadlessPlayer struct {
	mu        sync.Mutex
	source    string
	length    time.Duration
	volume    float64
	loop      bool
	playing   bool
	closed    bool
	offset    time.Duration // position at the last pause or seek
	startedAt time.Time
	timer     *time.Timer
	gen       uint64 // invalidates end timers armed before the last state change
	onEnded   func()
}

// NewHeadlessPlayer returns a paused player at full volume. A zero length
// means the clip never ends on its own.
func NewHeadlessPlayer(source string, length time.Duration) *HeadlessPlayer {
	return &HeadlessPlayer{source: source, length: length, volume: 1}
}

// HeadlessFactory returns a Factory creating HeadlessPlayers of the given length.
func HeadlessFactory(length time.Duration) Factory {
	return func(source string) (Playable, error) {
		return NewHeadlessPlayer(source, length), nil
	}
}

func (p *HeadlessPlayer) Source() string { return p.source }

func (p *HeadlessPlayer) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayableClosed
	}
	if p.playing {
		return nil
	}
	p.playing = true
	p.startedAt = time.Now()
	p.armLocked()
	return nil
}

func (p *HeadlessPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.disarmLocked()
}

func (p *HeadlessPlayer) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayableClosed
	}
	if pos < 0 {
		pos = 0
	}
	if p.length > 0 && pos > p.length {
		pos = p.length
	}
	p.offset = pos
	if p.playing {
		p.startedAt = time.Now()
		p.armLocked()
	}
	return nil
}

// Position reports the current playback position.
func (p *HeadlessPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *HeadlessPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *HeadlessPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *HeadlessPlayer) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayableClosed
	}
	p.volume = ClampVolume(v)
	return nil
}

func (p *HeadlessPlayer) Loop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

func (p *HeadlessPlayer) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = loop
}

func (p *HeadlessPlayer) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *HeadlessPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.playing = false
	p.disarmLocked()
	return nil
}

func (p *HeadlessPlayer) positionLocked() time.Duration {
	pos := p.offset
	if p.playing {
		pos += time.Since(p.startedAt)
	}
	if p.length > 0 && pos > p.length {
		pos = p.length
	}
	return pos
}

// armLocked schedules the end-of-clip callback for a playing clip.
func (p *HeadlessPlayer) armLocked() {
	p.disarmLocked()
	if p.length <= 0 {
		return
	}
	gen := p.gen
	p.timer = time.AfterFunc(p.length-p.offset, func() { p.finish(gen) })
}

func (p *HeadlessPlayer) disarmLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *HeadlessPlayer) finish(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.playing || p.closed {
		p.mu.Unlock()
		return
	}
	p.offset = 0
	if p.loop {
		p.startedAt = time.Now()
		p.armLocked()
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.disarmLocked()
	cb := p.onEnded
	p.mu.Unlock()

	if cb != nil {
		cb()
	}
}
