package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultFadeDuration is the length of play/pause transitions.
	DefaultFadeDuration = 200 * time.Millisecond

	// DefaultFadeTick is the sampling interval of a running fade.
	DefaultFadeTick = 10 * time.Millisecond
)

// ErrFadeSuperseded is the result of a fade cancelled by a newer fade on the
// same Playable or by Fader.Cancel.
var ErrFadeSuperseded = errors.New("fade superseded")

// Fade is one linear volume ramp over a Playable.
type Fade struct {
	p        Playable
	target   float64
	duration time.Duration
	prev     *Fade

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	err        error
}

// Done is closed when the fade completes, is superseded, or is abandoned.
func (f *Fade) Done() <-chan struct{} { return f.done }

// Err reports how the fade ended. It is only meaningful after Done is closed:
// nil on completion, ErrFadeSuperseded, or ErrPlayableClosed.
func (f *Fade) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Target is the volume the fade ramps to.
func (f *Fade) Target() float64 { return f.target }

// Wait blocks until the fade ends or ctx is done.
func (f *Fade) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result labels the outcome for metrics: completed, superseded or abandoned.
func (f *Fade) Result() string {
	switch err := f.Err(); {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrFadeSuperseded):
		return "superseded"
	default:
		return "abandoned"
	}
}

func (f *Fade) stop() {
	f.cancelOnce.Do(func() { close(f.cancel) })
}

// Fader runs fades, at most one per Playable. Starting a fade on a Playable
// with a fade in flight cancels the old one, and the new ramp only begins
// once the old one has stopped writing.
type Fader struct {
	mu       sync.Mutex
	tick     time.Duration
	active   map[Playable]*Fade
	log      *slog.Logger
	onFinish func(*Fade)
}

// NewFader returns a Fader sampling every tick. If tick <= 0,
// DefaultFadeTick is used.
func NewFader(tick time.Duration, log *slog.Logger) *Fader {
	if tick <= 0 {
		tick = DefaultFadeTick
	}
	return &Fader{
		tick:   tick,
		active: make(map[Playable]*Fade),
		log:    log,
	}
}

// OnFinish registers fn to be called after every fade ends.
func (fd *Fader) OnFinish(fn func(*Fade)) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.onFinish = fn
}

// FadeTo ramps p's volume linearly from its current value to target over d.
// It returns immediately; use the returned Fade to await the outcome.
func (fd *Fader) FadeTo(p Playable, target float64, d time.Duration) *Fade {
	f := &Fade{
		p:        p,
		target:   ClampVolume(target),
		duration: d,
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	fd.mu.Lock()
	if prev, ok := fd.active[p]; ok {
		prev.stop()
		f.prev = prev
	}
	fd.active[p] = f
	fd.mu.Unlock()

	go fd.run(f)
	return f
}

// Active returns the fade currently running on p, if any.
func (fd *Fader) Active(p Playable) (*Fade, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	f, ok := fd.active[p]
	return f, ok
}

// Cancel stops the fade running on p and waits until it no longer writes.
func (fd *Fader) Cancel(p Playable) {
	fd.mu.Lock()
	f, ok := fd.active[p]
	fd.mu.Unlock()
	if !ok {
		return
	}
	f.stop()
	<-f.done
}

func (fd *Fader) run(f *Fade) {
	defer fd.finish(f)

	if f.prev != nil {
		<-f.prev.done
		f.prev = nil
	}
	select {
	case <-f.cancel:
		f.err = ErrFadeSuperseded
		return
	default:
	}

	from := f.p.Volume()
	if f.duration <= 0 || from == f.target {
		f.err = f.p.SetVolume(f.target)
		return
	}

	// A tick arriving this late means the host was suspended; snap to the
	// target instead of resuming a ramp computed from stale wall-clock time.
	suspendGap := max(f.duration/2, 5*fd.tick)

	ticker := time.NewTicker(fd.tick)
	defer ticker.Stop()

	start := time.Now()
	last := start
	for {
		select {
		case <-f.cancel:
			f.err = ErrFadeSuperseded
			return
		case <-ticker.C:
		}

		now := time.Now()
		if now.Sub(last) > suspendGap {
			f.err = f.p.SetVolume(f.target)
			return
		}
		last = now

		progress := float64(now.Sub(start)) / float64(f.duration)
		if progress >= 1 {
			f.err = f.p.SetVolume(f.target)
			return
		}
		if err := f.p.SetVolume(from + (f.target-from)*progress); err != nil {
			f.err = err
			return
		}
	}
}

func (fd *Fader) finish(f *Fade) {
	fd.mu.Lock()
	if fd.active[f.p] == f {
		delete(fd.active, f.p)
	}
	onFinish := fd.onFinish
	fd.mu.Unlock()

	if f.err != nil && !errors.Is(f.err, ErrFadeSuperseded) {
		fd.log.Debug("fade abandoned", slog.String("source", f.p.Source()), slog.String("error", f.err.Error()))
	}
	close(f.done)
	if onFinish != nil {
		onFinish(f)
	}
}
