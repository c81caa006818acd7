package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPlayableClosed is returned by a Playable that has been torn down,
	// e.g. replaced in the Registry after its source changed.
	ErrPlayableClosed = errors.New("playable closed")

	// ErrPlaybackRejected is returned when a Playable refuses to start.
	ErrPlaybackRejected = errors.New("playback rejected")
)

// Playable is one controllable instance of audio playback bound to a source
// locator. Implementations must be safe for concurrent use and comparable
// (pointer receivers): fades write the volume from their own goroutine and
// the Fader keys in-flight fades by Playable.
type Playable interface {
	// Source returns the locator the Playable was created for.
	Source() string

	Play(ctx context.Context) error
	Pause()
	Seek(pos time.Duration) error
	Playing() bool

	// Volume is in the native 0.0–1.0 range.
	Volume() float64
	SetVolume(v float64) error

	Loop() bool
	SetLoop(loop bool)

	// OnEnded registers fn to be called once per natural completion while
	// not looping. A later call replaces the previous callback.
	OnEnded(fn func())

	// Close stops playback and releases the Playable. Further SetVolume and
	// Play calls return ErrPlayableClosed.
	Close() error
}

// Factory creates a Playable bound to source.
type Factory func(source string) (Playable, error)

// ClampVolume limits v to the 0.0–1.0 range.
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
