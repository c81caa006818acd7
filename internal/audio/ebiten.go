//go:build ebiten

package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	ebaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

const (
	ebitenSampleRate   = 44100
	ebitenPollInterval = 50 * time.Millisecond
)

var (
	ebitenContextOnce sync.Once
	ebitenContext     *ebaudio.Context
)

func init() {
	backends["ebiten"] = func(opts BackendOptions) Factory {
		return func(source string) (Playable, error) {
			return newEbitenPlayer(source, opts.Client), nil
		}
	}
}

func sharedEbitenContext() *ebaudio.Context {
	ebitenContextOnce.Do(func() {
		ebitenContext = ebaudio.NewContext(ebitenSampleRate)
	})
	return ebitenContext
}

// ebitenPlayer plays a source through ebiten's audio device. The source is
// fetched and decoded on the first Play so that creating a Playable stays cheap.
type ebitenPlayer struct {
	mu          sync.Mutex
	source      string
	client      *http.Client
	player      *ebaudio.Player
	volume      float64
	loop        bool
	wantPlaying bool
	closed      bool
	onEnded     func()
	stop        chan struct{}
}

func newEbitenPlayer(source string, client *http.Client) *ebitenPlayer {
	p := &ebitenPlayer{
		source: source,
		client: client,
		volume: 1,
		stop:   make(chan struct{}),
	}
	go p.watch()
	return p
}

func (p *ebitenPlayer) Source() string { return p.source }

func (p *ebitenPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayableClosed
	}
	if p.player == nil {
		player, err := p.load(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPlaybackRejected, err)
		}
		player.SetVolume(p.volume)
		p.player = player
	}
	p.wantPlaying = true
	p.player.Play()
	return nil
}

func (p *ebitenPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wantPlaying = false
	if p.player != nil {
		p.player.Pause()
	}
}

func (p *ebitenPlayer) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayableClosed
	}
	if p.player == nil {
		return nil
	}
	return p.player.SetPosition(pos)
}

func (p *ebitenPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wantPlaying
}

func (p *ebitenPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *ebitenPlayer) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayableClosed
	}
	p.volume = ClampVolume(v)
	if p.player != nil {
		p.player.SetVolume(p.volume)
	}
	return nil
}

func (p *ebitenPlayer) Loop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

func (p *ebitenPlayer) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = loop
}

func (p *ebitenPlayer) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *ebitenPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.wantPlaying = false
	close(p.stop)
	if p.player == nil {
		return nil
	}
	return p.player.Close()
}

// watch restarts looping clips and reports natural completion of the others.
func (p *ebitenPlayer) watch() {
	ticker := time.NewTicker(ebitenPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.player == nil || !p.wantPlaying || p.player.IsPlaying() {
			p.mu.Unlock()
			continue
		}
		if err := p.player.Rewind(); err != nil {
			p.wantPlaying = false
			p.mu.Unlock()
			continue
		}
		if p.loop {
			p.player.Play()
			p.mu.Unlock()
			continue
		}
		p.wantPlaying = false
		cb := p.onEnded
		p.mu.Unlock()

		if cb != nil {
			cb()
		}
	}
}

func (p *ebitenPlayer) load(ctx context.Context) (*ebaudio.Player, error) {
	data, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	sr := sharedEbitenContext().SampleRate()
	reader := bytes.NewReader(data)

	var stream io.Reader
	switch ext := strings.ToLower(path.Ext(strings.SplitN(p.source, "?", 2)[0])); ext {
	case ".wav":
		stream, err = wav.DecodeWithSampleRate(sr, reader)
	case ".mp3":
		stream, err = mp3.DecodeWithSampleRate(sr, reader)
	case ".ogg", ".oga":
		stream, err = vorbis.DecodeWithSampleRate(sr, reader)
	default:
		return nil, fmt.Errorf("unsupported audio format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.source, err)
	}
	return sharedEbitenContext().NewPlayer(stream)
}

func (p *ebitenPlayer) fetch(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(p.source, "http://") && !strings.HasPrefix(p.source, "https://") {
		return os.ReadFile(strings.TrimPrefix(p.source, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", p.source, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
