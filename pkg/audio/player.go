package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player renders PCM clips to the default output device. oto pulls from
// an internal buffer continuously and gets silence when the buffer is
// empty, so clearing the buffer is an immediate cut.
type Player struct {
	sampleRate int
	channels   int
	otoCtx     *oto.Context
	player     *oto.Player

	mu  sync.Mutex
	buf []byte
}

func NewPlayer(sampleRate, channels int) (*Player, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio output: %w", err)
	}
	<-ready

	p := &Player{
		sampleRate: sampleRate,
		channels:   channels,
		otoCtx:     otoCtx,
	}
	p.player = otoCtx.NewPlayer(p)
	p.player.Play()
	return p, nil
}

// Read feeds oto. Silence is produced when no clip is queued; the stream
// never ends.
func (p *Player) Read(b []byte) (int, error) {
	p.mu.Lock()
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	p.mu.Unlock()

	for i := n; i < len(b); i++ {
		b[i] = 0
	}
	return len(b), nil
}

// Play queues pcm and blocks until it has drained or ctx is cancelled.
// Cancellation clears the remainder immediately.
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	clip := make([]byte, len(pcm))
	copy(clip, pcm)

	p.mu.Lock()
	p.buf = clip
	p.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return ctx.Err()
		case <-ticker.C:
			p.mu.Lock()
			remaining := len(p.buf)
			p.mu.Unlock()
			if remaining == 0 {
				return nil
			}
		}
	}
}

// Stop cuts the current clip. Safe to call at any time.
func (p *Player) Stop() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

func (p *Player) Close() error {
	p.Stop()
	if p.player != nil {
		return p.player.Close()
	}
	return nil
}
