package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Speaker sequences speech synthesis and playback. At most one clip is
// audible at any instant: every Speak call mints a new playback token and
// cancels the previous one, and only the holder of the latest token may
// touch the player.
//
// Synthesis is triggered only on completed turns whose text differs from
// the last spoken text; the completion stream emits partial text
// continuously and synthesizing per delta would spam the service and
// overlap audio.
type Speaker struct {
	tts    SynthesisProvider
	player AudioPlayer
	logger Logger

	// onError surfaces synthesis/playback failures; they are non-fatal to
	// the session.
	onError func(error)

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	lastSpoken string
	wg         sync.WaitGroup
}

// NewSpeaker creates a speech synthesis sequencer. onError may be nil.
func NewSpeaker(tts SynthesisProvider, player AudioPlayer, logger Logger, onError func(error)) *Speaker {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Speaker{
		tts:     tts,
		player:  player,
		logger:  logger,
		onError: onError,
	}
}

// Speak synthesizes and plays text, preempting any clip still playing.
// Empty text and text equal to the last spoken content are no-ops. Speak
// returns immediately; synthesis and playback run in the background.
func (sp *Speaker) Speak(text string, voiceID string) {
	if text == "" {
		return
	}

	sp.mu.Lock()
	if text == sp.lastSpoken {
		sp.mu.Unlock()
		return
	}
	sp.lastSpoken = text

	// Mint a new playback token; invalidate the previous one.
	sp.generation++
	token := sp.generation
	if sp.cancel != nil {
		sp.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sp.cancel = cancel
	sp.mu.Unlock()

	sp.player.Stop()

	sp.wg.Add(1)
	go func() {
		defer sp.wg.Done()
		sp.run(ctx, token, text, voiceID)
	}()
}

func (sp *Speaker) run(ctx context.Context, token uint64, text, voiceID string) {
	pcm, err := sp.tts.Synthesize(ctx, text, voiceID)
	if err != nil {
		if ctx.Err() == nil {
			sp.fail(fmt.Errorf("%w: %v", ErrSynthesisFailed, err))
		}
		return
	}

	// A newer token may have been minted while synthesis was in flight;
	// its clip owns the player now.
	if !sp.current(token) {
		return
	}

	sp.logger.Debug("playback starting", "bytes", len(pcm))
	if err := sp.player.Play(ctx, pcm); err != nil && ctx.Err() == nil {
		sp.fail(fmt.Errorf("%w: playback: %v", ErrSynthesisFailed, err))
	}
}

func (sp *Speaker) current(token uint64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return token == sp.generation
}

func (sp *Speaker) fail(err error) {
	sp.logger.Error("speech sequencer error", "error", err)
	if sp.onError != nil {
		sp.onError(err)
	}
}

// Stop invalidates the current playback token and silences the player.
// Safe to call multiple times.
func (sp *Speaker) Stop() {
	sp.mu.Lock()
	sp.generation++
	if sp.cancel != nil {
		sp.cancel()
		sp.cancel = nil
	}
	sp.mu.Unlock()

	sp.player.Stop()
}

// Wait blocks until any in-flight synthesis goroutine has returned.
// Intended for tests and orderly shutdown.
func (sp *Speaker) Wait() {
	sp.wg.Wait()
}
