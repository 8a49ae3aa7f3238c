package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// UtteranceSegmenter coalesces final transcript fragments into discrete
// user utterances. The transcription service finalizes many short
// fragments as the speaker pauses between phrases; emitting each one as
// its own turn fragments the conversation, so fragments accumulate until
// a sustained silence signals end of turn.
//
// Exactly one pending accumulator exists; the silence timer is reset, not
// stacked, on every new fragment, so at most one flush is scheduled at a
// time.
type UtteranceSegmenter struct {
	window time.Duration
	flush  func(text string)

	mu      sync.Mutex
	parts   []string
	timer   *time.Timer
	stopped bool
}

// NewUtteranceSegmenter creates a segmenter that calls flush with the
// space-joined accumulated text once window elapses without a new final
// fragment. flush fires on the timer goroutine.
func NewUtteranceSegmenter(window time.Duration, flush func(text string)) *UtteranceSegmenter {
	return &UtteranceSegmenter{
		window: window,
		flush:  flush,
	}
}

// Push feeds one transcript fragment. Non-final and empty fragments are
// ignored.
func (s *UtteranceSegmenter) Push(frag TranscriptFragment) {
	if !frag.IsFinal || strings.TrimSpace(frag.Text) == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.parts = append(s.parts, strings.TrimSpace(frag.Text))

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, s.fire)
}

func (s *UtteranceSegmenter) fire() {
	s.mu.Lock()
	if s.stopped || len(s.parts) == 0 {
		s.mu.Unlock()
		return
	}
	text := strings.Join(s.parts, " ")
	s.parts = nil
	s.timer = nil
	s.mu.Unlock()

	s.flush(text)
}

// Pending reports whether unflushed text is accumulated.
func (s *UtteranceSegmenter) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parts) > 0
}

// Stop discards any pending text and cancels the scheduled flush. Used
// when the channel closes: the session is ending, so an incomplete
// utterance is dropped rather than flushed.
func (s *UtteranceSegmenter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.parts = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
