package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnRunner drives one completion cycle per user turn. Implemented by
// CompletionOrchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, mode Mode, history []Message, onDelta func(delta string) error) ([]Message, error)
}

// SpeechSequencer enforces single-flight playback. Implemented by Speaker.
type SpeechSequencer interface {
	Speak(text string, voiceID string)
	Stop()
}

// Deps collects the collaborators a CallSession is wired to. Tokens,
// Dialer, Capture and Completion are required. Speaker and Turns are
// assembled from the other fields when nil. Handoff may be nil outside
// interview mode.
type Deps struct {
	Tokens     TokenIssuer
	Dialer     TranscriptionDialer
	Capture    CapturePipeline
	Completion CompletionProvider
	Tool       ToolTarget
	TTS        SynthesisProvider
	Player     AudioPlayer
	Handoff    TranscriptSubmitter

	Speaker SpeechSequencer
	Turns   TurnRunner
}

type eventKind int

const (
	evDialed eventKind = iota
	evChannelOpen
	evChannelClosed
	evFragment
	evUtterance
	evTurnDone
	evEnd
)

// event is one entry on the session's dispatch queue. All session state
// mutation happens on the dispatch goroutine; producers only post events.
type event struct {
	kind    eventKind
	channel TranscriptionChannel
	frag    TranscriptFragment
	text    string
	msgs    []Message
	err     error
}

// CallSession is the top-level coordinator of one voice call: it owns the
// lifecycle state, wires capture, transcription, completion and synthesis
// together, and defines the shutdown protocol. Exactly one live
// CallSession exists per call; a new call starts a fresh one.
type CallSession struct {
	cfg    Config
	logger Logger
	mode   Mode

	tokens  TokenIssuer
	dialer  TranscriptionDialer
	capture CapturePipeline
	turns   TurnRunner
	speaker SpeechSequencer
	handoff TranscriptSubmitter

	conversationID string

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	out    chan SessionEvent

	mu              sync.RWMutex
	status          Status
	started         bool
	latestAssistant string

	// Dispatch-goroutine state. Not guarded: only the run loop touches it.
	messages   []Message
	segmenter  *UtteranceSegmenter
	channel    TranscriptionChannel
	turnActive bool
	queued     []string
}

// NewCallSession creates a session in mode with the given collaborators.
// If logger is nil, a no-op logger is used.
func NewCallSession(mode Mode, deps Deps, cfg Config, logger Logger) *CallSession {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &CallSession{
		cfg:            cfg,
		logger:         logger,
		mode:           mode,
		tokens:         deps.Tokens,
		dialer:         deps.Dialer,
		capture:        deps.Capture,
		handoff:        deps.Handoff,
		conversationID: uuid.NewString(),
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan event, 256),
		out:            make(chan SessionEvent, 256),
		status:         StatusInactive,
		messages:       []Message{BuildSystemPrompt(mode, cfg.Questions)},
	}

	s.turns = deps.Turns
	if s.turns == nil {
		s.turns = NewCompletionOrchestrator(deps.Completion, deps.Tool, logger)
	}
	s.speaker = deps.Speaker
	if s.speaker == nil {
		s.speaker = NewSpeaker(deps.TTS, deps.Player, logger, func(err error) {
			s.emit(ErrorEvent, err.Error())
		})
	}
	s.segmenter = NewUtteranceSegmenter(cfg.SilenceWindow, func(text string) {
		s.post(event{kind: evUtterance, text: text})
	})

	return s
}

// ConversationID returns the session's conversation identifier.
func (s *CallSession) ConversationID() string { return s.conversationID }

// Status returns the current lifecycle state.
func (s *CallSession) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LatestAssistant returns the text of the assistant turn currently
// streaming (or the last completed one).
func (s *CallSession) LatestAssistant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestAssistant
}

// Events returns the caller-facing notification channel. It is closed
// when the session leaves the dispatch loop.
func (s *CallSession) Events() <-chan SessionEvent {
	return s.out
}

// StartCall begins connecting: it acquires a transcription credential,
// opens the channel and, once the channel reports open, starts audio
// capture. ctx bounds connection establishment only.
func (s *CallSession) StartCall(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	if s.status == StatusFinished {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	s.started = true
	s.status = StatusConnecting
	s.mu.Unlock()

	s.emit(StatusChanged, StatusConnecting)
	s.logger.Info("call starting", "conversationID", s.conversationID, "mode", s.mode)

	go s.run()
	go s.connect(ctx)
	return nil
}

// EndCall requests disconnect. Safe to call from any state and multiple
// times; late calls are no-ops.
func (s *CallSession) EndCall() {
	s.mu.RLock()
	st, started := s.status, s.started
	s.mu.RUnlock()

	if st == StatusFinished {
		return
	}
	if !started {
		s.setStatus(StatusFinished)
		close(s.out)
		s.cancel()
		return
	}
	s.post(event{kind: evEnd})
}

func (s *CallSession) connect(ctx context.Context) {
	token, err := s.tokens.IssueToken(ctx)
	if err != nil {
		s.post(event{kind: evDialed, err: fmt.Errorf("%w: %v", ErrTokenIssuance, err)})
		return
	}

	ch, err := s.dialer.Dial(ctx, token, s.cfg.SampleRate, ChannelEvents{
		OnOpen: func() { s.post(event{kind: evChannelOpen}) },
		OnFragment: func(frag TranscriptFragment) {
			s.post(event{kind: evFragment, frag: frag})
		},
		OnClose: func(err error) { s.post(event{kind: evChannelClosed, err: err}) },
	})
	if err != nil {
		s.post(event{kind: evDialed, err: fmt.Errorf("%w: %v", ErrChannelOpen, err)})
		return
	}
	s.post(event{kind: evDialed, channel: ch})
}

// run is the session's single dispatch loop. Every ordering guarantee the
// session makes is enforced here: one goroutine consumes one queue.
func (s *CallSession) run() {
	defer close(s.out)
	defer s.cancel()

	for e := range s.events {
		switch e.kind {
		case evDialed:
			if e.err != nil {
				s.connectFailed(e.err)
				return
			}
			s.channel = e.channel

		case evChannelOpen:
			s.activate()

		case evFragment:
			s.onFragment(e.frag)

		case evUtterance:
			s.onUtterance(e.text)

		case evTurnDone:
			s.onTurnDone(e.msgs, e.err)

		case evChannelClosed:
			if s.Status() == StatusActive {
				s.logger.Warn("transcription channel dropped", "error", e.err)
				s.finish(fmt.Errorf("%w: %v", ErrChannelClosed, e.err))
			} else {
				s.connectFailed(fmt.Errorf("%w: %v", ErrChannelOpen, e.err))
			}
			return

		case evEnd:
			s.finish(nil)
			return
		}
	}
}

// connectFailed reverts to INACTIVE and surfaces the error. There is no
// automatic retry; the caller starts a fresh session.
func (s *CallSession) connectFailed(err error) {
	s.logger.Error("connection failed", "conversationID", s.conversationID, "error", err)
	s.emit(ErrorEvent, err.Error())
	s.setStatus(StatusInactive)
	s.emit(StatusChanged, StatusInactive)
}

func (s *CallSession) activate() {
	if s.Status() != StatusConnecting {
		return
	}
	s.setStatus(StatusActive)
	s.emit(StatusChanged, StatusActive)
	s.logger.Info("call active", "conversationID", s.conversationID)

	if err := s.capture.Start(s.ctx, s.forwardAudio); err != nil {
		s.logger.Error("audio capture failed to start", "error", err)
		s.emit(ErrorEvent, err.Error())
	}

	// With an empty conversation the assistant speaks first: a synthetic
	// greeting trigger produces the opening line without user speech.
	if !s.hasExchangeStarted() {
		s.messages = append(s.messages, Message{Role: RoleUser, Content: s.cfg.GreetingTrigger})
		s.startTurn()
	}
}

// forwardAudio runs on the capture callback goroutine and pushes slices
// into the channel in production order.
func (s *CallSession) forwardAudio(frag AudioFragment) error {
	ch := s.channelRef()
	if ch == nil {
		return nil
	}
	if err := ch.SendAudio(s.ctx, frag.Bytes); err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("audio forward failed", "seq", frag.Seq, "error", err)
		}
		return err
	}
	return nil
}

func (s *CallSession) channelRef() TranscriptionChannel {
	// The channel reference is written once on the dispatch goroutine
	// before capture starts (evDialed precedes evChannelOpen), so reads
	// from the capture goroutine are safe thereafter.
	return s.channel
}

func (s *CallSession) onFragment(frag TranscriptFragment) {
	if frag.IsFinal {
		s.emit(TranscriptFinal, frag.Text)
	} else if frag.Text != "" {
		s.emit(TranscriptPartial, frag.Text)
	}
	s.segmenter.Push(frag)
}

func (s *CallSession) onUtterance(text string) {
	s.emit(UserUtterance, text)
	if s.turnActive {
		// A turn (possibly with a tool call pending) is outstanding; user
		// turns are strictly sequential, so queue.
		s.queued = append(s.queued, text)
		return
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text})
	s.startTurn()
}

func (s *CallSession) startTurn() {
	s.turnActive = true
	s.mu.Lock()
	s.latestAssistant = ""
	s.mu.Unlock()

	history := make([]Message, len(s.messages))
	copy(history, s.messages)

	go func() {
		msgs, err := s.turns.RunTurn(s.ctx, s.mode, history, s.onDelta)
		s.post(event{kind: evTurnDone, msgs: msgs, err: err})
	}()
}

func (s *CallSession) onDelta(delta string) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	s.mu.Lock()
	s.latestAssistant += delta
	s.mu.Unlock()
	s.emit(AssistantDelta, delta)
	return nil
}

func (s *CallSession) onTurnDone(msgs []Message, err error) {
	s.turnActive = false

	if err != nil {
		// Failed turn: surfaced, not fatal. The user message stays in the
		// transcript and may be answered by a later retry.
		if s.ctx.Err() == nil {
			s.logger.Error("turn failed", "conversationID", s.conversationID, "error", err)
			s.emit(ErrorEvent, err.Error())
		}
	} else {
		s.messages = append(s.messages, msgs...)
		var final string
		for _, m := range msgs {
			switch m.Role {
			case RoleTool:
				s.emit(ToolInvoked, m.ToolResult)
			case RoleAssistant:
				final = m.Content
			}
		}
		if final != "" {
			s.emit(AssistantDone, final)
			s.speaker.Speak(final, s.cfg.VoiceID)
		}
	}

	if len(s.queued) > 0 {
		next := s.queued[0]
		s.queued = s.queued[1:]
		s.messages = append(s.messages, Message{Role: RoleUser, Content: next})
		s.startTurn()
	}
}

// finish runs the shutdown protocol: stop capture and release the
// microphone, drop any pending utterance, close the channel, discard
// in-flight playback, then hand the transcript off when the call was an
// interview with at least one completed exchange. Idempotent.
func (s *CallSession) finish(cause error) {
	if s.Status() == StatusFinished {
		return
	}

	if err := s.capture.Stop(); err != nil {
		s.logger.Warn("capture stop failed", "error", err)
	}
	s.segmenter.Stop()
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Debug("channel close", "error", err)
		}
	}
	s.speaker.Stop()

	if cause != nil {
		s.emit(ErrorEvent, cause.Error())
	}

	if s.mode == ModeInterview && s.hasExchange() && s.handoff != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.handoff.SubmitTranscript(ctx, s.conversationID, s.transcript()); err != nil {
			s.logger.Error("transcript hand-off failed", "conversationID", s.conversationID, "error", err)
			s.emit(ErrorEvent, err.Error())
		} else {
			s.logger.Info("transcript handed off", "conversationID", s.conversationID, "messages", len(s.messages))
		}
		cancel()
	}

	s.setStatus(StatusFinished)
	s.emit(StatusChanged, StatusFinished)
	s.logger.Info("call finished", "conversationID", s.conversationID)
}

// hasExchange reports whether at least one full user/assistant exchange
// occurred. Gate for the scoring hand-off.
func (s *CallSession) hasExchange() bool {
	var user, assistant bool
	for _, m := range s.messages {
		switch m.Role {
		case RoleUser:
			user = true
		case RoleAssistant:
			assistant = true
		}
	}
	return user && assistant
}

func (s *CallSession) hasExchangeStarted() bool {
	for _, m := range s.messages {
		if m.Role != RoleSystem {
			return true
		}
	}
	return false
}

// transcript returns a copy of the conversation.
func (s *CallSession) transcript() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *CallSession) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// post enqueues an event for the dispatch loop. Events posted after the
// session finished are dropped.
func (s *CallSession) post(e event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *CallSession) emit(t SessionEventType, data interface{}) {
	ev := SessionEvent{Type: t, ConversationID: s.conversationID, Data: data}
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
	}
}
