package orchestrator

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Status is the lifecycle state of a CallSession.
type Status string

const (
	StatusInactive   Status = "INACTIVE"
	StatusConnecting Status = "CONNECTING"
	StatusActive     Status = "ACTIVE"
	StatusFinished   Status = "FINISHED"
)

// Mode selects what the assistant is doing on a call: collecting the
// parameters for a new interview, or conducting one.
type Mode string

const (
	ModeSetup     Mode = "SETUP"
	ModeInterview Mode = "INTERVIEW"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a model-initiated request to invoke a named
// side-effecting operation, emitted inside an assistant message's stream.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult records the outcome of an executed tool call on a tool
// message. The at-most-once guard scans the transcript for a ToolResult
// with Success set, so it must be recorded only after execution.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// Message is one entry in the append-only conversation transcript.
// Ordering is the sole source of truth for what has been said.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolResult *ToolResult       `json:"tool_result,omitempty"`
}

// TranscriptFragment is one piece of recognized speech from the
// transcription service. Only final fragments accumulate into utterances.
type TranscriptFragment struct {
	Text    string
	IsFinal bool
}

// AudioFragment is one fixed-duration encoded capture slice. Fragments
// must reach the transcription channel in Seq order.
type AudioFragment struct {
	Bytes []byte
	Seq   uint64
}

// InterviewArgs is the structured payload the model supplies when it
// requests interview generation.
type InterviewArgs struct {
	Role  string `json:"role"`
	Level string `json:"level"`
	Stack string `json:"stack"`
	Focus string `json:"focus"`
	Count string `json:"count"`
}

// TokenIssuer hands out the short-lived credential used to open the
// transcription channel.
type TokenIssuer interface {
	IssueToken(ctx context.Context) (string, error)
}

// ChannelEvents receives everything the transcription channel produces.
// Callbacks fire on the channel's read goroutine; handlers must not block.
type ChannelEvents struct {
	// OnOpen fires once the service reports the channel as usable.
	OnOpen func()
	// OnFragment fires for every recognized transcript fragment.
	OnFragment func(TranscriptFragment)
	// OnClose fires exactly once when the channel dies. err is nil on a
	// clean local close.
	OnClose func(err error)
}

// TranscriptionChannel is an open bidirectional audio/text channel.
type TranscriptionChannel interface {
	// SendAudio forwards one encoded slice. Calls must preserve capture order.
	SendAudio(ctx context.Context, pcm []byte) error
	Close() error
}

// TranscriptionDialer opens one transcription channel per call using a
// short-lived token.
type TranscriptionDialer interface {
	Dial(ctx context.Context, token string, sampleRate int, ev ChannelEvents) (TranscriptionChannel, error)
}

// ToolDescriptor describes the single tool interface offered to the
// completion engine.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// CompletionResult is the terminal outcome of one streaming completion
// request. Content holds the concatenation of every streamed delta.
// ToolCall is non-nil when the model requested the offered tool.
type CompletionResult struct {
	Content  string
	ToolCall *ToolCallRequest
}

// CompletionProvider drives one streaming completion request. onDelta is
// invoked for each incremental text chunk, in order; returning an error
// from it aborts the stream.
type CompletionProvider interface {
	StreamComplete(ctx context.Context, messages []Message, tool *ToolDescriptor, onDelta func(delta string) error) (*CompletionResult, error)
	Name() string
}

// SynthesisProvider converts one utterance of text into playable PCM.
type SynthesisProvider interface {
	Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error)
	Name() string
}

// AudioPlayer plays one PCM clip. Play blocks until the clip finishes or
// ctx is cancelled; Stop cuts whatever is currently audible.
type AudioPlayer interface {
	Play(ctx context.Context, pcm []byte) error
	Stop()
}

// CapturePipeline owns the microphone for the duration of a call. sink
// receives encoded slices in production order.
type CapturePipeline interface {
	Start(ctx context.Context, sink func(AudioFragment) error) error
	// Stop releases the device. Idempotent; an in-flight slice may be dropped.
	Stop() error
}

// GenerateResult is the outcome of the interview-generation tool target.
type GenerateResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// ToolTarget is the side-effecting collaborator behind the tool-call
// protocol.
type ToolTarget interface {
	GenerateInterview(ctx context.Context, args InterviewArgs) (GenerateResult, error)
}

// TranscriptSubmitter receives the full transcript for scoring when an
// interview call ends.
type TranscriptSubmitter interface {
	SubmitTranscript(ctx context.Context, conversationID string, transcript []Message) error
}

type Config struct {
	SampleRate   int
	Channels     int
	BytesPerSamp int
	// SliceDuration is the size of each encoded capture slice.
	SliceDuration time.Duration
	// SilenceWindow is how long the segmenter waits after the last final
	// fragment before flushing the pending utterance as one user turn.
	SilenceWindow time.Duration
	VoiceID       string
	// GreetingTrigger is the synthetic user message injected when a call
	// becomes active with an empty conversation, so the assistant speaks
	// first.
	GreetingTrigger string
	// Questions is the fixed question list followed in interview mode.
	Questions []string
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		Channels:        1,
		BytesPerSamp:    2,
		SliceDuration:   250 * time.Millisecond,
		SilenceWindow:   3000 * time.Millisecond,
		VoiceID:         "sarah",
		GreetingTrigger: "Hello",
	}
}

// SliceBytes is the byte length of one capture slice at the configured
// format.
func (c Config) SliceBytes() int {
	return int(float64(c.SampleRate*c.Channels*c.BytesPerSamp) * c.SliceDuration.Seconds())
}

type SessionEventType string

const (
	StatusChanged     SessionEventType = "STATUS_CHANGED"
	TranscriptPartial SessionEventType = "TRANSCRIPT_PARTIAL"
	TranscriptFinal   SessionEventType = "TRANSCRIPT_FINAL"
	UserUtterance     SessionEventType = "USER_UTTERANCE"
	AssistantDelta    SessionEventType = "ASSISTANT_DELTA"
	// AssistantDone carries the full text of the completed assistant turn.
	AssistantDone SessionEventType = "ASSISTANT_DONE"
	ToolInvoked   SessionEventType = "TOOL_INVOKED"
	ErrorEvent    SessionEventType = "ERROR"
)

// SessionEvent is what a CallSession reports to its caller.
type SessionEvent struct {
	Type           SessionEventType `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Data           interface{}      `json:"data,omitempty"`
}
