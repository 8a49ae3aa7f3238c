package orchestrator

import "errors"

// Custom error types for better error discrimination
var (
	// ErrTokenIssuance is returned when the transcription credential
	// cannot be obtained
	ErrTokenIssuance = errors.New("transcription token issuance failed")

	// ErrChannelOpen is returned when the transcription channel cannot be
	// opened
	ErrChannelOpen = errors.New("transcription channel open failed")

	// ErrChannelClosed is returned when the transcription channel drops
	// while a call is active
	ErrChannelClosed = errors.New("transcription channel closed")

	// ErrCompletionFailed is returned when the completion engine fails
	ErrCompletionFailed = errors.New("completion request failed")

	// ErrMalformedToolArgs is returned when the model's tool argument
	// payload does not parse
	ErrMalformedToolArgs = errors.New("malformed tool argument payload")

	// ErrSynthesisFailed is returned when speech synthesis or playback fails
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrSessionFinished is returned when an operation is attempted on a
	// finished session
	ErrSessionFinished = errors.New("call session already finished")

	// ErrSessionStarted is returned when StartCall is invoked twice
	ErrSessionStarted = errors.New("call session already started")
)
