package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/viva-ai/viva-orchestrator/pkg/audio"
	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
	"github.com/viva-ai/viva-orchestrator/pkg/providers/interview"
	"github.com/viva-ai/viva-orchestrator/pkg/providers/llm"
	sttProvider "github.com/viva-ai/viva-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/viva-ai/viva-orchestrator/pkg/providers/tts"
)

// slogLogger adapts log/slog to the orchestrator's Logger interface.
type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, args ...interface{}) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...interface{})  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...interface{})  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...interface{}) { s.l.Error(msg, args...) }

// recordingCapture tees captured slices into a WAV recorder for later
// inspection, without touching the pipeline's ordering.
type recordingCapture struct {
	inner orchestrator.CapturePipeline
	rec   *audio.WAVRecorder
}

func (r *recordingCapture) Start(ctx context.Context, sink func(orchestrator.AudioFragment) error) error {
	return r.inner.Start(ctx, func(frag orchestrator.AudioFragment) error {
		r.rec.Write(frag.Bytes)
		return sink(frag)
	})
}

func (r *recordingCapture) Stop() error {
	if err := r.rec.Close(); err != nil {
		log.Printf("wav recorder close: %v", err)
	}
	return r.inner.Stop()
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	backendURL := os.Getenv("BACKEND_URL")
	backendKey := os.Getenv("BACKEND_API_KEY")

	if assemblyKey == "" {
		log.Fatal("Error: ASSEMBLYAI_API_KEY must be set.")
	}
	if openaiKey == "" {
		log.Fatal("Error: OPENAI_API_KEY must be set.")
	}

	mode := orchestrator.ModeSetup
	if strings.EqualFold(os.Getenv("CALL_MODE"), "interview") {
		mode = orchestrator.ModeInterview
	}

	logger := &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}

	cfg := orchestrator.DefaultConfig()
	if v := os.Getenv("VOICE_ID"); v != "" {
		cfg.VoiceID = v
	}
	if q := os.Getenv("INTERVIEW_QUESTIONS"); q != "" {
		cfg.Questions = strings.Split(q, ";")
	} else if mode == orchestrator.ModeInterview {
		log.Fatal("Error: INTERVIEW_QUESTIONS must be set in interview mode (semicolon-separated).")
	}

	// TTS Selection
	var tts orchestrator.SynthesisProvider
	switch os.Getenv("TTS_PROVIDER") {
	case "lokutor":
		if lokutorKey == "" {
			log.Fatal("Error: LOKUTOR_API_KEY must be set for lokutor TTS")
		}
		tts = ttsProvider.NewLokutorTTS(lokutorKey)
	case "elevenlabs":
		fallthrough
	default:
		if elevenKey == "" {
			log.Fatal("Error: ELEVENLABS_API_KEY must be set for elevenlabs TTS")
		}
		tts = ttsProvider.NewElevenLabsTTS(elevenKey)
	}

	model := os.Getenv("OPENAI_MODEL")
	completion := llm.NewOpenAILLM(openaiKey, model)

	var backend *interview.Client
	if backendURL != "" {
		backend = interview.NewClient(backendURL, backendKey)
	} else if mode == orchestrator.ModeSetup {
		log.Fatal("Error: BACKEND_URL must be set in setup mode (interview generation target).")
	}

	player, err := audio.NewPlayer(cfg.SampleRate, cfg.Channels)
	if err != nil {
		log.Fatal(err)
	}
	defer player.Close()

	capture := audio.NewCapture(cfg.SampleRate, cfg.Channels, cfg.SliceDuration, logger)
	var pipeline orchestrator.CapturePipeline = capture
	if path := os.Getenv("RECORD_WAV"); path != "" {
		pipeline = &recordingCapture{inner: capture, rec: audio.NewWAVRecorder(path, cfg.SampleRate)}
	}

	deps := orchestrator.Deps{
		Tokens:     sttProvider.NewTokenIssuer(assemblyKey),
		Dialer:     sttProvider.NewRealtimeDialer(logger),
		Capture:    pipeline,
		Completion: completion,
		TTS:        tts,
		Player:     player,
	}
	if backend != nil {
		deps.Tool = backend
		deps.Handoff = backend
	}

	session := orchestrator.NewCallSession(mode, deps, cfg, logger)

	fmt.Printf("Configured: STT=assemblyai-realtime | LLM=%s | TTS=%s | Mode=%s\n", completion.Name(), tts.Name(), mode)
	fmt.Println("Voice Interviewer Started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to end the call")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.StartCall(ctx); err != nil {
		log.Fatal(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Printf("\nEnding call...\n")
		session.EndCall()
	}()

	for event := range session.Events() {
		switch event.Type {
		case orchestrator.StatusChanged:
			fmt.Printf("\r\033[K== [STATUS] %v\n", event.Data)
		case orchestrator.TranscriptPartial:
			fmt.Printf("\r\033[K.. %v", event.Data)
		case orchestrator.TranscriptFinal:
			fmt.Printf("\r\033[K>> [YOU] %v\n", event.Data)
		case orchestrator.UserUtterance:
			fmt.Printf("\r\033[K** [TURN] %v\n", event.Data)
		case orchestrator.AssistantDone:
			fmt.Printf("\r\033[K<< [INTERVIEWER] %v\n", event.Data)
		case orchestrator.ToolInvoked:
			fmt.Printf("\r\033[K## [TOOL] %+v\n", event.Data)
		case orchestrator.ErrorEvent:
			fmt.Printf("\r\033[K!! [ERROR] %v\n", event.Data)
		}
	}

	fmt.Println("Call finished.")
}
