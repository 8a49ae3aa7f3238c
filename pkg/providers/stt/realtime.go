package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
)

const (
	msgSessionBegins     = "SessionBegins"
	msgPartialTranscript = "PartialTranscript"
	msgFinalTranscript   = "FinalTranscript"
	msgSessionTerminated = "SessionTerminated"
)

// RealtimeDialer opens bidirectional realtime transcription channels
// against AssemblyAI's streaming endpoint. One channel per call; a
// dropped channel is never redialed here, the session decides what a drop
// means.
type RealtimeDialer struct {
	host   string
	scheme string
	logger orchestrator.Logger
}

func NewRealtimeDialer(logger orchestrator.Logger) *RealtimeDialer {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &RealtimeDialer{
		host:   "api.assemblyai.com",
		scheme: "wss",
		logger: logger,
	}
}

// NewRealtimeDialerHost targets a custom host, used by tests.
func NewRealtimeDialerHost(scheme, host string, logger orchestrator.Logger) *RealtimeDialer {
	d := NewRealtimeDialer(logger)
	d.scheme = scheme
	d.host = host
	return d
}

func (d *RealtimeDialer) Dial(ctx context.Context, token string, sampleRate int, ev orchestrator.ChannelEvents) (orchestrator.TranscriptionChannel, error) {
	u := url.URL{
		Scheme:   d.scheme,
		Host:     d.host,
		Path:     "/v2/realtime/ws",
		RawQuery: fmt.Sprintf("sample_rate=%d&token=%s", sampleRate, url.QueryEscape(token)),
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to transcription service: %w", err)
	}
	conn.SetReadLimit(1024 * 1024)

	ch := &realtimeChannel{
		conn:   conn,
		events: ev,
		logger: d.logger,
	}
	go ch.readLoop()
	return ch, nil
}

type realtimeChannel struct {
	conn   *websocket.Conn
	events orchestrator.ChannelEvents
	logger orchestrator.Logger

	mu     sync.Mutex
	closed bool
}

// inboundMessage is the union of everything the service sends. Shapes we
// do not recognize are ignored.
type inboundMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

func (c *realtimeChannel) readLoop() {
	// Background context: reads are bounded by the connection's lifetime,
	// not by the dial context.
	ctx := context.Background()
	for {
		_, payload, err := c.conn.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debug("unparseable channel message ignored", "bytes", len(payload))
			continue
		}

		switch msg.MessageType {
		case msgSessionBegins:
			if c.events.OnOpen != nil {
				c.events.OnOpen()
			}
		case msgFinalTranscript:
			if c.events.OnFragment != nil {
				c.events.OnFragment(orchestrator.TranscriptFragment{Text: msg.Text, IsFinal: true})
			}
		case msgPartialTranscript:
			if c.events.OnFragment != nil {
				c.events.OnFragment(orchestrator.TranscriptFragment{Text: msg.Text, IsFinal: false})
			}
		case msgSessionTerminated:
			c.finish(nil)
			return
		default:
			// Unknown message shapes are not an error.
			c.logger.Debug("unrecognized channel message", "type", msg.MessageType)
		}
	}
}

// finish reports the channel's death exactly once. A locally initiated
// close reports nil.
func (c *realtimeChannel) finish(err error) {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if !wasClosed && c.events.OnClose != nil {
		c.events.OnClose(err)
	}
}

// SendAudio forwards one PCM slice as a base64 frame. Callers serialize
// sends, which preserves capture order on the wire.
func (c *realtimeChannel) SendAudio(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transcription channel is closed")
	}
	c.mu.Unlock()

	frame := map[string]interface{}{
		"audio_data": base64.StdEncoding.EncodeToString(pcm),
	}
	if err := wsjson.Write(ctx, c.conn, frame); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

func (c *realtimeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Best-effort terminate so the service flushes and ends the session
	// cleanly before the socket goes away.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = wsjson.Write(ctx, c.conn, map[string]interface{}{"terminate_session": true})

	return c.conn.Close(websocket.StatusNormalClosure, "")
}
