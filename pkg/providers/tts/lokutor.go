package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// LokutorTTS synthesizes speech over a persistent websocket. The
// connection is reused across utterances and re-established lazily after
// an error or Abort.
type LokutorTTS struct {
	apiKey string
	host   string
	scheme string
	mu     sync.Mutex
	conn   *websocket.Conn
}

func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
	}
}

// NewLokutorTTSHost targets a custom endpoint, used by tests.
func NewLokutorTTSHost(apiKey, scheme, host string) *LokutorTTS {
	t := NewLokutorTTS(apiKey)
	t.scheme = scheme
	t.host = host
	return t
}

func (t *LokutorTTS) Name() string {
	return "lokutor"
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)

	t.conn = conn
	return conn, nil
}

// Synthesize requests audio for text and collects binary frames until the
// end-of-stream marker. Utterances are serialized on the connection.
func (t *LokutorTTS) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.getConn(ctx)
	if err != nil {
		return nil, err
	}

	req := map[string]interface{}{
		"text":  text,
		"voice": voiceID,
		"speed": 1.0,
		"steps": 6,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return nil, fmt.Errorf("failed to send synthesis request: %w", err)
	}

	var audio []byte
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return nil, fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			audio = append(audio, payload...)
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return audio, nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return nil, fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}

// Abort forces any in-progress synthesis to stop immediately by closing
// the underlying websocket. The next Synthesize redials.
func (t *LokutorTTS) Abort() error {
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusAbnormalClosure, "abort")
		t.conn = nil
		return err
	}
	return nil
}
