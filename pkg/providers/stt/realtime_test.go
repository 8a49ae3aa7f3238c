package stt

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
)

// fakeRealtimeServer accepts one websocket connection, emits a scripted
// message sequence and records every frame the client sends.
type fakeRealtimeServer struct {
	srv    *httptest.Server
	script []map[string]interface{}

	mu       sync.Mutex
	query    string
	received []map[string]interface{}
}

func newFakeRealtimeServer(t *testing.T, script ...map[string]interface{}) *fakeRealtimeServer {
	t.Helper()
	f := &fakeRealtimeServer{script: script}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		ctx := r.Context()
		for _, msg := range f.script {
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
		for {
			var frame map[string]interface{}
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, frame)
			f.mu.Unlock()
			if frame["terminate_session"] == true {
				wsjson.Write(ctx, conn, map[string]interface{}{"message_type": "SessionTerminated"})
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	return f
}

func (f *fakeRealtimeServer) host() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *fakeRealtimeServer) frames() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, len(f.received))
	copy(out, f.received)
	return out
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDialDeliversTranscriptEvents(t *testing.T) {
	f := newFakeRealtimeServer(t,
		map[string]interface{}{"message_type": "SessionBegins", "session_id": "abc"},
		map[string]interface{}{"message_type": "PartialTranscript", "text": "hello wor"},
		map[string]interface{}{"message_type": "FinalTranscript", "text": "hello world"},
	)
	defer f.srv.Close()

	opened := make(chan struct{})
	var mu sync.Mutex
	var frags []orchestrator.TranscriptFragment
	final := make(chan struct{})

	d := NewRealtimeDialerHost("ws", f.host(), nil)
	ch, err := d.Dial(context.Background(), "tok", 16000, orchestrator.ChannelEvents{
		OnOpen: func() { close(opened) },
		OnFragment: func(frag orchestrator.TranscriptFragment) {
			mu.Lock()
			frags = append(frags, frag)
			mu.Unlock()
			if frag.IsFinal {
				close(final)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	waitSignal(t, opened, "session open")
	waitSignal(t, final, "final transcript")

	f.mu.Lock()
	query := f.query
	f.mu.Unlock()
	if !strings.Contains(query, "sample_rate=16000") || !strings.Contains(query, "token=tok") {
		t.Errorf("dial query missing parameters: %q", query)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(frags))
	}
	if frags[0].IsFinal || frags[0].Text != "hello wor" {
		t.Errorf("partial fragment wrong: %+v", frags[0])
	}
	if !frags[1].IsFinal || frags[1].Text != "hello world" {
		t.Errorf("final fragment wrong: %+v", frags[1])
	}
}

func TestSendAudioEncodesBase64Frames(t *testing.T) {
	f := newFakeRealtimeServer(t,
		map[string]interface{}{"message_type": "SessionBegins"},
	)
	defer f.srv.Close()

	opened := make(chan struct{})
	d := NewRealtimeDialerHost("ws", f.host(), nil)
	ch, err := d.Dial(context.Background(), "tok", 16000, orchestrator.ChannelEvents{
		OnOpen: func() { close(opened) },
	})
	if err != nil {
		t.Fatal(err)
	}
	waitSignal(t, opened, "session open")

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := ch.SendAudio(context.Background(), pcm); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}

	var frames []map[string]interface{}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames = f.frames()
		if len(frames) >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(frames) == 0 {
		t.Fatal("server received no frames")
	}
	encoded, ok := frames[0]["audio_data"].(string)
	if !ok {
		t.Fatalf("first frame is not an audio frame: %v", frames[0])
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("audio round-trip mismatch: %v", decoded)
	}
}

func TestLocalCloseSuppressesOnClose(t *testing.T) {
	f := newFakeRealtimeServer(t,
		map[string]interface{}{"message_type": "SessionBegins"},
	)
	defer f.srv.Close()

	opened := make(chan struct{})
	var mu sync.Mutex
	closeCalls := 0

	d := NewRealtimeDialerHost("ws", f.host(), nil)
	ch, err := d.Dial(context.Background(), "tok", 16000, orchestrator.ChannelEvents{
		OnOpen: func() { close(opened) },
		OnClose: func(err error) {
			mu.Lock()
			closeCalls++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	waitSignal(t, opened, "session open")

	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if closeCalls != 0 {
		t.Errorf("locally initiated close must not fire OnClose, got %d calls", closeCalls)
	}

	// A closed channel rejects further audio.
	if err := ch.SendAudio(context.Background(), []byte{0}); err == nil {
		t.Error("SendAudio must fail after Close")
	}
}

func TestRemoteTerminationFiresOnClose(t *testing.T) {
	f := newFakeRealtimeServer(t,
		map[string]interface{}{"message_type": "SessionBegins"},
		map[string]interface{}{"message_type": "SessionTerminated"},
	)
	defer f.srv.Close()

	closed := make(chan struct{})
	var closeErr error

	d := NewRealtimeDialerHost("ws", f.host(), nil)
	ch, err := d.Dial(context.Background(), "tok", 16000, orchestrator.ChannelEvents{
		OnClose: func(err error) {
			closeErr = err
			close(closed)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	waitSignal(t, closed, "remote termination")
	if closeErr != nil {
		t.Errorf("clean termination must report nil, got %v", closeErr)
	}
}
