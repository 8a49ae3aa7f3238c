package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Well-known ElevenLabs voice IDs so callers can use readable names.
var wellKnownVoices = map[string]string{
	"rachel": "21m00Tcm4TlvDq8ikWAM",
	"sarah":  "EXAVITQu4vr4xnSDxMaL",
	"adam":   "pNInz6obpgDQGcFmaJgB",
	"josh":   "TxGEqnHWrfWFTfGW9XjX",
	"daniel": "onwK4e9ZLuTAKqWW03F9",
	"lily":   "pFZP5JQG7iQjIQuC4Bku",
}

// ElevenLabsTTS synthesizes speech via the ElevenLabs HTTP API, returning
// raw 16 kHz mono PCM suitable for direct playback.
type ElevenLabsTTS struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewElevenLabsTTS(apiKey string) *ElevenLabsTTS {
	return &ElevenLabsTTS{
		apiKey: apiKey,
		url:    "https://api.elevenlabs.io/v1/text-to-speech",
		model:  "eleven_turbo_v2_5",
		client: http.DefaultClient,
	}
}

// NewElevenLabsTTSURL targets a custom endpoint, used by tests.
func NewElevenLabsTTSURL(apiKey, url string) *ElevenLabsTTS {
	t := NewElevenLabsTTS(apiKey)
	t.url = url
	return t
}

func (t *ElevenLabsTTS) Name() string {
	return "elevenlabs"
}

func (t *ElevenLabsTTS) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error) {
	if id, ok := wellKnownVoices[voiceID]; ok {
		voiceID = id
	}

	payload := map[string]interface{}{
		"text":     text,
		"model_id": t.model,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s?output_format=pcm_16000", t.url, voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return io.ReadAll(resp.Body)
}
