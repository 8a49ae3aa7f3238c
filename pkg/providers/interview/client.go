// Package interview is the HTTP client of the surrounding web
// application: the interview-generation tool target and the transcript
// hand-off endpoint. The web application itself (routing, auth, storage)
// is an external collaborator.
package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
)

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  http.DefaultClient,
	}
}

// GenerateInterview asks the backend to generate and store an interview
// from the collected parameters. This is the side-effecting tool target;
// the at-most-once guarantee lives in the orchestrator, not here.
func (c *Client) GenerateInterview(ctx context.Context, args orchestrator.InterviewArgs) (orchestrator.GenerateResult, error) {
	var result orchestrator.GenerateResult
	if err := c.post(ctx, "/api/interviews/generate", args, &result); err != nil {
		return orchestrator.GenerateResult{}, err
	}
	if !result.Success {
		return result, fmt.Errorf("interview generation rejected by backend")
	}
	return result, nil
}

type submitRequest struct {
	ConversationID string                 `json:"conversation_id"`
	Transcript     []orchestrator.Message `json:"transcript"`
}

// SubmitTranscript hands the full conversation off for scoring. Called
// once at session end in interview mode.
func (c *Client) SubmitTranscript(ctx context.Context, conversationID string, transcript []orchestrator.Message) error {
	var result struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	err := c.post(ctx, "/api/feedback", submitRequest{
		ConversationID: conversationID,
		Transcript:     transcript,
	}, &result)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("transcript submission rejected by backend")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
