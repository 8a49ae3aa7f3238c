package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
)

// OpenAILLM streams chat completions over SSE, including the incremental
// tool-call protocol: tool argument chunks arrive interleaved with text
// deltas and are buffered until the stream finishes the call.
type OpenAILLM struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
		client: http.DefaultClient,
	}
}

// NewOpenAILLMURL targets a custom endpoint, used by tests and proxies.
func NewOpenAILLMURL(apiKey, model, url string) *OpenAILLM {
	l := NewOpenAILLM(apiKey, model)
	l.url = url
	return l
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (l *OpenAILLM) StreamComplete(ctx context.Context, messages []orchestrator.Message, tool *orchestrator.ToolDescriptor, onDelta func(string) error) (*orchestrator.CompletionResult, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": convertMessages(messages),
		"stream":   true,
	}
	if tool != nil {
		payload["tools"] = []map[string]interface{}{
			{
				"type": "function",
				"function": map[string]interface{}{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.Parameters,
				},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp)
	}

	return l.consumeStream(resp.Body, onDelta)
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (l *OpenAILLM) consumeStream(body io.Reader, onDelta func(string) error) (*orchestrator.CompletionResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	var content strings.Builder
	var tool *orchestrator.ToolCallRequest
	var toolArgs strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			return nil, fmt.Errorf("bad stream chunk: %w", err)
		}
		if len(delta.Choices) == 0 {
			continue
		}
		choice := delta.Choices[0]

		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return nil, err
				}
			}
		}

		for _, call := range choice.Delta.ToolCalls {
			if tool == nil {
				tool = &orchestrator.ToolCallRequest{}
			}
			if call.ID != "" {
				tool.ID = call.ID
			}
			if call.Function.Name != "" {
				tool.Name = call.Function.Name
			}
			if call.Function.Arguments != "" {
				toolArgs.WriteString(call.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if tool != nil {
		tool.Arguments = toolArgs.String()
	}
	return &orchestrator.CompletionResult{
		Content:  content.String(),
		ToolCall: tool,
	}, nil
}

func convertMessages(messages []orchestrator.Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		om := oaiMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			otc := oaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		if m.Role == orchestrator.RoleTool && m.ToolResult != nil {
			om.ToolCallID = m.ToolResult.ID
		}
		out = append(out, om)
	}
	return out
}
