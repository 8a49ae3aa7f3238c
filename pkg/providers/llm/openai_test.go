package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
)

func sseServer(t *testing.T, capture *map[string]interface{}, chunks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, capture); err != nil {
				t.Errorf("request body not json: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			io.WriteString(w, "data: "+c+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func textChunk(content string) string {
	return `{"choices":[{"delta":{"content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestStreamCompleteTextDeltas(t *testing.T) {
	var reqBody map[string]interface{}
	srv := sseServer(t, &reqBody,
		textChunk("Hello"),
		textChunk(" there"),
		textChunk("!"),
	)
	defer srv.Close()

	l := NewOpenAILLMURL("test-key", "gpt-4o", srv.URL)

	var deltas []string
	res, err := l.StreamComplete(context.Background(), []orchestrator.Message{
		{Role: orchestrator.RoleUser, Content: "hi"},
	}, nil, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Hello there!" {
		t.Errorf("content = %q", res.Content)
	}
	if res.ToolCall != nil {
		t.Errorf("unexpected tool call: %+v", res.ToolCall)
	}
	if strings.Join(deltas, "") != "Hello there!" {
		t.Errorf("deltas do not reassemble the content: %v", deltas)
	}
	if _, ok := reqBody["tools"]; ok {
		t.Error("tools key must be absent when no tool is offered")
	}
	if reqBody["stream"] != true {
		t.Error("stream flag missing")
	}
}

func TestStreamCompleteAccumulatesToolCall(t *testing.T) {
	var reqBody map[string]interface{}
	srv := sseServer(t, &reqBody,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"generate_interview","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"role\":\"Backend"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":" Developer\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	tool := &orchestrator.ToolDescriptor{
		Name:        "generate_interview",
		Description: "Generates an interview.",
		Parameters:  map[string]interface{}{"type": "object"},
	}

	l := NewOpenAILLMURL("test-key", "", srv.URL)
	res, err := l.StreamComplete(context.Background(), []orchestrator.Message{
		{Role: orchestrator.RoleUser, Content: "backend please"},
	}, tool, nil)
	if err != nil {
		t.Fatal(err)
	}

	if res.ToolCall == nil {
		t.Fatal("expected a tool call")
	}
	if res.ToolCall.ID != "call_1" || res.ToolCall.Name != "generate_interview" {
		t.Errorf("tool call identity wrong: %+v", res.ToolCall)
	}
	if res.ToolCall.Arguments != `{"role":"Backend Developer"}` {
		t.Errorf("arguments not reassembled: %q", res.ToolCall.Arguments)
	}

	tools, ok := reqBody["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("tools key missing or malformed: %v", reqBody["tools"])
	}
}

func TestStreamCompleteToolMessagesOnWire(t *testing.T) {
	var reqBody map[string]interface{}
	srv := sseServer(t, &reqBody, textChunk("Done."))
	defer srv.Close()

	history := []orchestrator.Message{
		{Role: orchestrator.RoleAssistant, ToolCalls: []orchestrator.ToolCallRequest{
			{ID: "call_9", Name: "generate_interview", Arguments: `{"count":5}`},
		}},
		{Role: orchestrator.RoleTool, Content: "ok", ToolResult: &orchestrator.ToolResult{
			ID: "call_9", Name: "generate_interview", Success: true,
		}},
	}

	l := NewOpenAILLMURL("test-key", "", srv.URL)
	if _, err := l.StreamComplete(context.Background(), history, nil, nil); err != nil {
		t.Fatal(err)
	}

	msgs := reqBody["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(msgs))
	}
	first := msgs[0].(map[string]interface{})
	calls := first["tool_calls"].([]interface{})
	fn := calls[0].(map[string]interface{})["function"].(map[string]interface{})
	if fn["name"] != "generate_interview" || fn["arguments"] != `{"count":5}` {
		t.Errorf("assistant tool call not serialized: %v", fn)
	}
	second := msgs[1].(map[string]interface{})
	if second["tool_call_id"] != "call_9" {
		t.Errorf("tool message must carry tool_call_id, got %v", second["tool_call_id"])
	}
}

func TestStreamCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	l := NewOpenAILLMURL("test-key", "", srv.URL)
	_, err := l.StreamComplete(context.Background(), []orchestrator.Message{
		{Role: orchestrator.RoleUser, Content: "hi"},
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should name the status: %v", err)
	}
}
