package interview

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

func TestGenerateInterview(t *testing.T) {
	var gotPath, gotAuth string
	var gotArgs orchestrator.InterviewArgs

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotArgs); err != nil {
			t.Errorf("request body not json: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "id": "int-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "backend-key")
	res, err := c.GenerateInterview(context.Background(), orchestrator.InterviewArgs{
		Role:  "Backend Developer",
		Level: "Senior",
		Stack: "Go, Postgres",
		Focus: "Technical",
		Count: "7",
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/interviews/generate" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer backend-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotArgs.Role != "Backend Developer" || gotArgs.Count != "7" {
		t.Errorf("args not forwarded: %+v", gotArgs)
	}
	if !res.Success || res.ID != "int-42" {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerateInterviewRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GenerateInterview(context.Background(), orchestrator.InterviewArgs{})
	if err == nil {
		t.Fatal("expected error when backend rejects generation")
	}
}

func TestSubmitTranscript(t *testing.T) {
	var gotPath string
	var gotReq struct {
		ConversationID string                 `json:"conversation_id"`
		Transcript     []orchestrator.Message `json:"transcript"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("request body not json: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "id": "fb-1"})
	}))
	defer srv.Close()

	transcript := []orchestrator.Message{
		{Role: orchestrator.RoleUser, Content: "a goroutine is a lightweight thread"},
		{Role: orchestrator.RoleAssistant, Content: "Correct. Next question."},
	}

	c := NewClient(srv.URL, "backend-key")
	if err := c.SubmitTranscript(context.Background(), "conv-1", transcript); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/feedback" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.ConversationID != "conv-1" {
		t.Errorf("conversation id = %q", gotReq.ConversationID)
	}
	if len(gotReq.Transcript) != 2 || gotReq.Transcript[1].Content != "Correct. Next question." {
		t.Errorf("transcript not forwarded: %+v", gotReq.Transcript)
	}
}

func TestBackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "database unavailable")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.SubmitTranscript(context.Background(), "conv-1", nil)
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "database unavailable") {
		t.Errorf("error should carry status and body: %v", err)
	}
}
