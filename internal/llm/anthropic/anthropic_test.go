package anthropic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextvibe/nextvibe/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestComplete_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-API-Key"))
		}
		if r.Header.Get("Anthropic-Version") != apiVersion {
			t.Errorf("expected version header %q, got %q", apiVersion, r.Header.Get("Anthropic-Version"))
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "claude-sonnet-4-5" {
			t.Errorf("model = %q", req.Model)
		}
		if req.System != "You classify." {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}

		resp := apiResponse{
			Content:    []apiContentBlock{{Type: "text", Text: "bug_fix"}},
			StopReason: "end_turn",
			Usage:      apiUsage{InputTokens: 12, OutputTokens: 3},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-5", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.Complete(context.Background(), llm.UserTurn("You classify.", "fix this", 16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "bug_fix" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestComplete_MultipleTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := apiResponse{
			Content: []apiContentBlock{
				{Type: "text", Text: "part one "},
				{Type: "text", Text: "part two"},
			},
			StopReason: "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.Complete(context.Background(), llm.UserTurn("", "hi", 16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "part one part two" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	client := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	if _, err := client.Complete(context.Background(), llm.UserTurn("", "hi", 16)); err == nil {
		t.Fatal("expected error, got nil")
	}
}
