package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCompleteDecodesBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "checking now"},
				{"type": "tool_use", "id": "tu_1", "name": "check_availability", "input": {"name": "vault.eth"}}
			],
			"usage": {"input_tokens": 120, "output_tokens": 45}
		}`))
	})

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "is vault.eth free?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "checking now" {
		t.Errorf("text = %q", resp.Text())
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].ToolName != "check_availability" || uses[0].ToolID != "tu_1" {
		t.Fatalf("tool uses = %+v", uses)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 45 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteEmptyContentIsParseError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`))
	})

	_, err := client.Complete(context.Background(), llm.Request{})
	if xerrors.CodeOf(err) != xerrors.CodeLLMParse {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestCompleteStatusErrorIsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"type": "overloaded_error"}}`, http.StatusServiceUnavailable)
	})

	_, err := client.Complete(context.Background(), llm.Request{})
	if xerrors.CodeOf(err) != xerrors.CodeLLMFailure {
		t.Fatalf("expected failure code, got %v", err)
	}
}

func TestCompleteMalformedToolInputIsParseError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content": [{"type": "tool_use", "id": "tu_1", "name": "renew_name", "input": {"bad"}}]}`))
	})

	_, err := client.Complete(context.Background(), llm.Request{})
	if xerrors.CodeOf(err) != xerrors.CodeLLMParse {
		t.Fatalf("expected parse error, got %v", err)
	}
}
