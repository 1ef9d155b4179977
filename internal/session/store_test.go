package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"NamePilot/internal/securestore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(securestore.New(securestore.NewMemoryBackend(), []byte("secret")))
}

func TestLoadOrCreateReusesLiveSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.LoadOrCreate(ctx, "u1", "c1", "chan")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.LoadOrCreate(ctx, "u1", "c1", "chan")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.SessionID != second.SessionID {
		t.Fatal("expected the live session to be reused")
	}
}

func TestLoadOrCreateReplacesTerminalSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, _ := store.LoadOrCreate(ctx, "u1", "c1", "chan")
	first.Status = StatusError
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second, err := store.LoadOrCreate(ctx, "u1", "c1", "chan")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatal("terminal session must not be reused")
	}
	if second.Status != StatusActive {
		t.Fatalf("fresh session should be active, got %s", second.Status)
	}
}

func TestMessageCap(t *testing.T) {
	sess := New("u1", "c1", "chan")
	for i := 0; i < 30; i++ {
		sess.Append(RoleUser, fmt.Sprintf("message %d", i))
	}
	if len(sess.Messages) != 20 {
		t.Fatalf("expected history capped at 20, got %d", len(sess.Messages))
	}
	if sess.Messages[0].Content != "message 10" {
		t.Fatalf("oldest surviving message wrong: %s", sess.Messages[0].Content)
	}

	window := sess.Window(10)
	if len(window) != 10 || window[9].Content != "message 29" {
		t.Fatalf("window wrong: %d entries, last %q", len(window), window[len(window)-1].Content)
	}
}

func TestPendingToolCallSurvivesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sess, _ := store.LoadOrCreate(ctx, "u1", "c1", "chan")
	sess.Status = StatusAwaitingSignature
	sess.PendingToolCall = &PendingToolCall{
		ToolName:       "prepare_registration",
		ToolID:         "tool-123",
		ExpectedAction: "sign_transaction",
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.PendingToolCall == nil || loaded.PendingToolCall.ToolID != "tool-123" {
		t.Fatalf("pending tool call lost: %+v", loaded.PendingToolCall)
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "u1", "c1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
