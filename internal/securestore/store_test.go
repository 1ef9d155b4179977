package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

func newTestStore(t *testing.T, secret []byte, opts ...Option) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	return New(backend, secret, opts...), backend
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, []byte("server-secret"))

	in := payload{Name: "alice.eth", Amount: 42}
	if err := store.Set(ctx, "k", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out payload
	verification, err := store.Get(ctx, "k", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if verification != VerificationPassed {
		t.Fatalf("expected verification to pass, got %v", verification)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestMissingKey(t *testing.T) {
	store, _ := newTestStore(t, []byte("secret"))
	var out payload
	if _, err := store.Get(context.Background(), "absent", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTamperedDataFailsClosed(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t, []byte("secret"))

	if err := store.Set(ctx, "k", payload{Name: "alice.eth"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Flip a byte inside the serialized data without re-signing.
	raw, err := backend.Get(ctx, "k")
	if err != nil {
		t.Fatalf("backend get: %v", err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	env["data"] = json.RawMessage(`{"name":"mallory.eth","amount":0}`)
	mutated, _ := json.Marshal(env)
	if err := backend.Set(ctx, "k", mutated, time.Minute); err != nil {
		t.Fatalf("backend set: %v", err)
	}

	var out payload
	if _, err := store.Get(ctx, "k", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tampered entry should read as not found, got %v", err)
	}
	// The poisoned entry must be gone.
	if _, err := backend.Get(ctx, "k"); !errors.Is(err, ErrKeyMissing) {
		t.Fatal("tampered entry should be discarded")
	}
}

func TestTamperedTimestampFailsClosed(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t, []byte("secret"))

	if err := store.Set(ctx, "k", payload{Name: "alice.eth"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, _ := backend.Get(ctx, "k")
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	env.Timestamp-- // single-unit mutation invalidates the signature
	mutated, _ := json.Marshal(env)
	_ = backend.Set(ctx, "k", mutated, time.Minute)

	var out payload
	if _, err := store.Get(ctx, "k", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFutureTimestampRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store, _ := newTestStore(t, []byte("secret"), WithClock(func() time.Time { return now }))

	if err := store.Set(ctx, "k", payload{}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Move the store's clock backwards so the entry sits in the future.
	now = now.Add(-time.Minute)
	var out payload
	if _, err := store.Get(ctx, "k", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStaleEntryRejectedDespiteLiveTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store, _ := newTestStore(t, []byte("secret"), WithClock(func() time.Time { return now }))

	if err := store.Set(ctx, "k", payload{}, 24*time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = now.Add(31 * time.Minute)
	var out payload
	if _, err := store.Get(ctx, "k", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stale entry, got %v", err)
	}
}

func TestUnknownVersionRejected(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t, []byte("secret"))

	if err := store.Set(ctx, "k", payload{}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, _ := backend.Get(ctx, "k")
	var env envelope
	_ = json.Unmarshal(raw, &env)
	env.Version = 99
	mutated, _ := json.Marshal(env)
	_ = backend.Set(ctx, "k", mutated, time.Minute)

	var out payload
	if _, err := store.Get(ctx, "k", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsecureModeIsDistinguishable(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, nil)

	if err := store.Set(ctx, "k", payload{Name: "alice.eth"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out payload
	verification, err := store.Get(ctx, "k", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if verification != VerificationSkipped {
		t.Fatal("unsigned read must report that verification was skipped")
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	now := time.Now()
	backend.SetClock(func() time.Time { return now })
	store := New(backend, []byte("secret"), WithClock(func() time.Time { return now }))

	if err := store.Set(ctx, "k", payload{}, time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(2 * time.Second)

	var out payload
	if _, err := store.Get(ctx, "k", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}
