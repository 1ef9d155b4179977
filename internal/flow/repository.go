package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/keylock"
	"NamePilot/internal/securestore"
)

// keyPrefix namespaces flow records in the shared state store.
const keyPrefix = "flow"

// ErrNoActiveFlow is returned when the (user, conversation) key holds no flow.
var ErrNoActiveFlow = xerrors.New(xerrors.CodeFlowNotFound, "no active flow for conversation")

// ErrIllegalTransition is returned when a status update is not in the state
// machine for the flow's type.
var ErrIllegalTransition = xerrors.New(xerrors.CodeConflict, "illegal flow status transition")

// Repository persists flows in the secure state store, keyed by
// (user, conversation). Mutations are serialised per key because the
// underlying read-modify-write is not atomic.
type Repository struct {
	store *securestore.Store
	locks *keylock.KeyLock
}

// NewRepository creates a Repository on top of the given store.
func NewRepository(store *securestore.Store) *Repository {
	return &Repository{store: store, locks: keylock.New()}
}

// Key renders the storage key for a (user, conversation) pair.
func Key(userID, conversationID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, conversationID)
}

// GetActiveFlow loads the flow for the key, or ErrNoActiveFlow.
func (r *Repository) GetActiveFlow(ctx context.Context, userID, conversationID string) (*Flow, error) {
	var f Flow
	if _, err := r.store.Get(ctx, Key(userID, conversationID), &f); err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return nil, ErrNoActiveFlow
		}
		return nil, err
	}
	return &f, nil
}

// SetActiveFlow upserts the flow, replacing any existing one for the key, and
// refreshes the TTL.
func (r *Repository) SetActiveFlow(ctx context.Context, f *Flow) error {
	if f == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "flow is nil")
	}
	if f.UserID == "" || f.ConversationID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "flow requires user and conversation identity")
	}
	key := Key(f.UserID, f.ConversationID)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)
	return r.writeLocked(ctx, key, f)
}

// UpdateFlowData shallow-merges partial into the existing data payload and
// bumps updatedAt. It fails with ErrNoActiveFlow when no flow exists.
func (r *Repository) UpdateFlowData(ctx context.Context, userID, conversationID string, partial any) (*Flow, error) {
	key := Key(userID, conversationID)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	f, err := r.GetActiveFlow(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	merged, err := mergeData(f.Data, partial)
	if err != nil {
		return nil, err
	}
	f.Data = merged
	if err := r.writeLocked(ctx, key, f); err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateFlowStatus advances the flow's status, enforcing the per-type state
// machine. It fails with ErrNoActiveFlow when no flow exists and performs no
// write on an illegal transition.
func (r *Repository) UpdateFlowStatus(ctx context.Context, userID, conversationID string, next Status) (*Flow, error) {
	key := Key(userID, conversationID)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	f, err := r.GetActiveFlow(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(f.Type, f.Status, next) {
		return nil, xerrors.Wrap(xerrors.CodeConflict, ErrIllegalTransition,
			fmt.Sprintf("%s flow cannot move %s -> %s", f.Type, f.Status, next))
	}
	f.Status = next
	if err := r.writeLocked(ctx, key, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ClearActiveFlow removes the flow for the key.
func (r *Repository) ClearActiveFlow(ctx context.Context, userID, conversationID string) error {
	return r.store.Delete(ctx, Key(userID, conversationID))
}

// HasAnyActiveFlow scans across the user's conversations and reports whether
// any flow exists. Used to stop a user from running two operations at once.
func (r *Repository) HasAnyActiveFlow(ctx context.Context, userID string) (bool, error) {
	keys, err := r.store.Keys(ctx, fmt.Sprintf("%s:%s:*", keyPrefix, userID))
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// ClearAllUserFlows removes every flow belonging to the user.
func (r *Repository) ClearAllUserFlows(ctx context.Context, userID string) error {
	keys, err := r.store.Keys(ctx, fmt.Sprintf("%s:%s:*", keyPrefix, userID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) writeLocked(ctx context.Context, key string, f *Flow) error {
	now := time.Now().UnixMilli()
	if f.StartedAt == 0 {
		f.StartedAt = now
	}
	if now < f.StartedAt {
		now = f.StartedAt
	}
	f.UpdatedAt = now
	return r.store.Set(ctx, key, f, TTL)
}

// mergeData overlays the fields of partial onto existing at the top level.
// Values are kept as raw JSON so tagged big integers pass through untouched.
func mergeData(existing json.RawMessage, partial any) (json.RawMessage, error) {
	partialRaw, err := json.Marshal(partial)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode partial flow data")
	}

	base := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &base); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode existing flow data")
		}
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(partialRaw, &overlay); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode partial flow data")
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}
