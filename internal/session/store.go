package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/securestore"
)

const keyPrefix = "session"

// ErrNoSession is returned when no session exists for the key.
var ErrNoSession = xerrors.New(xerrors.CodeSessionNotFound, "no active session for conversation")

// Store persists sessions in the secure state store with a sliding TTL.
type Store struct {
	store *securestore.Store
}

// NewStore creates a session Store.
func NewStore(store *securestore.Store) *Store {
	return &Store{store: store}
}

// Key renders the storage key for a (user, conversation) pair.
func Key(userID, conversationID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, conversationID)
}

// Get loads the session for the key, or ErrNoSession.
func (s *Store) Get(ctx context.Context, userID, conversationID string) (*Session, error) {
	var sess Session
	if _, err := s.store.Get(ctx, Key(userID, conversationID), &sess); err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return &sess, nil
}

// LoadOrCreate reuses a live non-terminal session or lazily creates a fresh
// one. There is never more than one session per (user, conversation).
func (s *Store) LoadOrCreate(ctx context.Context, userID, conversationID, channelID string) (*Session, error) {
	existing, err := s.Get(ctx, userID, conversationID)
	if err == nil && !existing.Status.IsTerminal() {
		return existing, nil
	}
	if err != nil && !errors.Is(err, ErrNoSession) {
		return nil, err
	}
	fresh := New(userID, conversationID, channelID)
	if err := s.Save(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Save writes the session back, refreshing activity time and TTL.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session is nil")
	}
	sess.LastActivityAt = time.Now().UnixMilli()
	return s.store.Set(ctx, Key(sess.UserID, sess.ConversationID), sess, TTL)
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, userID, conversationID string) error {
	return s.store.Delete(ctx, Key(userID, conversationID))
}
