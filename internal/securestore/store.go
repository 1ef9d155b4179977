// Package securestore wraps a TTL'd key/value backend with a tamper-evident
// envelope. Every value is stored as {data, signature, timestamp, version}
// where the signature is an HMAC-SHA256 over the serialized data and the
// write timestamp. Reads that fail verification are treated as missing.
package securestore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/observability/metrics"
	"NamePilot/pkg/logger"
)

const (
	// envelopeVersion pins the on-disk format for forward migration.
	envelopeVersion = 1

	// maxEntryAge rejects entries older than this even when the backend TTL
	// has not fired, defending against a store that extends TTLs or replays
	// stale-but-unexpired values.
	maxEntryAge = 30 * time.Minute

	// clockSkewTolerance is how far into the future a timestamp may sit
	// before the entry is rejected.
	clockSkewTolerance = 5 * time.Second
)

// ErrNotFound is returned when a key is absent, expired, or failed
// verification.
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "state entry not found")

// Verification reports how a read was checked.
type Verification int

const (
	// VerificationPassed means the HMAC matched.
	VerificationPassed Verification = iota
	// VerificationSkipped means no signing secret is configured. Callers in
	// integrity-sensitive paths must not treat this as a passed check.
	VerificationSkipped
)

type envelope struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Version   int             `json:"version"`
}

// Store is the tamper-evident state store.
type Store struct {
	backend Backend
	secret  []byte
	maxAge  time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxAge overrides the replay-protection horizon.
func WithMaxAge(maxAge time.Duration) Option {
	return func(s *Store) {
		if maxAge > 0 {
			s.maxAge = maxAge
		}
	}
}

// New creates a Store. An empty secret enables insecure mode: entries are
// written unsigned and reads skip verification, which is logged loudly once.
func New(backend Backend, secret []byte, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		secret:  append([]byte(nil), secret...),
		maxAge:  maxEntryAge,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if len(s.secret) == 0 {
		logger.L().Warn("secure state store running WITHOUT a signing secret; stored state is not tamper-evident")
	}
	return s
}

// Set serializes value, signs it, and writes it with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "serialize state entry")
	}

	env := envelope{
		Data:      data,
		Timestamp: s.now().UnixMilli(),
		Version:   envelopeVersion,
	}
	if len(s.secret) > 0 {
		env.Signature = s.sign(data, env.Timestamp)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "serialize envelope")
	}
	if err := s.backend.Set(ctx, key, raw, ttl); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write state entry")
	}
	return nil
}

// Get reads and verifies the entry, decoding its data into out. Integrity
// failures are logged as security incidents, the entry is discarded, and
// ErrNotFound is returned so callers fail closed.
func (s *Store) Get(ctx context.Context, key string, out any) (Verification, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if err == ErrKeyMissing {
			return VerificationSkipped, ErrNotFound
		}
		return VerificationSkipped, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read state entry")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return s.reject(ctx, key, "malformed_envelope")
	}
	if env.Version != envelopeVersion {
		return s.reject(ctx, key, "unknown_envelope_version")
	}

	now := s.now()
	written := time.UnixMilli(env.Timestamp)
	if written.After(now.Add(clockSkewTolerance)) {
		return s.reject(ctx, key, "future_timestamp")
	}
	if now.Sub(written) > s.maxAge {
		return s.reject(ctx, key, "entry_too_old")
	}

	verification := VerificationPassed
	if len(s.secret) > 0 {
		expected := s.sign(env.Data, env.Timestamp)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(env.Signature)) != 1 {
			return s.reject(ctx, key, "signature_mismatch")
		}
	} else {
		verification = VerificationSkipped
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return verification, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode state entry")
	}
	return verification, nil
}

// Delete removes the entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete state entry")
	}
	return nil
}

// Keys lists keys matching a glob pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.backend.Keys(ctx, pattern)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan state keys")
	}
	return keys, nil
}

// reject discards a failed entry and reports it as not found.
func (s *Store) reject(ctx context.Context, key, reason string) (Verification, error) {
	logger.SecurityIncident(reason, "key", key)
	metrics.ObserveSecurityIncident()
	_ = s.backend.Delete(ctx, key)
	return VerificationSkipped, ErrNotFound
}

func (s *Store) sign(data json.RawMessage, timestamp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
