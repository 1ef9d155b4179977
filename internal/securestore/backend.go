package securestore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyMissing is returned by a Backend when a key does not exist or its TTL
// has fired.
var ErrKeyMissing = errors.New("securestore: key missing")

// Backend abstracts the durable key/value layer underneath the store. Any
// implementation must support per-key expiry and atomic set/get/delete.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Keys returns the keys matching a glob-style pattern, e.g. "flow:u1:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
