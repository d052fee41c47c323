// Package kvstore holds short-lived state: idempotency markers, bank
// verification counters and the admin notification list.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Store is satisfied by Redis and by the relational fallback table.
// A zero ttl means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr adds one to an integer key. ttl is applied when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	// LPush prepends value and trims the list to capacity entries.
	LPush(ctx context.Context, key, value string, capacity int, ttl time.Duration) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// Exists is a convenience over Get.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Purger is implemented by stores that keep expired keys until swept.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Purge sweeps expired keys when s needs it; Redis expires keys itself.
func Purge(ctx context.Context, s Store) (int64, error) {
	p, ok := s.(Purger)
	if !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx)
}
