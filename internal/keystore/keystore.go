// Package keystore holds the API key records the gateway consults when it
// selects and validates plans.
//
// Three backends are available:
//   - Memory (Ristretto): process-local store, the default
//   - Distributed (Olric): shared DMap for multi-instance gateways
//   - Disabled: no store at all; plan selection fails open and the api-key
//     policy answers 503
//
// All implementations are safe for concurrent use.
//
// Basic usage:
//
//	store, err := keystore.New(ctx, &keystore.Config{Mode: keystore.ModeMemory})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	key, err := store.FindByKey(ctx, "abc123")
//	if err != nil {
//		// technical failure, see ErrTechnical
//	}
//	if k, ok := key.Get(); ok {
//		fmt.Println(k.Plan)
//	}
package keystore

import (
	"context"
	"time"

	"github.com/samber/mo"
)

// APIKey is a subscription credential bound to exactly one plan.
type APIKey struct {
	ExpireAt    time.Time `json:"expire_at,omitzero" yaml:"expire_at" toml:"expire_at"`
	Key         string    `json:"key" yaml:"key" toml:"key"`
	Plan        string    `json:"plan" yaml:"plan" toml:"plan"`
	Application string    `json:"application,omitempty" yaml:"application" toml:"application"`
	Revoked     bool      `json:"revoked,omitempty" yaml:"revoked" toml:"revoked"`
}

// Expired reports whether the key has an expiry at or before now.
func (k APIKey) Expired(now time.Time) bool {
	return !k.ExpireAt.IsZero() && !now.Before(k.ExpireAt)
}

// Active reports whether the key may be used at the given instant.
func (k APIKey) Active(now time.Time) bool {
	return !k.Revoked && !k.Expired(now)
}

// Lookup resolves an API key to its record.
// A None result with a nil error means the key is unknown.
// A non-nil error is always a technical failure.
type Lookup interface {
	FindByKey(ctx context.Context, key string) (mo.Option[APIKey], error)
}

// Store is a Lookup that can also be written to.
type Store interface {
	Lookup

	// Save inserts or replaces the record for k.Key.
	Save(ctx context.Context, k APIKey) error

	// Delete removes a key. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources. Close is idempotent.
	Close() error
}

// redact shortens a key for log output.
func redact(key string) string {
	const visible = 4
	if len(key) <= visible {
		return "****"
	}
	return key[:visible] + "****"
}

// Pinger is implemented by stores that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}
