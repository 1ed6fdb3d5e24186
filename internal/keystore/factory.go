package keystore

import (
	"context"
	"fmt"
	"time"
)

// New creates the Store selected by cfg.Mode.
// ModeDisabled yields a nil Store and a nil error: callers treat that as
// "no key store configured".
func New(ctx context.Context, cfg *Config) (Store, error) {
	log := logger().With().Str("component", "keystore_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := cfg.GetEffectiveMode()
	log.Info().Str("mode", string(mode)).Msg("key store: initializing backend")

	var (
		store Store
		err   error
	)

	switch mode {
	case ModeMemory:
		store, err = newMemoryStore(cfg.Memory)
	case ModeDistributed:
		store, err = newOlricStore(ctx, &cfg.Olric)
	case ModeDisabled:
		log.Warn().Msg("key store disabled, plan selection will fail open")
		return nil, nil
	default:
		return nil, fmt.Errorf("keystore: unknown mode %q", mode)
	}

	if err != nil {
		log.Error().Err(err).Str("mode", string(mode)).Msg("key store: backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(mode)).
		Dur("init_time", time.Since(start)).
		Msg("key store: backend initialized")

	return store, nil
}

// Seed writes every record into the store. It stops at the first failure.
func Seed(ctx context.Context, store Store, keys []APIKey) error {
	for i := range keys {
		if err := store.Save(ctx, keys[i]); err != nil {
			return fmt.Errorf("keystore: seed key %d (%s): %w", i, redact(keys[i].Key), err)
		}
	}
	l := logger()
	l.Info().Int("keys", len(keys)).Msg("key store seeded")
	return nil
}
