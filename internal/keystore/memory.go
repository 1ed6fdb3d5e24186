package keystore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// memoryStore keeps key records in a Ristretto cache.
type memoryStore struct {
	cache  *ristretto.Cache[string, APIKey]
	log    zerolog.Logger
	mu     sync.RWMutex
	closed atomic.Bool
}

var _ Store = (*memoryStore)(nil)

func newMemoryStore(cfg MemoryConfig) (*memoryStore, error) {
	log := logger().With().Str("backend", "memory").Logger()
	cfg = cfg.withDefaults()

	cache, err := ristretto.NewCache(&ristretto.Config[string, APIKey]{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxKeys,
		BufferItems:        cfg.BufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create ristretto store")
		return nil, err
	}

	log.Info().
		Int64("num_counters", cfg.NumCounters).
		Int64("max_keys", cfg.MaxKeys).
		Msg("memory key store created")

	return &memoryStore{cache: cache, log: log}, nil
}

func (m *memoryStore) FindByKey(ctx context.Context, key string) (mo.Option[APIKey], error) {
	if err := ctx.Err(); err != nil {
		return mo.None[APIKey](), technical("find", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return mo.None[APIKey](), technical("find", ErrClosed)
	}

	record, found := m.cache.Get(key)
	m.log.Debug().
		Str("key", redact(key)).
		Bool("hit", found).
		Msg("key lookup")
	if !found {
		return mo.None[APIKey](), nil
	}
	return mo.Some(record), nil
}

// Save stores the record and waits until it is visible to readers.
// ErrRejected means Ristretto dropped or refused the record, typically
// because the store already holds MaxKeys records.
func (m *memoryStore) Save(ctx context.Context, k APIKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if k.Key == "" {
		return ErrKeyRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return ErrClosed
	}

	if !m.cache.Set(k.Key, k, 1) {
		return ErrRejected
	}
	m.cache.Wait()

	// Set only queues the write; admission may still refuse it.
	if _, ok := m.cache.Get(k.Key); !ok {
		m.log.Warn().
			Str("key", redact(k.Key)).
			Str("plan", k.Plan).
			Msg("key refused by memory store")
		return ErrRejected
	}

	m.log.Debug().
		Str("key", redact(k.Key)).
		Str("plan", k.Plan).
		Msg("key saved")
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return ErrClosed
	}

	m.cache.Del(key)
	m.cache.Wait()
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}

	m.cache.Wait()
	m.cache.Close()
	m.log.Info().Msg("memory key store closed")
	return nil
}

// Ping reports ErrClosed after Close and nil otherwise.
func (m *memoryStore) Ping(_ context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}
