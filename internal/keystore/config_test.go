package keystore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/plangate/internal/keystore"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     keystore.Config
		wantErr bool
	}{
		{name: "empty mode defaults to memory", cfg: keystore.Config{}},
		{name: "disabled", cfg: keystore.Config{Mode: keystore.ModeDisabled}},
		{name: "unknown mode", cfg: keystore.Config{Mode: "redis"}, wantErr: true},
		{name: "negative timeout", cfg: keystore.Config{LookupTimeoutMS: -1}, wantErr: true},
		{
			name:    "distributed client without addresses",
			cfg:     keystore.Config{Mode: keystore.ModeDistributed},
			wantErr: true,
		},
		{
			name:    "distributed embedded without bind addr",
			cfg:     keystore.Config{Mode: keystore.ModeDistributed, Olric: keystore.OlricConfig{Embedded: true}},
			wantErr: true,
		},
		{
			name: "distributed client",
			cfg: keystore.Config{
				Mode:  keystore.ModeDistributed,
				Olric: keystore.OlricConfig{Addresses: []string{"127.0.0.1:3320"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var cfg keystore.Config
	assert.Equal(t, keystore.ModeMemory, cfg.GetEffectiveMode())
	assert.Equal(t, 500*time.Millisecond, cfg.GetLookupTimeout())
	assert.Equal(t, keystore.DefaultFailureThreshold, cfg.CircuitBreaker.GetFailureThreshold())
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.GetOpenDuration())
	assert.Equal(t, keystore.DefaultHalfOpenProbes, cfg.CircuitBreaker.GetHalfOpenProbes())
	assert.Equal(t, int64(100_000), cfg.Memory.GetMaxKeys())
}

func TestNew_DisabledReturnsNilStore(t *testing.T) {
	t.Parallel()

	store, err := keystore.New(context.Background(), &keystore.Config{Mode: keystore.ModeDisabled})
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestNew_MemoryAndSeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := keystore.New(ctx, &keystore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	keys := []keystore.APIKey{
		{Key: "abc123", Plan: "planA"},
		{Key: "def456", Plan: "planB"},
	}
	require.NoError(t, keystore.Seed(ctx, store, keys))

	for _, k := range keys {
		got, err := store.FindByKey(ctx, k.Key)
		require.NoError(t, err)
		assert.Equal(t, k.Plan, got.MustGet().Plan)
	}
}

func TestNew_MemorySeedKeepsEveryKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := keystore.New(ctx, &keystore.Config{Mode: keystore.ModeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	const n = 5000
	keys := make([]keystore.APIKey, n)
	for i := range keys {
		keys[i] = keystore.APIKey{Key: fmt.Sprintf("seed-key-%05d", i), Plan: "planA"}
	}
	require.NoError(t, keystore.Seed(ctx, store, keys))

	found := 0
	for _, k := range keys {
		got, err := store.FindByKey(ctx, k.Key)
		require.NoError(t, err)
		if got.IsPresent() {
			found++
		}
	}
	assert.Equal(t, n, found)
}

func TestNew_MemoryHoldsMaxKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := &keystore.Config{Memory: keystore.MemoryConfig{NumCounters: 1_000, MaxKeys: 100}}
	assert.Equal(t, int64(100), cfg.Memory.GetMaxKeys())

	store, err := keystore.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for i := range 100 {
		key := fmt.Sprintf("k-%03d", i)
		require.NoError(t, store.Save(ctx, keystore.APIKey{Key: key, Plan: "planA"}))
	}
	for i := range 100 {
		got, err := store.FindByKey(ctx, fmt.Sprintf("k-%03d", i))
		require.NoError(t, err)
		assert.True(t, got.IsPresent(), "key %d missing", i)
	}
}

func TestSeed_StopsOnInvalidRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := keystore.New(ctx, &keystore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	err = keystore.Seed(ctx, store, []keystore.APIKey{{Plan: "planA"}})
	assert.ErrorIs(t, err, keystore.ErrKeyRequired)
}

func TestAPIKey_Active(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	assert.True(t, keystore.APIKey{Key: "k"}.Active(now))
	assert.False(t, keystore.APIKey{Key: "k", Revoked: true}.Active(now))
	assert.False(t, keystore.APIKey{Key: "k", ExpireAt: now}.Active(now))
	assert.False(t, keystore.APIKey{Key: "k", ExpireAt: now.Add(-time.Minute)}.Active(now))
	assert.True(t, keystore.APIKey{Key: "k", ExpireAt: now.Add(time.Minute)}.Active(now))
}
