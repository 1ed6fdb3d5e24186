package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/samber/lo"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/config"
	"github.com/omarluq/plangate/internal/keystore"
)

const keyStoreInitTimeout = 30 * time.Second

// KeyStoreService owns the key store and the guarded lookup built on it.
// Store and Lookup are both nil when the key store is disabled.
type KeyStoreService struct {
	Store  keystore.Store
	Lookup auth.KeyLookup
	Guard  *keystore.Guard
	log    *zerolog.Logger
}

// NewKeyStore creates the configured backend, seeds the configured keys and
// keeps them in sync with config reloads.
func NewKeyStore(i do.Injector) (*KeyStoreService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)

	cfg := cfgSvc.Get()

	ctx, cancel := context.WithTimeout(context.Background(), keyStoreInitTimeout)
	defer cancel()

	store, err := keystore.New(ctx, &cfg.KeyStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create key store: %w", err)
	}

	svc := &KeyStoreService{Store: store, log: logSvc.Logger}
	if store == nil {
		return svc, nil
	}

	if err := keystore.Seed(ctx, store, cfg.Keys); err != nil {
		_ = store.Close()
		return nil, err
	}

	var opts []keystore.GuardOption
	if metricsSvc.Enabled() {
		opts = append(opts, keystore.WithLookupObserver(metricsSvc.Collector.ObserveLookup))
	}
	svc.Guard = keystore.NewGuard(store, &cfg.KeyStore, opts...)
	svc.Lookup = svc.Guard

	cfgSvc.OnReload(svc.resync)
	return svc, nil
}

// Pinger returns the store as a health probe, if it supports one.
func (s *KeyStoreService) Pinger() keystore.Pinger {
	p, ok := s.Store.(keystore.Pinger)
	if !ok {
		return nil
	}
	return p
}

// resync applies the key list of a reloaded config: new and changed records
// are saved, records no longer listed are deleted. Backend settings changes
// need a restart.
func (s *KeyStoreService) resync(prev, next *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), keyStoreInitTimeout)
	defer cancel()

	if prev.KeyStore.GetEffectiveMode() != next.KeyStore.GetEffectiveMode() {
		s.log.Warn().Msg("key store mode changed; restart to apply")
	}

	if err := keystore.Seed(ctx, s.Store, next.Keys); err != nil {
		s.log.Error().Err(err).Msg("key store resync failed")
		return
	}

	current := lo.SliceToMap(next.Keys, func(k keystore.APIKey) (string, struct{}) {
		return k.Key, struct{}{}
	})
	removed := lo.Filter(prev.Keys, func(k keystore.APIKey, _ int) bool {
		_, ok := current[k.Key]
		return !ok
	})
	for _, k := range removed {
		if err := s.Store.Delete(ctx, k.Key); err != nil {
			s.log.Error().Err(err).Msg("key store resync: delete failed")
		}
	}
	s.log.Info().Int("saved", len(next.Keys)).Int("removed", len(removed)).Msg("key store resynced")
}

// Shutdown implements do.Shutdowner.
func (s *KeyStoreService) Shutdown() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
