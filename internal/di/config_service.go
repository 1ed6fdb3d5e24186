package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/plangate/internal/config"
)

// ConfigService owns the live configuration and, when the file can be
// watched, the watcher that reloads it.
type ConfigService struct {
	runtime *config.Runtime
	watcher *config.Watcher
	path    string
}

// Get returns the current configuration.
func (c *ConfigService) Get() *config.Config {
	return c.runtime.Get()
}

// Path returns the config file path.
func (c *ConfigService) Path() string {
	return c.path
}

// Generation counts the reloads applied since startup.
func (c *ConfigService) Generation() uint64 {
	return c.runtime.Generation()
}

// OnReload registers a listener called after every applied reload.
func (c *ConfigService) OnReload(fn config.ReloadListener) {
	c.runtime.OnReload(fn)
}

// Apply validates next and swaps it in, as a file reload would.
func (c *ConfigService) Apply(next *config.Config) error {
	return c.runtime.Apply(next)
}

// StartWatching reloads the file on change until ctx is canceled.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}

	go func() {
		if err := c.watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher stopped")
		}
	}()

	log.Info().Str("path", c.watcher.Path()).Msg("config file watcher started")
}

// Shutdown implements do.Shutdowner.
func (c *ConfigService) Shutdown() error {
	if c.watcher == nil {
		return nil
	}
	if err := c.watcher.Close(); err != nil && !errors.Is(err, config.ErrWatcherClosed) {
		return err
	}
	return nil
}

// NewConfigService wraps an already validated configuration without a watcher.
func NewConfigService(cfg *config.Config) *ConfigService {
	return &ConfigService{runtime: config.NewRuntime(cfg)}
}

// NewConfig loads and validates the configuration and prepares its watcher.
// The watcher starts with StartWatching.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := NewConfigService(cfg)
	svc.path = path

	watcher, err := config.NewWatcher(path, svc.runtime)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher unavailable, hot-reload disabled")
		return svc, nil
	}
	svc.watcher = watcher
	return svc, nil
}

var _ config.RuntimeConfig = (*ConfigService)(nil)
