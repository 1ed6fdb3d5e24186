package keystore

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects the key store backend.
type Mode string

const (
	// ModeMemory keeps keys in a local Ristretto store (default).
	ModeMemory Mode = "memory"

	// ModeDistributed keeps keys in an Olric DMap shared by all gateway nodes.
	ModeDistributed Mode = "distributed"

	// ModeDisabled runs without a key store.
	ModeDisabled Mode = "disabled"
)

// Default values.
const (
	DefaultLookupTimeoutMS  = 500
	DefaultFailureThreshold = 5
	DefaultOpenDurationMS   = 30000
	DefaultHalfOpenProbes   = 1
	DefaultDMapName         = "plangate-keys"
)

// Config defines key store configuration.
type Config struct {
	Mode            Mode                 `yaml:"mode" toml:"mode"`
	Olric           OlricConfig          `yaml:"olric" toml:"olric"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
	Memory          MemoryConfig         `yaml:"memory" toml:"memory"`
	LookupTimeoutMS int                  `yaml:"lookup_timeout_ms" toml:"lookup_timeout_ms"`
}

// MemoryConfig configures the Ristretto-backed store.
// Every record costs 1, so MaxKeys is the number of records held before
// Ristretto starts evicting.
type MemoryConfig struct {
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`
	MaxKeys     int64 `yaml:"max_keys" toml:"max_keys"`
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// OlricConfig configures the Olric distributed store.
type OlricConfig struct {
	DMapName     string        `yaml:"dmap_name" toml:"dmap_name"`
	BindAddr     string        `yaml:"bind_addr" toml:"bind_addr"`
	Addresses    []string      `yaml:"addresses" toml:"addresses"`
	Peers        []string      `yaml:"peers" toml:"peers"`
	LeaveTimeout time.Duration `yaml:"leave_timeout" toml:"leave_timeout"`
	Embedded     bool          `yaml:"embedded" toml:"embedded"`
}

// CircuitBreakerConfig controls the breaker guarding key lookups.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold"`

	// OpenDurationMS is how long the circuit stays open before probing.
	OpenDurationMS int `yaml:"open_duration_ms" toml:"open_duration_ms"`

	// HalfOpenProbes is the number of lookups let through while half-open.
	HalfOpenProbes int `yaml:"half_open_probes" toml:"half_open_probes"`
}

// GetEffectiveMode returns the mode, defaulting to memory.
func (c *Config) GetEffectiveMode() Mode {
	if c.Mode == "" {
		return ModeMemory
	}
	return c.Mode
}

// GetLookupTimeout returns the per-lookup timeout.
func (c *Config) GetLookupTimeout() time.Duration {
	if c.LookupTimeoutMS <= 0 {
		return DefaultLookupTimeoutMS * time.Millisecond
	}
	return time.Duration(c.LookupTimeoutMS) * time.Millisecond
}

// GetFailureThreshold returns the configured threshold or the default.
func (c *CircuitBreakerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetOpenDuration returns the open duration or the default.
func (c *CircuitBreakerConfig) GetOpenDuration() time.Duration {
	if c.OpenDurationMS <= 0 {
		return DefaultOpenDurationMS * time.Millisecond
	}
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// GetHalfOpenProbes returns the configured probe count or the default.
func (c *CircuitBreakerConfig) GetHalfOpenProbes() int {
	if c.HalfOpenProbes <= 0 {
		return DefaultHalfOpenProbes
	}
	return c.HalfOpenProbes
}

// DefaultMemoryConfig sizes the memory store for roughly 100K keys.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		NumCounters: 1_000_000,
		MaxKeys:     100_000,
		BufferItems: 64,
	}
}

// GetMaxKeys returns the number of records the memory store can hold.
func (m MemoryConfig) GetMaxKeys() int64 {
	return m.withDefaults().MaxKeys
}

func (m MemoryConfig) withDefaults() MemoryConfig {
	d := DefaultMemoryConfig()
	if m.NumCounters <= 0 {
		m.NumCounters = d.NumCounters
	}
	if m.MaxKeys <= 0 {
		m.MaxKeys = d.MaxKeys
	}
	if m.BufferItems <= 0 {
		m.BufferItems = d.BufferItems
	}
	return m
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.LookupTimeoutMS < 0 {
		return errors.New("keystore: lookup_timeout_ms must be >= 0")
	}
	switch c.GetEffectiveMode() {
	case ModeMemory:
		if c.Memory.MaxKeys < 0 || c.Memory.NumCounters < 0 {
			return errors.New("keystore: memory sizes must be >= 0")
		}
	case ModeDistributed:
		if !c.Olric.Embedded && len(c.Olric.Addresses) == 0 {
			return errors.New("keystore: olric.addresses required when not embedded")
		}
		if c.Olric.Embedded && c.Olric.BindAddr == "" {
			return errors.New("keystore: olric.bind_addr required when embedded")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("keystore: unknown mode %q", c.Mode)
	}
	return nil
}
