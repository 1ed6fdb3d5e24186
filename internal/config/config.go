// Package config provides configuration loading and parsing for plangate.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/keystore"
	"github.com/omarluq/plangate/internal/metrics"
)

// RuntimeConfig defines the interface for accessing runtime configuration that supports hot-reload.
// Components that need to observe config changes should use this interface instead of
// holding a direct *Config pointer, which would become stale after hot-reload.
//
// Usage pattern:
//
//	func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
//		plans := m.runtime.Get().AuthPlans()
//		// Resolve the request against plans...
//	}
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// DefaultListen is the listen address used by `config init`.
const DefaultListen = "127.0.0.1:8080"

// Config represents the complete plangate configuration.
type Config struct {
	Plans    []PlanConfig      `yaml:"plans" toml:"plans"`
	Keys     []keystore.APIKey `yaml:"keys" toml:"keys"`
	Security SecurityConfig    `yaml:"security" toml:"security"`
	Logging  LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics  metrics.Config    `yaml:"metrics" toml:"metrics"`
	Server   ServerConfig      `yaml:"server" toml:"server"`
	KeyStore keystore.Config   `yaml:"keystore" toml:"keystore"`
}

// ServerConfig defines server-level settings.
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`

	// Upstream is the base URL requests are forwarded to after a plan is
	// selected. When empty the gateway answers with the selection itself.
	Upstream string `yaml:"upstream" toml:"upstream"`

	TimeoutMS   int  `yaml:"timeout_ms" toml:"timeout_ms"`
	EnableHTTP2 bool `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// GetTimeoutOption returns the timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetUpstreamOption returns the upstream URL as an Option.
func (s *ServerConfig) GetUpstreamOption() mo.Option[string] {
	if s.Upstream == "" {
		return mo.None[string]()
	}
	return mo.Some(s.Upstream)
}

// SecurityConfig holds settings for the security handlers.
type SecurityConfig struct {
	APIKey APIKeyConfig `yaml:"api_key" toml:"api_key"`
}

// APIKeyConfig names where the api-key handler and policy read the key from.
// Both are fixed for the lifetime of the process; a reload does not change them.
type APIKeyConfig struct {
	Header string `yaml:"header" toml:"header"`
	Param  string `yaml:"param" toml:"param"`
}

// GetHeader returns the header name with default fallback.
func (a *APIKeyConfig) GetHeader() string {
	if a.Header == "" {
		return auth.DefaultAPIKeyHeader
	}
	return a.Header
}

// GetParam returns the query parameter name with default fallback.
func (a *APIKeyConfig) GetParam() string {
	if a.Param == "" {
		return auth.DefaultAPIKeyParam
	}
	return a.Param
}

// PlanConfig defines an access plan. Plans are evaluated in file order.
type PlanConfig struct {
	ID       string   `yaml:"id" toml:"id"`
	API      string   `yaml:"api" toml:"api"`
	Security string   `yaml:"security" toml:"security"` // api_key (default) or keyless
	Policies []string `yaml:"policies" toml:"policies"`

	// RateLimitRPM caps requests per minute per caller when the plan lists
	// the rate-limit policy. Zero means unlimited.
	RateLimitRPM int `yaml:"rate_limit_rpm" toml:"rate_limit_rpm"`
}

// GetEffectiveSecurity returns the security type, defaulting to api_key.
func (p *PlanConfig) GetEffectiveSecurity() string {
	if p.Security == "" {
		return auth.SecurityAPIKey
	}
	return p.Security
}

// ToPlan converts the configured plan to the chain's representation.
func (p *PlanConfig) ToPlan() auth.Plan {
	return auth.Plan{
		ID:       p.ID,
		API:      p.API,
		Security: p.GetEffectiveSecurity(),
		Policies: lo.Map(p.Policies, func(id string, _ int) auth.Policy {
			return auth.Policy(id)
		}),
	}
}

// AuthPlans returns the configured plans in evaluation order.
func (c *Config) AuthPlans() []auth.Plan {
	return lo.Map(c.Plans, func(p PlanConfig, _ int) auth.Plan {
		return p.ToPlan()
	})
}

// FindPlan returns the plan with the given ID.
func (c *Config) FindPlan(id string) mo.Option[PlanConfig] {
	p, ok := lo.Find(c.Plans, func(p PlanConfig) bool {
		return p.ID == id
	})
	if !ok {
		return mo.None[PlanConfig]()
	}
	return mo.Some(p)
}

// RateLimitFor returns the per-minute limit configured for a plan, or zero.
func (c *Config) RateLimitFor(planID string) int {
	return c.FindPlan(planID).
		OrEmpty().
		RateLimitRPM
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // enable colored console output
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
