// Package config provides configuration loading, parsing, and validation for plangate.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/keystore"
	"github.com/omarluq/plangate/internal/policy"
)

// Valid plan security types.
var validSecurityTypes = map[string]bool{
	"":                   true, // Empty defaults to api_key
	auth.SecurityAPIKey:  true,
	auth.SecurityKeyless: true,
}

// Known policy IDs a plan may list.
var validPolicies = map[string]bool{
	string(auth.PolicyAPIKey):      true,
	string(policy.PolicyRateLimit): true,
}

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// It validates all required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateSecurity(c, errs)
	validatePlans(c, errs)
	validateKeyStore(c, errs)
	validateKeys(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Listen == "" {
		errs.Addf("server.listen is required")
	} else {
		validateListenAddress(c.Server.Listen, errs)
	}

	if c.Server.TimeoutMS < 0 {
		errs.Addf("server.timeout_ms must be >= 0")
	}

	if c.Server.Upstream != "" {
		u, err := url.Parse(c.Server.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Addf("server.upstream must be an absolute URL (got %q)", c.Server.Upstream)
		}
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}

	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " \t\n") {
		errs.Addf("server.listen host contains invalid characters")
	}

	// SplitHostPort doesn't validate this
	if port == "" {
		errs.Addf("server.listen port is required")
	}
}

// validateSecurity validates header and parameter names.
func validateSecurity(c *Config, errs *ValidationError) {
	if strings.ContainsAny(c.Security.APIKey.Header, " \t\r\n:") {
		errs.Addf("security.api_key.header is not a valid header name (got %q)", c.Security.APIKey.Header)
	}
	if strings.ContainsAny(c.Security.APIKey.Param, " \t\r\n&=") {
		errs.Addf("security.api_key.param is not a valid query parameter (got %q)", c.Security.APIKey.Param)
	}
}

// validatePlans validates the plans section.
func validatePlans(c *Config, errs *ValidationError) {
	if len(c.Plans) == 0 {
		errs.Addf("at least one plan is required")
		return
	}

	seen := make(map[string]bool)
	for i := range c.Plans {
		validatePlan(&c.Plans[i], i, seen, errs)
	}
}

// validatePlan validates a single plan.
func validatePlan(p *PlanConfig, index int, seen map[string]bool, errs *ValidationError) {
	prefix := func(field string) string {
		if p.ID != "" {
			return fmt.Sprintf("plan[%s].%s", p.ID, field)
		}
		return fmt.Sprintf("plans[%d].%s", index, field)
	}

	if p.ID == "" {
		errs.Addf("plans[%d].id is required", index)
	} else {
		if seen[p.ID] {
			errs.Addf("duplicate plan id: %s", p.ID)
		}
		seen[p.ID] = true
	}

	if !validSecurityTypes[p.Security] {
		errs.Addf("%s is invalid (got %q, valid: api_key, keyless)", prefix("security"), p.Security)
	}

	for _, id := range p.Policies {
		if !validPolicies[id] {
			errs.Addf("%s contains unknown policy %q", prefix("policies"), id)
		}
	}

	if p.RateLimitRPM < 0 {
		errs.Addf("%s must be >= 0 (got %d)", prefix("rate_limit_rpm"), p.RateLimitRPM)
	}
}

// validateKeyStore delegates to the key store's own validation.
func validateKeyStore(c *Config, errs *ValidationError) {
	if err := c.KeyStore.Validate(); err != nil {
		errs.Merge(err)
	}
}

// validateKeys validates seeded key records.
func validateKeys(c *Config, errs *ValidationError) {
	if c.KeyStore.GetEffectiveMode() == keystore.ModeMemory {
		if limit := c.KeyStore.Memory.GetMaxKeys(); int64(len(c.Keys)) > limit {
			errs.Addf("keys: %d keys exceed keystore.memory.max_keys (%d)", len(c.Keys), limit)
		}
	}

	seen := make(map[string]bool)
	for i, k := range c.Keys {
		if k.Key == "" {
			errs.Addf("keys[%d].key is required", i)
			continue
		}
		if seen[k.Key] {
			errs.Addf("keys[%d].key is a duplicate", i)
		}
		seen[k.Key] = true

		if k.Plan == "" {
			errs.Addf("keys[%d].plan is required", i)
		} else if c.FindPlan(k.Plan).IsAbsent() {
			errs.Addf("keys[%d].plan references unknown plan %q", i, k.Plan)
		}
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}

	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			c.Logging.Format)
	}
}
