package config

import (
	"fmt"
	"strings"
)

const (
	// DefaultAPIListen is the default listen address of the status API.
	DefaultAPIListen = ":9090"

	// DefaultRequestsPerMinute is the default per-IP request budget.
	DefaultRequestsPerMinute = 120
)

// APIConfig contains the status API server configuration.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Admin       AdminConfig     `yaml:"admin,omitempty" mapstructure:"admin"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AdminConfig guards the admin endpoints with HTTP basic auth.
type AdminConfig struct {
	Enabled bool        `yaml:"enabled" mapstructure:"enabled"`
	Users   []AdminUser `yaml:"users,omitempty" mapstructure:"users"`
}

// AdminUser is a basic auth user. PasswordHash is a bcrypt hash.
type AdminUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

func (a *APIConfig) applyDefaults() {
	if a.Listen == "" {
		a.Listen = DefaultAPIListen
	}

	if a.RateLimit.Enabled && a.RateLimit.RequestsPerMinute == 0 {
		a.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
}

func (a *APIConfig) validate() error {
	if a.RateLimit.Enabled && a.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate_limit.requests_per_minute must be at least 1")
	}

	if !a.Admin.Enabled {
		return nil
	}

	if len(a.Admin.Users) == 0 {
		return fmt.Errorf("admin: at least one user is required when enabled")
	}

	for i, u := range a.Admin.Users {
		if u.Username == "" {
			return fmt.Errorf("admin user %d: username is required", i)
		}

		if !strings.HasPrefix(u.PasswordHash, "$2") {
			return fmt.Errorf("admin user %q: password_hash must be a bcrypt hash", u.Username)
		}
	}

	return nil
}

// HistoryConfig enables the run history index.
type HistoryConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}
