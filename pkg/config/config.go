// Package config loads the psmigrate configuration file: source and
// destination endpoints, retry and rate-limit policy knobs, the optional
// standards workspace override, and telemetry settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

const (
	appName    = "psmigrate"
	configFile = "config.yaml"
)

// SourceConfig identifies the Project Online tenant being migrated from.
type SourceConfig struct {
	// SiteURL is the PWA site root, e.g. https://contoso.sharepoint.com/sites/pwa.
	SiteURL string `yaml:"site_url" validate:"required,url"`

	// TenantID is the directory tenant used for device authorization.
	TenantID string `yaml:"tenant_id" validate:"required"`

	// ClientID is the application registration used for device authorization.
	ClientID string `yaml:"client_id" validate:"required"`

	// PageSize bounds each OData page ($top).
	PageSize int `yaml:"page_size" validate:"gte=1,lte=1000"`
}

// DestinationConfig identifies the Smartsheet account being migrated into.
type DestinationConfig struct {
	// APIBase is the destination API root.
	APIBase string `yaml:"api_base" validate:"required,url"`

	// AccessToken authenticates destination calls. May also be supplied via
	// the SMARTSHEET_ACCESS_TOKEN environment variable.
	AccessToken string `yaml:"access_token"`
}

// StandardsConfig configures the shared standards workspace.
type StandardsConfig struct {
	// WorkspaceID is an externally supplied workspace identity. When set, the
	// loader validates and reuses it instead of creating one.
	WorkspaceID int64 `yaml:"workspace_id"`

	// WorkspaceName names the standards workspace when it has to be created.
	WorkspaceName string `yaml:"workspace_name"`
}

// RetryConfig tunes the resilience layer's retry policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	Multiplier     float64       `yaml:"multiplier" validate:"gte=1"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction" validate:"gte=0,lte=1"`
}

// RateLimitConfig tunes the outbound request governor.
type RateLimitConfig struct {
	// PerMinute is the request ceiling. Leaving it unset uses the default;
	// an explicit zero disables limiting.
	PerMinute *int `yaml:"per_minute" validate:"omitempty,gte=0"`
	Burst     int  `yaml:"burst" validate:"gte=0"`
}

// JournalConfig configures the local run journal.
type JournalConfig struct {
	// Path is the sqlite database file. Empty uses the default location
	// under the user config dir.
	Path string `yaml:"path"`
}

// Config is the full application configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Destination DestinationConfig `yaml:"destination"`
	Standards   StandardsConfig   `yaml:"standards"`
	Retry       RetryConfig       `yaml:"retry"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Journal     JournalConfig     `yaml:"journal"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName), nil
}

// Path returns the default configuration file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads and validates the configuration from path. An empty path uses
// the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			PageSize: 200,
		},
		Destination: DestinationConfig{
			APIBase: "https://api.smartsheet.com/2.0",
		},
		Standards: StandardsConfig{
			WorkspaceName: "Migration Standards",
		},
		Retry: RetryConfig{
			MaxAttempts:    5,
			BaseDelay:      time.Second,
			Multiplier:     2,
			MaxDelay:       time.Minute,
			JitterFraction: 0.25,
		},
		RateLimit: RateLimitConfig{
			PerMinute: intPtr(300),
			Burst:     10,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// applyDefaults backfills zero values the YAML file left out.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Source.PageSize == 0 {
		c.Source.PageSize = d.Source.PageSize
	}
	if c.Destination.APIBase == "" {
		c.Destination.APIBase = d.Destination.APIBase
	}
	if c.Destination.AccessToken == "" {
		c.Destination.AccessToken = os.Getenv("SMARTSHEET_ACCESS_TOKEN")
	}
	if c.Standards.WorkspaceName == "" {
		c.Standards.WorkspaceName = d.Standards.WorkspaceName
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = d.Retry
	}
	if c.RateLimit.PerMinute == nil {
		c.RateLimit.PerMinute = d.RateLimit.PerMinute
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = d.RateLimit.Burst
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry = d.Telemetry
	}
}

func intPtr(v int) *int { return &v }

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Destination.AccessToken == "" {
		return fmt.Errorf("invalid configuration: destination access token is not set")
	}
	return c.Telemetry.Validate()
}

// JournalPath returns the run journal location, creating its directory.
func (c *Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "runs.db"), nil
}
