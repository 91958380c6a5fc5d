// Package config loads and validates the citasync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// APIURL is the base URL of the appointment API
	// (e.g. "https://api.example.com/api/v1").
	APIURL string `yaml:"api_url"`

	// APIToken is the bearer token sent with every API request.
	// Optional; leave empty for unauthenticated deployments.
	APIToken string `yaml:"api_token,omitempty"`

	// PollInterval controls how often connectivity is probed.
	// Minimum 1s, maximum 5m. Defaults to 3s if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RequestTimeout bounds every single API call.
	// Minimum 1s, maximum 1m. Defaults to 10s if unset.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ProbeURL is the endpoint hit by the connectivity probe.
	// Defaults to "<api_url>/appointments".
	ProbeURL string `yaml:"probe_url,omitempty"`

	// DBPath overrides the queue database location.
	// Defaults to ~/.local/share/citasync/queue.db.
	DBPath string `yaml:"db_path,omitempty"`

	// AutoSync controls whether regaining connectivity triggers a sync
	// automatically. Defaults to true; set to false for manual-only sync.
	AutoSync *bool `yaml:"auto_sync,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "citasync".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Typical use: authentication tokens, e.g.
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// AutoSyncEnabled resolves the AutoSync default.
func (c *Config) AutoSyncEnabled() bool {
	return c.AutoSync == nil || *c.AutoSync
}

// DefaultPath returns the default config file path: ~/.config/citasync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "citasync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.ParseRequestURI(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api_url %q must be a valid http or https URL", c.APIURL)
	}

	if c.PollInterval == 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 1s)", c.PollInterval)
	}
	if c.PollInterval > 5*time.Minute {
		return fmt.Errorf("poll_interval %v is too long (maximum 5m)", c.PollInterval)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout %v is too short (minimum 1s)", c.RequestTimeout)
	}
	if c.RequestTimeout > time.Minute {
		return fmt.Errorf("request_timeout %v is too long (maximum 1m)", c.RequestTimeout)
	}

	if c.ProbeURL == "" {
		c.ProbeURL = c.APIURL + "/appointments"
	} else if pu, err := url.ParseRequestURI(c.ProbeURL); err != nil || (pu.Scheme != "http" && pu.Scheme != "https") {
		return fmt.Errorf("probe_url %q must be a valid http or https URL", c.ProbeURL)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
