package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the site directory.
const FileName = "quantumportal.yaml"

// Config represents the quantum portal configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Site    SiteConfig    `yaml:"site"`
	Content ContentConfig `yaml:"content"`
	Timing  TimingConfig  `yaml:"timing"`
	Session SessionConfig `yaml:"session"`
	Contact ContactConfig `yaml:"contact"`
	Metrics MetricsConfig `yaml:"metrics"`
	Admin   *AdminConfig  `yaml:"admin,omitempty"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	Debug       bool             `yaml:"debug"`
	BaseURL     string           `yaml:"base_url,omitempty"`     // Public URL used for canonical links and the sitemap
	CORSOrigins []string         `yaml:"cors_origins,omitempty"` // Allowed origins for the JSON API
	RateLimit   *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Compression *bool            `yaml:"compression,omitempty"` // gzip responses (default: true)
}

// RateLimitConfig holds per-IP rate limiting for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Rate limit in requests per second (default: 10)
	Burst             int     `yaml:"burst,omitempty"`               // Burst size (default: 20)
	MaxIPs            int     `yaml:"max_ips,omitempty"`             // Tracked client IPs (default: 10000)
}

// SiteConfig holds the metadata rendered into the page head
type SiteConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Image       string `yaml:"image,omitempty"`   // Open Graph image URL
	Author      string `yaml:"author,omitempty"`  // Organization name for JSON-LD
	Twitter     string `yaml:"twitter,omitempty"` // Twitter handle, e.g. "@quantumportal"
}

// ContentConfig points at translation overrides
type ContentConfig struct {
	Dir   string `yaml:"dir,omitempty"` // Directory with pl.yaml, en.yaml, fi.yaml (default: embedded content)
	Watch bool   `yaml:"watch"`         // Reload content when files change
}

// TimingConfig holds the demo delays as duration strings (e.g. "3s")
type TimingConfig struct {
	QubitReset        string `yaml:"qubit_reset,omitempty"`        // default: 3s
	BoxReveal         string `yaml:"box_reveal,omitempty"`         // default: 2s
	BoxReset          string `yaml:"box_reset,omitempty"`          // default: 3s
	CollapseScroll    string `yaml:"collapse_scroll,omitempty"`    // default: 1s
	RegisterSuperpose string `yaml:"register_superpose,omitempty"` // default: 1s
	RegisterCollapse  string `yaml:"register_collapse,omitempty"`  // default: 2s
}

// SessionConfig holds session lifecycle settings
type SessionConfig struct {
	IdleTTL     string  `yaml:"idle_ttl,omitempty"`     // default: 30m
	MaxSessions int     `yaml:"max_sessions,omitempty"` // default: 10000
	PointerRate float64 `yaml:"pointer_rate,omitempty"` // pointer updates per second (default: 30, negative disables the cap)
}

// ContactConfig configures contact form storage and notifications
type ContactConfig struct {
	Driver  string         `yaml:"driver,omitempty"` // "sqlite" or "postgres" (default: sqlite)
	DSN     string         `yaml:"dsn,omitempty"`    // default for sqlite: ./quantumportal.db (env vars expanded)
	Outputs []OutputConfig `yaml:"outputs,omitempty"`
	Retry   *RetryConfig   `yaml:"retry,omitempty"`
}

// OutputConfig configures one notification destination
type OutputConfig struct {
	Type    string `yaml:"type"`              // "slack" or "email"
	Channel string `yaml:"channel,omitempty"` // For slack
	To      string `yaml:"to,omitempty"`      // For email
	Subject string `yaml:"subject,omitempty"` // For email
}

// RetryConfig configures retry behavior for notifications
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 3)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "100ms"). Default: 100ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "5s"). Default: 5s
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"` // default: true
}

// AdminConfig protects the submissions listing
type AdminConfig struct {
	APIKey     string `yaml:"api_key,omitempty"`     // Supports ${ENV_VAR}
	HeaderName string `yaml:"header_name,omitempty"` // default: X-API-Key
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetQubitReset returns how long a measured qubit stays visible (default: 3s)
func (c TimingConfig) GetQubitReset() time.Duration {
	return parseDuration(c.QubitReset, 3*time.Second)
}

// GetBoxReveal returns the box opening time (default: 2s)
func (c TimingConfig) GetBoxReveal() time.Duration {
	return parseDuration(c.BoxReveal, 2*time.Second)
}

// GetBoxReset returns how long the box outcome stays visible (default: 3s)
func (c TimingConfig) GetBoxReset() time.Duration {
	return parseDuration(c.BoxReset, 3*time.Second)
}

// GetCollapseScroll returns the delay before scrolling to the observation section (default: 1s)
func (c TimingConfig) GetCollapseScroll() time.Duration {
	return parseDuration(c.CollapseScroll, time.Second)
}

// GetRegisterSuperpose returns the register time to superposition (default: 1s)
func (c TimingConfig) GetRegisterSuperpose() time.Duration {
	return parseDuration(c.RegisterSuperpose, time.Second)
}

// GetRegisterCollapse returns the register time from superposition to result (default: 2s)
func (c TimingConfig) GetRegisterCollapse() time.Duration {
	return parseDuration(c.RegisterCollapse, 2*time.Second)
}

// GetIdleTTL returns the session idle timeout (default: 30m)
func (c SessionConfig) GetIdleTTL() time.Duration {
	return parseDuration(c.IdleTTL, 30*time.Minute)
}

// GetMaxSessions returns the live session cap (default: 10000)
func (c SessionConfig) GetMaxSessions() int {
	if c.MaxSessions <= 0 {
		return 10000
	}
	return c.MaxSessions
}

// GetPointerRate returns the pointer update cap per second (default: 30).
// Zero means no cap.
func (c SessionConfig) GetPointerRate() float64 {
	switch {
	case c.PointerRate < 0:
		return 0
	case c.PointerRate == 0:
		return 30
	}
	return c.PointerRate
}

// GetDriver returns the contact store driver (default: sqlite)
func (c ContactConfig) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// GetDSN returns the data source name with environment variables expanded
func (c ContactConfig) GetDSN() string {
	if c.DSN == "" {
		if c.GetDriver() == "sqlite" {
			return "./quantumportal.db"
		}
		return ""
	}
	return os.ExpandEnv(c.DSN)
}

// GetRetryMaxRetries returns the max retries (default: 3, set to 0 to disable retries)
func (c ContactConfig) GetRetryMaxRetries() int {
	if c.Retry == nil || c.Retry.MaxRetries < 0 {
		return 3
	}
	return c.Retry.MaxRetries
}

// GetRetryBaseDelay returns the base delay (default: 100ms)
func (c ContactConfig) GetRetryBaseDelay() time.Duration {
	if c.Retry == nil {
		return 100 * time.Millisecond
	}
	return parseDuration(c.Retry.BaseDelay, 100*time.Millisecond)
}

// GetRetryMaxDelay returns the max delay (default: 5s)
func (c ContactConfig) GetRetryMaxDelay() time.Duration {
	if c.Retry == nil {
		return 5 * time.Second
	}
	return parseDuration(c.Retry.MaxDelay, 5*time.Second)
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c ServerConfig) GetRateLimitRPS() float64 {
	if c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c ServerConfig) GetRateLimitBurst() int {
	if c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetRateLimitMaxIPs returns the number of tracked client IPs (default: 10000)
func (c ServerConfig) GetRateLimitMaxIPs() int {
	if c.RateLimit == nil || c.RateLimit.MaxIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxIPs
}

// IsCompressionEnabled reports whether responses are gzipped (default: true)
func (c ServerConfig) IsCompressionEnabled() bool {
	return c.Compression == nil || *c.Compression
}

// Addr returns host:port for the listener
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetBaseURL returns the public URL without a trailing slash
func (c ServerConfig) GetBaseURL() string {
	if c.BaseURL == "" {
		return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	base := c.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base
}

// IsEnabled reports whether /metrics is served (default: true)
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsAdminEnabled returns true if an admin API key is configured
func (c *Config) IsAdminEnabled() bool {
	return c.Admin != nil && c.Admin.GetAPIKey() != ""
}

// GetAPIKey returns the configured API key with environment variable expansion
func (c *AdminConfig) GetAPIKey() string {
	if c == nil || c.APIKey == "" {
		return ""
	}
	return os.ExpandEnv(c.APIKey)
}

// GetHeaderName returns the header name for authentication (default: "X-API-Key")
func (c *AdminConfig) GetHeaderName() string {
	if c == nil || c.HeaderName == "" {
		return "X-API-Key"
	}
	return c.HeaderName
}

// Validate reports configuration values that cannot work
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Contact.GetDriver() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("contact.driver %q: must be sqlite or postgres", c.Contact.Driver)
	}
	if c.Contact.GetDriver() == "postgres" && c.Contact.GetDSN() == "" {
		return fmt.Errorf("contact.dsn is required for postgres")
	}
	for i, o := range c.Contact.Outputs {
		switch o.Type {
		case "slack":
			if o.Channel == "" {
				return fmt.Errorf("contact.outputs[%d]: slack channel is required", i)
			}
		case "email":
			if o.To == "" {
				return fmt.Errorf("contact.outputs[%d]: email recipient is required", i)
			}
		default:
			return fmt.Errorf("contact.outputs[%d]: unknown type %q", i, o.Type)
		}
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Site: SiteConfig{
			Title:       "Quantum Portal",
			Description: "An interactive journey through quantum physics",
			Author:      "Quantum Portal",
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir looks for quantumportal.yaml in the given directory
// If none is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
