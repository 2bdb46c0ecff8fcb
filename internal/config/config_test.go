package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingDefaults(t *testing.T) {
	var c TimingConfig
	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"qubit reset", c.GetQubitReset(), 3 * time.Second},
		{"box reveal", c.GetBoxReveal(), 2 * time.Second},
		{"box reset", c.GetBoxReset(), 3 * time.Second},
		{"collapse scroll", c.GetCollapseScroll(), time.Second},
		{"register superpose", c.GetRegisterSuperpose(), time.Second},
		{"register collapse", c.GetRegisterCollapse(), 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestTimingParsing(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"empty", "", 3 * time.Second},
		{"invalid", "soon", 3 * time.Second},
		{"negative", "-1s", 3 * time.Second},
		{"milliseconds", "500ms", 500 * time.Millisecond},
		{"seconds", "10s", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := TimingConfig{QubitReset: tt.value}
			if got := c.GetQubitReset(); got != tt.expected {
				t.Errorf("GetQubitReset() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSessionConfigGetters(t *testing.T) {
	var c SessionConfig
	assert.Equal(t, 30*time.Minute, c.GetIdleTTL())
	assert.Equal(t, 10000, c.GetMaxSessions())
	assert.Equal(t, 30.0, c.GetPointerRate())

	c = SessionConfig{IdleTTL: "5m", MaxSessions: 3, PointerRate: -1}
	assert.Equal(t, 5*time.Minute, c.GetIdleTTL())
	assert.Equal(t, 3, c.GetMaxSessions())
	assert.Equal(t, 0.0, c.GetPointerRate())
}

func TestContactConfigGetters(t *testing.T) {
	var c ContactConfig
	assert.Equal(t, "sqlite", c.GetDriver())
	assert.Equal(t, "./quantumportal.db", c.GetDSN())
	assert.Equal(t, 3, c.GetRetryMaxRetries())
	assert.Equal(t, 100*time.Millisecond, c.GetRetryBaseDelay())
	assert.Equal(t, 5*time.Second, c.GetRetryMaxDelay())

	t.Setenv("QP_TEST_DSN", "postgres://db/portal")
	c = ContactConfig{
		Driver: "postgres",
		DSN:    "${QP_TEST_DSN}",
		Retry:  &RetryConfig{MaxRetries: 0, BaseDelay: "10ms", MaxDelay: "1s"},
	}
	assert.Equal(t, "postgres://db/portal", c.GetDSN())
	assert.Equal(t, 0, c.GetRetryMaxRetries())
	assert.Equal(t, 10*time.Millisecond, c.GetRetryBaseDelay())
	assert.Equal(t, time.Second, c.GetRetryMaxDelay())
}

func TestServerConfigGetters(t *testing.T) {
	c := ServerConfig{Host: "localhost", Port: 8080}
	assert.Equal(t, 10.0, c.GetRateLimitRPS())
	assert.Equal(t, 20, c.GetRateLimitBurst())
	assert.Equal(t, 10000, c.GetRateLimitMaxIPs())
	assert.True(t, c.IsCompressionEnabled())
	assert.Equal(t, "localhost:8080", c.Addr())
	assert.Equal(t, "http://localhost:8080", c.GetBaseURL())

	off := false
	c.Compression = &off
	c.BaseURL = "https://quantum.example.com/"
	assert.False(t, c.IsCompressionEnabled())
	assert.Equal(t, "https://quantum.example.com", c.GetBaseURL())
}

func TestAdminConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.IsAdminEnabled())

	t.Setenv("QP_ADMIN_KEY", "secret")
	cfg.Admin = &AdminConfig{APIKey: "${QP_ADMIN_KEY}"}
	assert.True(t, cfg.IsAdminEnabled())
	assert.Equal(t, "secret", cfg.Admin.GetAPIKey())
	assert.Equal(t, "X-API-Key", cfg.Admin.GetHeaderName())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad driver", func(c *Config) { c.Contact.Driver = "mysql" }, "contact.driver"},
		{"postgres without dsn", func(c *Config) { c.Contact.Driver = "postgres" }, "contact.dsn"},
		{"slack without channel", func(c *Config) {
			c.Contact.Outputs = []OutputConfig{{Type: "slack"}}
		}, "slack channel"},
		{"unknown output", func(c *Config) {
			c.Contact.Outputs = []OutputConfig{{Type: "pager"}}
		}, "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg, "missing file yields defaults")

	yamlContent := `
server:
  port: 9090
site:
  title: Kvanttiportaali
timing:
  qubit_reset: 1500ms
session:
  max_sessions: 50
contact:
  outputs:
    - type: slack
      channel: "#contact"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yamlContent), 0644))

	cfg, err = LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, "Kvanttiportaali", cfg.Site.Title)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timing.GetQubitReset())
	assert.Equal(t, 50, cfg.Session.GetMaxSessions())
	require.Len(t, cfg.Contact.Outputs, 1)
	assert.Equal(t, "#contact", cfg.Contact.Outputs[0].Channel)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Server.Port = 7000
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, loaded.Server.Port)
}
