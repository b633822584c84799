package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns defaults with the secrets Validate requires
func validConfig() *Config {
	cfg := getDefaultConfig()
	cfg.Auth.JWT.Secret = "jwt-secret"
	cfg.Auth.LocalToken.Secret = "local-secret"
	return cfg
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// =============================================================================
// Default Config Tests
// =============================================================================

func TestGetDefaultConfig(t *testing.T) {
	config := getDefaultConfig()

	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Interface)
	assert.Equal(t, "0.0.0.0:8080", config.ListenAddress())

	assert.Equal(t, "none", config.Database.Type)
	assert.False(t, config.Database.Redis.Enabled)
	assert.Equal(t, "collabd:", config.Database.Redis.KeyPrefix)

	assert.True(t, config.Auth.JWT.Enabled)
	assert.Equal(t, []string{"HS256"}, config.Auth.JWT.Algorithms)
	assert.True(t, config.Auth.LocalToken.Enabled)
	assert.False(t, config.Auth.LocalToken.AllowUnsigned)

	assert.Equal(t, "/ws", config.WebSocket.Path)
	assert.Equal(t, 30*time.Second, config.WebSocket.ReapInterval)
	assert.Equal(t, 5*time.Minute, config.WebSocket.InactivityTimeout)
	assert.Equal(t, 256, config.WebSocket.SendBufferSize)
	assert.True(t, config.WebSocket.AutoJoinWorkspace)

	assert.Equal(t, 1024, config.Persistence.QueueSize)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "collabd", config.Telemetry.ServiceName)
}

func TestIsTestMode(t *testing.T) {
	config := &Config{}
	assert.True(t, config.IsTestMode(), "go test registers test.v")
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
server:
  port: "9090"
auth:
  jwt:
    secret: from-yaml
  local_token:
    secret: local
websocket:
  reap_interval: 10s
  inactivity_timeout: 2m
  allowed_origins:
    - https://app.example.com
database:
  type: sqlite
  sqlite:
    path: /tmp/collab.db
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, "from-yaml", config.Auth.JWT.Secret)
	assert.Equal(t, 10*time.Second, config.WebSocket.ReapInterval)
	assert.Equal(t, 2*time.Minute, config.WebSocket.InactivityTimeout)
	assert.Equal(t, []string{"https://app.example.com"}, config.WebSocket.AllowedOrigins)
	assert.Equal(t, "sqlite", config.Database.Type)
	// untouched keys keep their defaults
	assert.Equal(t, "/ws", config.WebSocket.Path)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, `
server:
  port: "9090"
auth:
  jwt:
    secret: from-yaml
  local_token:
    secret: local
`)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("COLLABD_JWT_SECRET", "from-env")
	t.Setenv("WEBSOCKET_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("OTEL_TRACING_SAMPLE_RATE", "0.25")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", config.Server.Port)
	assert.Equal(t, "from-env", config.Auth.JWT.Secret)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, config.WebSocket.AllowedOrigins)
	assert.InDelta(t, 0.25, config.Telemetry.TracingSampleRate, 1e-9)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeYAML(t, "server: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("invalid env value", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s")
		t.Setenv("LOCAL_TOKEN_SECRET", "s")
		t.Setenv("WEBSOCKET_REAP_INTERVAL", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("defaults without secrets fail validation", func(t *testing.T) {
		_, err := Load("")
		assert.Error(t, err)
	})
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"tls without files", func(c *Config) { c.Server.TLSEnabled = true }, true},
		{"unknown database type", func(c *Config) { c.Database.Type = "cassandra" }, true},
		{"sqlite without path", func(c *Config) { c.Database.Type = "sqlite"; c.Database.SQLite.Path = "" }, true},
		{"postgres with defaults", func(c *Config) { c.Database.Type = "postgres" }, false},
		{"oracle without connect string", func(c *Config) { c.Database.Type = "oracle" }, true},
		{"redis without host", func(c *Config) { c.Database.Redis.Enabled = true; c.Database.Redis.Host = "" }, true},
		{"no verifiers", func(c *Config) {
			c.Auth.JWT.Enabled = false
			c.Auth.OIDC.Enabled = false
			c.Auth.LocalToken.Enabled = false
		}, true},
		{"jwt without secret", func(c *Config) { c.Auth.JWT.Secret = "" }, true},
		{"oidc without issuer", func(c *Config) { c.Auth.OIDC.Enabled = true }, true},
		{"unsigned local tokens allowed", func(c *Config) {
			c.Auth.LocalToken.Secret = ""
			c.Auth.LocalToken.AllowUnsigned = true
		}, false},
		{"relative websocket path", func(c *Config) { c.WebSocket.Path = "ws" }, true},
		{"short inactivity timeout", func(c *Config) { c.WebSocket.InactivityTimeout = 5 * time.Second }, true},
		{"ping longer than timeout", func(c *Config) { c.WebSocket.PingInterval = 10 * time.Minute }, true},
		{"zero send buffer", func(c *Config) { c.WebSocket.SendBufferSize = 0 }, true},
		{"zero workers", func(c *Config) { c.Persistence.Workers = 0 }, true},
		{"sample rate above one", func(c *Config) { c.Telemetry.TracingSampleRate = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// Reflection Helper Tests
// =============================================================================

func TestSetFieldFromString(t *testing.T) {
	var target struct {
		S  string
		B  bool
		I  int
		I6 int64
		D  time.Duration
		F  float64
		L  []string
		M  map[string]string
	}
	v := reflect.ValueOf(&target).Elem()

	require.NoError(t, setFieldFromString(v.FieldByName("S"), "hello"))
	require.NoError(t, setFieldFromString(v.FieldByName("B"), "true"))
	require.NoError(t, setFieldFromString(v.FieldByName("I"), "42"))
	require.NoError(t, setFieldFromString(v.FieldByName("I6"), "9000000000"))
	require.NoError(t, setFieldFromString(v.FieldByName("D"), "1m30s"))
	require.NoError(t, setFieldFromString(v.FieldByName("F"), "0.5"))
	require.NoError(t, setFieldFromString(v.FieldByName("L"), "a, b,,c"))

	assert.Equal(t, "hello", target.S)
	assert.True(t, target.B)
	assert.Equal(t, 42, target.I)
	assert.Equal(t, int64(9000000000), target.I6)
	assert.Equal(t, 90*time.Second, target.D)
	assert.InDelta(t, 0.5, target.F, 1e-9)
	assert.Equal(t, []string{"a", "b", "c"}, target.L)

	assert.Error(t, setFieldFromString(v.FieldByName("B"), "maybe"))
	assert.Error(t, setFieldFromString(v.FieldByName("I"), "x"))
	assert.Error(t, setFieldFromString(v.FieldByName("M"), "k=v"))
}

func TestLoggerConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.LogWebSocketMsg = true

	lc := cfg.LoggerConfig()
	assert.Equal(t, slogging.LogLevelDebug, lc.Level)
	assert.Equal(t, cfg.Logging.MaxBackups, lc.MaxBackups)

	wc := cfg.WebSocketLogging()
	assert.True(t, wc.Enabled)
	assert.Equal(t, cfg.WebSocket.MaxMessageSize, wc.MaxMessageSize)
}

// =============================================================================
// CLI Tests
// =============================================================================

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--config", "prod.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "prod.yaml", flags.ConfigFile)
	assert.False(t, flags.GenerateConfig)

	flags, err = ParseFlags([]string{"--generate-config", "-o", "out.yaml"})
	require.NoError(t, err)
	assert.True(t, flags.GenerateConfig)
	assert.Equal(t, "out.yaml", flags.OutputFile)

	_, err = ParseFlags([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestGenerateExampleConfig_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateExampleConfig(&buf))

	path := writeYAML(t, buf.String())
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("LOCAL_TOKEN_SECRET", "local-secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, validConfig(), loaded)
}
