package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ericfitz/collabd/internal/envutil"
	"github.com/ericfitz/collabd/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port" env:"SERVER_PORT"`
	Interface       string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	TLSEnabled      bool          `yaml:"tls_enabled" env:"SERVER_TLS_ENABLED"`
	TLSCertFile     string        `yaml:"tls_cert_file" env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile      string        `yaml:"tls_key_file" env:"SERVER_TLS_KEY_FILE"`
}

// DatabaseConfig selects and configures the durable stores. Type "none"
// disables SQL persistence; Redis is independent of Type.
type DatabaseConfig struct {
	Type        string          `yaml:"type" env:"DATABASE_TYPE"`
	AutoMigrate bool            `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
	Postgres    PostgresConfig  `yaml:"postgres"`
	MySQL       MySQLConfig     `yaml:"mysql"`
	SQLServer   SQLServerConfig `yaml:"sqlserver"`
	SQLite      SQLiteConfig    `yaml:"sqlite"`
	Oracle      OracleConfig    `yaml:"oracle"`
	Redis       RedisConfig     `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSL_MODE"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host" env:"MYSQL_HOST"`
	Port     string `yaml:"port" env:"MYSQL_PORT"`
	User     string `yaml:"user" env:"MYSQL_USER"`
	Password string `yaml:"password" env:"MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"MYSQL_DATABASE"`
}

// SQLServerConfig holds SQL Server configuration
type SQLServerConfig struct {
	Host     string `yaml:"host" env:"SQLSERVER_HOST"`
	Port     string `yaml:"port" env:"SQLSERVER_PORT"`
	User     string `yaml:"user" env:"SQLSERVER_USER"`
	Password string `yaml:"password" env:"SQLSERVER_PASSWORD"`
	Database string `yaml:"database" env:"SQLSERVER_DATABASE"`
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// OracleConfig holds Oracle configuration (requires the oracle build tag)
type OracleConfig struct {
	User           string `yaml:"user" env:"ORACLE_USER"`
	Password       string `yaml:"password" env:"ORACLE_PASSWORD"`
	ConnectString  string `yaml:"connect_string" env:"ORACLE_CONNECT_STRING"`
	WalletLocation string `yaml:"wallet_location" env:"ORACLE_WALLET_LOCATION"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host         string `yaml:"host" env:"REDIS_HOST"`
	Port         string `yaml:"port" env:"REDIS_PORT"`
	Password     string `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix    string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
	StreamMaxLen int64  `yaml:"stream_max_len" env:"REDIS_STREAM_MAX_LEN"`
}

// AuthConfig holds identity verification configuration
type AuthConfig struct {
	JWT        JWTConfig        `yaml:"jwt"`
	OIDC       OIDCConfig       `yaml:"oidc"`
	LocalToken LocalTokenConfig `yaml:"local_token"`
}

// JWTConfig configures verification of tokens issued by the external auth service
type JWTConfig struct {
	Enabled    bool     `yaml:"enabled" env:"JWT_ENABLED"`
	Secret     string   `yaml:"secret" env:"JWT_SECRET"`
	Issuer     string   `yaml:"issuer" env:"JWT_ISSUER"`
	Audience   string   `yaml:"audience" env:"JWT_AUDIENCE"`
	Algorithms []string `yaml:"algorithms" env:"JWT_ALGORITHMS"`
}

// OIDCConfig configures verification of ID tokens from an OpenID provider
type OIDCConfig struct {
	Enabled  bool   `yaml:"enabled" env:"OIDC_ENABLED"`
	Issuer   string `yaml:"issuer" env:"OIDC_ISSUER"`
	ClientID string `yaml:"client_id" env:"OIDC_CLIENT_ID"`
	JWKSURL  string `yaml:"jwks_url" env:"OIDC_JWKS_URL"`
}

// LocalTokenConfig configures the fallback base64 token format
type LocalTokenConfig struct {
	Enabled       bool   `yaml:"enabled" env:"LOCAL_TOKEN_ENABLED"`
	Secret        string `yaml:"secret" env:"LOCAL_TOKEN_SECRET"`
	AllowUnsigned bool   `yaml:"allow_unsigned" env:"LOCAL_TOKEN_ALLOW_UNSIGNED"`
}

// WebSocketConfig holds collaboration endpoint configuration
type WebSocketConfig struct {
	Path              string        `yaml:"path" env:"WEBSOCKET_PATH"`
	ReapInterval      time.Duration `yaml:"reap_interval" env:"WEBSOCKET_REAP_INTERVAL"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" env:"WEBSOCKET_INACTIVITY_TIMEOUT"`
	PingInterval      time.Duration `yaml:"ping_interval" env:"WEBSOCKET_PING_INTERVAL"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WEBSOCKET_WRITE_TIMEOUT"`
	MaxMessageSize    int64         `yaml:"max_message_size" env:"WEBSOCKET_MAX_MESSAGE_SIZE"`
	SendBufferSize    int           `yaml:"send_buffer_size" env:"WEBSOCKET_SEND_BUFFER_SIZE"`
	AllowedOrigins    []string      `yaml:"allowed_origins" env:"WEBSOCKET_ALLOWED_ORIGINS"`
	AutoJoinWorkspace bool          `yaml:"auto_join_workspace" env:"WEBSOCKET_AUTO_JOIN_WORKSPACE"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"WEBSOCKET_SHUTDOWN_TIMEOUT"`
}

// PersistenceConfig holds the fire-and-forget write queue configuration
type PersistenceConfig struct {
	QueueSize    int           `yaml:"queue_size" env:"PERSISTENCE_QUEUE_SIZE"`
	Workers      int           `yaml:"workers" env:"PERSISTENCE_WORKERS"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"PERSISTENCE_WRITE_TIMEOUT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level                       string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev                       bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	IsTest                      bool   `yaml:"is_test" env:"LOGGING_IS_TEST"`
	LogDir                      string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays                  int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB                   int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups                  int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole            bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
	LogWebSocketMsg             bool   `yaml:"log_websocket_messages" env:"LOGGING_LOG_WEBSOCKET_MESSAGES"`
	RedactAuthTokens            bool   `yaml:"redact_auth_tokens" env:"LOGGING_REDACT_AUTH_TOKENS"`
	SuppressUnauthenticatedLogs bool   `yaml:"suppress_unauthenticated_logs" env:"LOGGING_SUPPRESS_UNAUTH_LOGS"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName       string        `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	ServiceVersion    string        `yaml:"service_version" env:"OTEL_SERVICE_VERSION"`
	Environment       string        `yaml:"environment" env:"OTEL_ENVIRONMENT"`
	TracingEnabled    bool          `yaml:"tracing_enabled" env:"OTEL_TRACING_ENABLED"`
	TracingSampleRate float64       `yaml:"tracing_sample_rate" env:"OTEL_TRACING_SAMPLE_RATE"`
	TracingEndpoint   string        `yaml:"tracing_endpoint" env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	ConsoleExporter   bool          `yaml:"console_exporter" env:"OTEL_CONSOLE_EXPORTER"`
	MetricsEnabled    bool          `yaml:"metrics_enabled" env:"OTEL_METRICS_ENABLED"`
	MetricsEndpoint   string        `yaml:"metrics_endpoint" env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	MetricsInterval   time.Duration `yaml:"metrics_interval" env:"OTEL_METRICS_INTERVAL"`
	Insecure          bool          `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Default returns the built-in configuration without file or environment input
func Default() *Config {
	return getDefaultConfig()
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Interface:       "0.0.0.0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Type:        "none",
			AutoMigrate: true,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "postgres",
				Database: "collabd",
				SSLMode:  "disable",
			},
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     "3306",
				User:     "root",
				Database: "collabd",
			},
			SQLServer: SQLServerConfig{
				Host:     "localhost",
				Port:     "1433",
				User:     "sa",
				Database: "collabd",
			},
			SQLite: SQLiteConfig{
				Path: "collabd.db",
			},
			Redis: RedisConfig{
				Enabled:      false,
				Host:         "localhost",
				Port:         "6379",
				KeyPrefix:    "collabd:",
				StreamMaxLen: 100000,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Enabled:    true,
				Algorithms: []string{"HS256"},
			},
			LocalToken: LocalTokenConfig{
				Enabled: true,
			},
		},
		WebSocket: WebSocketConfig{
			Path:              "/ws",
			ReapInterval:      30 * time.Second,
			InactivityTimeout: 5 * time.Minute,
			PingInterval:      54 * time.Second,
			WriteTimeout:      10 * time.Second,
			MaxMessageSize:    64 * 1024,
			SendBufferSize:    256,
			AllowedOrigins:    []string{"*"},
			AutoJoinWorkspace: true,
			ShutdownTimeout:   10 * time.Second,
		},
		Persistence: PersistenceConfig{
			QueueSize:    1024,
			Workers:      4,
			WriteTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:                       "info",
			IsDev:                       false,
			LogDir:                      "",
			MaxAgeDays:                  7,
			MaxSizeMB:                   100,
			MaxBackups:                  10,
			AlsoLogToConsole:            true,
			RedactAuthTokens:            true,
			SuppressUnauthenticatedLogs: false,
		},
		Telemetry: TelemetryConfig{
			ServiceName:       "collabd",
			ServiceVersion:    "1.0.0",
			Environment:       "development",
			TracingEnabled:    false,
			TracingSampleRate: 1.0,
			MetricsEnabled:    true,
			MetricsInterval:   30 * time.Second,
			Insecure:          true,
		},
	}
}

func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv walks nested structs and applies every field whose
// env tag (or its COLLABD_-prefixed form) is set
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := envutil.Lookup(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(floatVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				slice = append(slice, trimmed)
			}
		}
		field.Set(reflect.ValueOf(slice))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when tls is enabled")
	}

	switch c.Database.Type {
	case "", "none":
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
	case "mysql":
		if c.Database.MySQL.Host == "" || c.Database.MySQL.Database == "" {
			return fmt.Errorf("mysql host and database are required")
		}
	case "sqlserver":
		if c.Database.SQLServer.Host == "" || c.Database.SQLServer.Database == "" {
			return fmt.Errorf("sqlserver host and database are required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "oracle":
		if c.Database.Oracle.ConnectString == "" {
			return fmt.Errorf("oracle connect string is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Database.Redis.Enabled && (c.Database.Redis.Host == "" || c.Database.Redis.Port == "") {
		return fmt.Errorf("redis host and port are required when redis is enabled")
	}

	if !c.Auth.JWT.Enabled && !c.Auth.OIDC.Enabled && !c.Auth.LocalToken.Enabled {
		return fmt.Errorf("at least one identity verifier must be enabled")
	}
	if c.Auth.JWT.Enabled && c.Auth.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required when jwt verification is enabled")
	}
	if c.Auth.OIDC.Enabled && (c.Auth.OIDC.Issuer == "" || c.Auth.OIDC.ClientID == "") {
		return fmt.Errorf("oidc issuer and client id are required when oidc is enabled")
	}
	if c.Auth.LocalToken.Enabled && c.Auth.LocalToken.Secret == "" && !c.Auth.LocalToken.AllowUnsigned {
		return fmt.Errorf("local token secret is required unless allow_unsigned is set")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket path must start with /")
	}
	if c.WebSocket.ReapInterval <= 0 {
		return fmt.Errorf("websocket reap interval must be positive")
	}
	if c.WebSocket.InactivityTimeout < 15*time.Second {
		return fmt.Errorf("websocket inactivity timeout must be at least 15 seconds")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.InactivityTimeout {
		return fmt.Errorf("websocket ping interval must be positive and shorter than the inactivity timeout")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket send buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket max message size must be positive")
	}

	if c.Persistence.QueueSize <= 0 || c.Persistence.Workers <= 0 {
		return fmt.Errorf("persistence queue size and workers must be positive")
	}

	if c.Telemetry.TracingSampleRate < 0 || c.Telemetry.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0.0 and 1.0, got %f", c.Telemetry.TracingSampleRate)
	}

	return nil
}

// IsTestMode returns true if running in test mode
func (c *Config) IsTestMode() bool {
	return c.Logging.IsTest || flag.Lookup("test.v") != nil
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// ListenAddress returns interface:port for the HTTP server
func (c *Config) ListenAddress() string {
	return c.Server.Interface + ":" + c.Server.Port
}

// LoggerConfig maps the logging section onto slogging.Config
func (c *Config) LoggerConfig() slogging.Config {
	return slogging.Config{
		Level:                       c.GetLogLevel(),
		IsDev:                       c.Logging.IsDev,
		LogDir:                      c.Logging.LogDir,
		MaxAgeDays:                  c.Logging.MaxAgeDays,
		MaxSizeMB:                   c.Logging.MaxSizeMB,
		MaxBackups:                  c.Logging.MaxBackups,
		AlsoLogToConsole:            c.Logging.AlsoLogToConsole,
		SuppressUnauthenticatedLogs: c.Logging.SuppressUnauthenticatedLogs,
	}
}

// WebSocketLogging maps the logging section onto frame-level logging options
func (c *Config) WebSocketLogging() slogging.WebSocketLoggingConfig {
	return slogging.WebSocketLoggingConfig{
		Enabled:        c.Logging.LogWebSocketMsg,
		RedactTokens:   c.Logging.RedactAuthTokens,
		MaxMessageSize: c.WebSocket.MaxMessageSize,
	}
}
