package utils

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEncryptionKey is the built-in credential encryption secret. It is
// only safe for development; UsesDefaultEncryptionKey reports when it is live.
const DefaultEncryptionKey = "default-encryption-key-change-in-production"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Security  SecurityConfig  `mapstructure:"security"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig represents HTTP listener configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// SecurityConfig holds the secret credentials are encrypted with
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ProvidersConfig holds provider endpoints used when settings leave them empty
type ProvidersConfig struct {
	OpenAIBaseURL    string `mapstructure:"openai_base_url"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	AnthropicVersion string `mapstructure:"anthropic_version"`
	OllamaBaseURL    string `mapstructure:"ollama_base_url"`
}

// ChatConfig bounds outbound provider calls
type ChatConfig struct {
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst      int           `mapstructure:"rate_burst"`
	CatalogTimeout time.Duration `mapstructure:"catalog_timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Path   string `mapstructure:"path"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// SetDefaults registers every configuration key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("data.db_path", filepath.Join(".", "data", "chat.db"))

	v.SetDefault("security.encryption_key", DefaultEncryptionKey)

	v.SetDefault("providers.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.anthropic_base_url", "https://api.anthropic.com/v1")
	v.SetDefault("providers.anthropic_version", "2023-06-01")
	v.SetDefault("providers.ollama_base_url", "http://localhost:11434")

	v.SetDefault("chat.max_tokens", 1000)
	v.SetDefault("chat.timeout", 120*time.Second)
	v.SetDefault("chat.rate_limit", 0.0)
	v.SetDefault("chat.rate_burst", 1)
	v.SetDefault("chat.catalog_timeout", 15*time.Second)

	v.SetDefault("log.path", GetLogPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindEnv maps CHATUI_* variables onto configuration keys. The unprefixed
// ENCRYPTION_KEY and PORT variables are honoured as well.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("chatui")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("security.encryption_key", "CHATUI_SECURITY_ENCRYPTION_KEY", "ENCRYPTION_KEY"); err != nil {
		return fmt.Errorf("failed to bind encryption key env: %w", err)
	}
	if err := v.BindEnv("server.port", "CHATUI_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("failed to bind port env: %w", err)
	}
	return nil
}

// LoadConfig reads the optional config file into v and decodes the result
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(expandPath(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	config.Data.DBPath = expandPath(config.Data.DBPath)
	config.Log.Path = expandPath(config.Log.Path)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for values the server cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port)}
	}
	if c.Data.DBPath == "" {
		return &ValidationError{Field: "data.db_path", Message: "must not be empty"}
	}
	if c.Security.EncryptionKey == "" {
		return &ValidationError{Field: "security.encryption_key", Message: "must not be empty"}
	}
	if c.Chat.MaxTokens <= 0 {
		return &ValidationError{Field: "chat.max_tokens", Message: "must be positive"}
	}
	if c.Chat.RateLimit < 0 {
		return &ValidationError{Field: "chat.rate_limit", Message: "must not be negative"}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return &ValidationError{Field: "log.level", Message: err.Error()}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// UsesDefaultEncryptionKey reports whether credentials are encrypted with
// the built-in development secret
func (c *Config) UsesDefaultEncryptionKey() bool {
	return c.Security.EncryptionKey == DefaultEncryptionKey
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// Make absolute
	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}
