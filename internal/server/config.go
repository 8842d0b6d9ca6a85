// Package server provides configuration helpers that define runtime defaults,
// layered overrides, and validation for the chat relay.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

const (
	defaultListenAddr        = ":0"
	defaultHTTPAddr          = ":8080"
	defaultMaxFollowTerms    = 128
	defaultMaxAttachmentSize = 64 << 20
	defaultChunkSize         = 32 << 10
	defaultSendBufferSize    = 256
	defaultBacklogSize       = 4096
	defaultShutdownTimeout   = 5 * time.Second
	defaultLogLevel          = "INFO"
)

var validate = validator.New()

// RateLimitConfig defines per-connection throttling of chat lines. A zero
// Burst disables the limiter.
type RateLimitConfig struct {
	Burst          int           `toml:"burst" validate:"gte=0"`
	RefillInterval time.Duration `toml:"refill_interval" validate:"gte=0"`
}

// Config holds the relay settings. The zero value is not usable: start
// from NewConfig or LoadConfig.
type Config struct {
	ListenAddr        string          `toml:"listen_addr" validate:"required"`
	HTTPAddr          string          `toml:"http_addr"`
	AllowedOrigins    []string        `toml:"allowed_origins"`
	MaxLineLength     int             `toml:"max_line_length" validate:"gte=64"`
	MaxFollowTerms    int             `toml:"max_follow_terms" validate:"gte=1"`
	MaxAttachmentSize int64           `toml:"max_attachment_size" validate:"gte=0"`
	ChunkSize         int             `toml:"chunk_size" validate:"gte=512"`
	SendBufferSize    int             `toml:"send_buffer_size" validate:"gte=1"`
	BacklogSize       int             `toml:"backlog_size" validate:"gte=1"`
	RateLimit         RateLimitConfig `toml:"rate_limit"`
	WriteTimeout      time.Duration   `toml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration   `toml:"shutdown_timeout" validate:"gt=0"`
	LogLevel          string          `toml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// envOverrides mirrors Config for CHAT_* variables. Unset variables stay
// nil and leave the matching setting alone.
type envOverrides struct {
	ListenAddr        *string `env:"CHAT_LISTEN_ADDR"`
	HTTPAddr          *string `env:"CHAT_HTTP_ADDR"`
	AllowedOrigins    *string `env:"CHAT_ALLOWED_ORIGINS"`
	MaxLineLength     *int    `env:"CHAT_MAX_LINE_LENGTH"`
	MaxFollowTerms    *int    `env:"CHAT_MAX_FOLLOW_TERMS"`
	MaxAttachmentSize *int64  `env:"CHAT_MAX_ATTACHMENT_SIZE"`
	ChunkSize         *int    `env:"CHAT_CHUNK_SIZE"`
	SendBufferSize    *int    `env:"CHAT_SEND_BUFFER_SIZE"`
	BacklogSize       *int    `env:"CHAT_BACKLOG_SIZE"`
	RateLimitBurst    *int    `env:"CHAT_RATE_LIMIT_BURST"`
	RateLimitInterval *string `env:"CHAT_RATE_LIMIT_INTERVAL"`
	WriteTimeout      *string `env:"CHAT_WRITE_TIMEOUT"`
	ShutdownTimeout   *string `env:"CHAT_SHUTDOWN_TIMEOUT"`
	LogLevel          *string `env:"CHAT_LOG_LEVEL"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		HTTPAddr:   defaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxLineLength:     protocol.DefaultMaxLineLength,
		MaxFollowTerms:    defaultMaxFollowTerms,
		MaxAttachmentSize: defaultMaxAttachmentSize,
		ChunkSize:         defaultChunkSize,
		SendBufferSize:    defaultSendBufferSize,
		BacklogSize:       defaultBacklogSize,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        defaultLogLevel,
	}
}

// sanitizeConfig replaces zero values with defaults and normalizes lists.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = def.MaxLineLength
	}
	if cfg.MaxFollowTerms <= 0 {
		cfg.MaxFollowTerms = def.MaxFollowTerms
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = def.BacklogSize
	}
	if cfg.RateLimit.Burst > 0 && cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	cfg.AllowedOrigins = lo.Compact(lo.Map(cfg.AllowedOrigins, func(o string, _ int) string {
		return strings.TrimSpace(o)
	}))
	return cfg
}

// Validate checks the settings against their documented bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv returns the defaults overridden by CHAT_* environment
// variables.
func NewConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

// LoadConfig layers an optional TOML file and then the environment over
// the defaults. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the process
// environment. A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	setIfPresent(&cfg.ListenAddr, o.ListenAddr)
	setIfPresent(&cfg.HTTPAddr, o.HTTPAddr)
	setIfPresent(&cfg.MaxLineLength, o.MaxLineLength)
	setIfPresent(&cfg.MaxFollowTerms, o.MaxFollowTerms)
	setIfPresent(&cfg.MaxAttachmentSize, o.MaxAttachmentSize)
	setIfPresent(&cfg.ChunkSize, o.ChunkSize)
	setIfPresent(&cfg.SendBufferSize, o.SendBufferSize)
	setIfPresent(&cfg.BacklogSize, o.BacklogSize)
	setIfPresent(&cfg.RateLimit.Burst, o.RateLimitBurst)
	setIfPresent(&cfg.LogLevel, o.LogLevel)
	if o.AllowedOrigins != nil {
		cfg.AllowedOrigins = parseOrigins(*o.AllowedOrigins)
	}

	durations := []struct {
		name  string
		value *string
		dst   *time.Duration
	}{
		{"CHAT_RATE_LIMIT_INTERVAL", o.RateLimitInterval, &cfg.RateLimit.RefillInterval},
		{"CHAT_WRITE_TIMEOUT", o.WriteTimeout, &cfg.WriteTimeout},
		{"CHAT_SHUTDOWN_TIMEOUT", o.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("config error: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setIfPresent[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return lo.Compact(parts)
}
