package client

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Scheme is the URL scheme of relay addresses.
const Scheme = "chat"

const (
	defaultChunkSize = 1024
	defaultLogLevel  = "INFO"
)

var validate = validator.New()

// Config holds client settings. Every field can come from a CHAT_CLIENT_*
// variable; command line arguments override them.
type Config struct {
	User        string `env:"CHAT_CLIENT_USER" validate:"required,max=64,excludesall=0x2C"`
	Server      string `env:"CHAT_CLIENT_SERVER" validate:"required"`
	Follow      string `env:"CHAT_CLIENT_FOLLOW"`
	UploadDir   string `env:"CHAT_CLIENT_UPLOAD_DIR,default=."`
	DownloadDir string `env:"CHAT_CLIENT_DOWNLOAD_DIR,default=."`
	ChunkSize   int    `env:"CHAT_CLIENT_CHUNK_SIZE,default=1024" validate:"gte=1"`
	LogLevel    string `env:"CHAT_CLIENT_LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// ConfigFromEnv reads the CHAT_CLIENT_* variables. The result is not
// validated: callers usually layer flags on top first.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Validate normalizes and checks cfg.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := ParseServerURL(c.Server); err != nil {
		return err
	}
	return nil
}

// FollowTerms splits the comma separated Follow setting.
func (c Config) FollowTerms() []string {
	return lo.Compact(lo.Map(strings.Split(c.Follow, ","), func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))
}

// ParseServerURL turns chat://host:port into a dialable host:port.
func ParseServerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}
	if u.Scheme != Scheme || u.Hostname() == "" || u.Port() == "" {
		return "", ErrInvalidServerURL
	}
	return net.JoinHostPort(u.Hostname(), u.Port()), nil
}
