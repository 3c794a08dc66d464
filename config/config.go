// Package config loads the gateway configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Transports accepted by TRANSPORT.
const (
	TransportFastHTTP = "fasthttp"
	TransportNetHTTP  = "nethttp"
)

// Config holds the gateway configuration. Fields without a matching
// environment variable keep the value from DefaultConfig.
type Config struct {
	Host      string `env:"HOST"`
	Port      int    `env:"PORT" validate:"min=1,max=65535"`
	Transport string `env:"TRANSPORT" validate:"oneof=fasthttp nethttp"`
	LogLevel  string `env:"LOG_LEVEL"`

	JWTSecret string        `env:"JWT_SECRET,required=true" validate:"required,min=16"`
	JWTLeeway time.Duration `env:"JWT_LEEWAY" validate:"min=0"`

	MaxConnections  int           `env:"MAX_CONNECTIONS" validate:"min=0"`
	PingInterval    time.Duration `env:"PING_INTERVAL" validate:"gt=0,ltfield=ReadTimeout"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" validate:"gt=0"`
	ReadBufferSize  int           `env:"READ_BUFFER_SIZE" validate:"gt=0"`
	WriteBufferSize int           `env:"WRITE_BUFFER_SIZE" validate:"gt=0"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE" validate:"gt=0"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	// RateLimit is off by default; when set, frames above it are dropped.
	RateLimit       float64       `env:"RATE_LIMIT_PER_SECOND" validate:"min=0"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" validate:"min=0"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS"`

	// AdminToken enables the operator routes when set.
	AdminToken string `env:"ADMIN_TOKEN" validate:"omitempty,min=16"`

	BadgerPath string `env:"BADGER_PATH"`

	RedisEnabled  bool   `env:"REDIS_ENABLED"`
	RedisAddr     string `env:"REDIS_ADDR" validate:"required_if=RedisEnabled true"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"min=0"`
	RedisPrefix   string `env:"REDIS_WS_PREFIX"`
}

var validate = validator.New()

// DefaultConfig returns the default gateway configuration. JWTSecret is left
// empty and must be provided.
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Transport:       TransportFastHTTP,
		LogLevel:        "info",
		MaxConnections:  1000,
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		MaxMessageSize:  64 << 10,
		AllowedOrigins:  "*",
		RedisAddr:       "localhost:6379",
		RedisPrefix:     "realtime:ws:",
	}
}

// Load reads the configuration from the process environment on top of the
// defaults and validates it.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid config: LOG_LEVEL: %w", err)
	}
	return nil
}

// Address returns host:port for the listener.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins returns the allowed origins. A "*" entry allows any origin.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.ToLower(strings.TrimRight(o, "/")))
		}
	}
	return out
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
