package bridge

import "github.com/orchestra-mcp/realtime/config"

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Addr     string // Redis address, default "localhost:6379"
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
	Prefix   string // Channel prefix, default "realtime:ws:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "realtime:ws:",
	}
}

// RedisConfigFrom takes the Redis settings out of the gateway configuration.
// Empty values fall back to defaults.
func RedisConfigFrom(cfg *config.Config) *RedisConfig {
	rc := DefaultRedisConfig()
	if cfg.RedisAddr != "" {
		rc.Addr = cfg.RedisAddr
	}
	rc.Password = cfg.RedisPassword
	rc.DB = cfg.RedisDB
	if cfg.RedisPrefix != "" {
		rc.Prefix = cfg.RedisPrefix
	}
	return rc
}

// BroadcastChannel carries group events between gateway instances.
func (c *RedisConfig) BroadcastChannel() string { return c.Prefix + "broadcast" }

// NotifyChannel carries realtime events published by other backends.
func (c *RedisConfig) NotifyChannel() string { return c.Prefix + "notify" }
