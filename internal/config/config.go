// Package config loads tendril settings from tendril.yaml, TENDRIL_*
// environment variables and defaults, in increasing order of precedence:
// defaults < file < environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/adapters/ai"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TENDRIL_STORE_TYPE.
const EnvPrefix = "TENDRIL"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrMissingRedisAddr = errors.New("store.redis.addr is required for the redis store")
	ErrMissingDSN       = errors.New("store.postgres.dsn is required for the postgres store")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrInvalidTelegram  = errors.New("invalid telegram settings")
)

// Config holds all runtime configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	FlowsDir  string `mapstructure:"flows_dir"`

	HTTP      HTTPConfig             `mapstructure:"http"`
	Store     StoreConfig            `mapstructure:"store"`
	AI        AIConfig               `mapstructure:"ai"`
	Messenger MessengerConfig        `mapstructure:"messenger"`
	Telegram  TelegramConfig         `mapstructure:"telegram"`
	Channels  []router.ChannelConfig `mapstructure:"channels"`
}

type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxInputSize int    `mapstructure:"max_input_size"`
	Metrics      bool   `mapstructure:"metrics"`
}

type StoreConfig struct {
	Type     string         `mapstructure:"type"`
	TTL      time.Duration  `mapstructure:"ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	// EncryptionKey is a base64 AES-256 key. When set, collected variables
	// and inbound text are encrypted at rest.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// AIConfig is the provider connection plus the engine-wide model defaults.
type AIConfig struct {
	ai.Config `mapstructure:",squash"`

	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
}

// Enabled reports whether a provider is configured.
func (c AIConfig) Enabled() bool { return c.Provider != "" }

// Engine returns the defaults applied to ai nodes.
func (c AIConfig) Engine() domain.AIConfig {
	return domain.AIConfig{
		Provider:     c.Provider,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
	}
}

type MessengerConfig struct {
	VerifyToken string `mapstructure:"verify_token"`
	AppSecret   string `mapstructure:"app_secret"`
	BaseURL     string `mapstructure:"base_url"`
}

// TelegramConfig enables long polling for the channel ChannelID, whose
// access_token is the bot token.
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ChannelID   string `mapstructure:"channel_id"`
	PollTimeout int    `mapstructure:"poll_timeout"`
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// Load reads configuration. When path is empty, tendril.yaml is searched
// in the working directory, ./config and $HOME/.tendril; a missing file
// is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tendril")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.tendril")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("flows_dir", "flows")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_input_size", router.DefaultMaxInputSize)
	v.SetDefault("http.metrics", true)

	v.SetDefault("store.type", StoreMemory)
	v.SetDefault("store.ttl", time.Duration(0))
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.fallback_keys", []string{})
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "tendril:")
	v.SetDefault("store.redis.lock_ttl", 30*time.Second)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table_prefix", "")

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.system_prompt", "")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 1024)

	v.SetDefault("messenger.verify_token", "")
	v.SetDefault("messenger.app_secret", "")
	v.SetDefault("messenger.base_url", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.channel_id", "telegram")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.api_endpoint", "")
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.LogFormat)
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return ErrMissingRedisAddr
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreType, c.Store.Type)
	}
	if _, err := c.Encryption(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("%w: channels[%d] has no id", ErrInvalidChannel, i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidChannel, ch.ID)
		}
		seen[ch.ID] = true
	}

	if c.Telegram.Enabled {
		if !seen[c.Telegram.ChannelID] {
			return fmt.Errorf("%w: channel %q is not configured", ErrInvalidTelegram, c.Telegram.ChannelID)
		}
		if c.Telegram.PollTimeout < 0 {
			return fmt.Errorf("%w: negative poll timeout", ErrInvalidTelegram)
		}
	}
	return nil
}

// Encryption returns the store encryption keys, or nil when encryption
// is disabled.
func (c *Config) Encryption() (*middleware.EncryptionConfig, error) {
	if c.Store.EncryptionKey == "" {
		return nil, nil
	}
	active, err := middleware.ParseKey(c.Store.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	enc := &middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range c.Store.FallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return enc, nil
}

// Channel returns the channel with the given id.
func (c *Config) Channel(id string) (router.ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return router.ChannelConfig{}, false
}
