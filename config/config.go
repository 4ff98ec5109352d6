// Package config loads the gateway configuration from defaults, an optional
// YAML file and CHAT_* environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
)

// Default values for configuration
const (
	DefaultServerAddr     = ":8080"
	DefaultMaxMessageSize = 4096
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultPingPeriod     = (DefaultPongWait * 9) / 10 // must be less than PongWait

	DefaultNatsURL       = "nats://localhost:4222"
	DefaultStreamName    = "CHAT_EVENTS"
	DefaultSubjectPrefix = "chat.events"
	DefaultStreamMaxAge  = 24 * time.Hour

	DefaultUpstreamURL     = "http://localhost:8000"
	DefaultUpstreamTimeout = 10 * time.Second
	DefaultNewerPageSize   = 20

	DefaultHighlightDuration = 4 * time.Second

	DefaultCachePath   = "stream_cache.db"
	DefaultCacheMaxAge = 7 * 24 * time.Hour

	DefaultLogLevel = "info"
)

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"             validate:"required"`
	MaxMessageSize int64         `mapstructure:"max_message_size" validate:"gt=0"`
	WriteWait      time.Duration `mapstructure:"write_wait"       validate:"gt=0"`
	PongWait       time.Duration `mapstructure:"pong_wait"        validate:"gt=0"`
	PingPeriod     time.Duration `mapstructure:"ping_period"      validate:"gt=0,ltfield=PongWait"`
}

type NatsConfig struct {
	URL           string        `mapstructure:"url"            validate:"required"`
	StreamName    string        `mapstructure:"stream_name"    validate:"required"`
	SubjectPrefix string        `mapstructure:"subject_prefix" validate:"required"`
	MaxAge        time.Duration `mapstructure:"max_age"        validate:"gte=0"`
}

type UpstreamConfig struct {
	BaseURL       string        `mapstructure:"base_url"        validate:"required,url"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"      validate:"required_with=APIKey"`
	Timeout       time.Duration `mapstructure:"timeout"         validate:"min=100ms,max=5m"`
	NewerPageSize int           `mapstructure:"newer_page_size" validate:"min=1,max=500"`
}

type StreamConfig struct {
	HighlightDuration time.Duration `mapstructure:"highlight_duration" validate:"gt=0"`
}

// CacheConfig controls persistence of fetched windows. An empty Path keeps
// the cache in memory only.
type CacheConfig struct {
	Path   string        `mapstructure:"path"`
	MaxAge time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// Config is the complete gateway configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

// Load reads configuration from:
// 1. Default values
// 2. path, or config.yaml in the working directory when path is empty
// 3. CHAT_* environment variables (CHAT_NATS_URL, CHAT_UPSTREAM_API_KEY, ...)
//
// A missing config.yaml is fine; a missing explicit path is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigError("failed to read config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.max_message_size", DefaultMaxMessageSize)
	v.SetDefault("server.write_wait", DefaultWriteWait)
	v.SetDefault("server.pong_wait", DefaultPongWait)
	v.SetDefault("server.ping_period", DefaultPingPeriod)

	v.SetDefault("nats.url", DefaultNatsURL)
	v.SetDefault("nats.stream_name", DefaultStreamName)
	v.SetDefault("nats.subject_prefix", DefaultSubjectPrefix)
	v.SetDefault("nats.max_age", DefaultStreamMaxAge)

	// Empty defaults register the keys so AutomaticEnv can fill them.
	v.SetDefault("upstream.base_url", DefaultUpstreamURL)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.api_secret", "")
	v.SetDefault("upstream.timeout", DefaultUpstreamTimeout)
	v.SetDefault("upstream.newer_page_size", DefaultNewerPageSize)

	v.SetDefault("stream.highlight_duration", DefaultHighlightDuration)

	v.SetDefault("cache.path", DefaultCachePath)
	v.SetDefault("cache.max_age", DefaultCacheMaxAge)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", false)
}
