// Package config loads graphsub settings from a config file, GRAPHSUB_*
// environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// GRAPHSUB_SERVER_ADDR for server.addr.
const EnvPrefix = "GRAPHSUB"

// ServerConfig defines the HTTP endpoint parameters
type ServerConfig struct {
	// Addr is the listen address
	Addr string `mapstructure:"addr" json:"addr" validate:"required"`
	// Path is the GraphQL endpoint path
	Path string `mapstructure:"path" json:"path" validate:"required,startswith=/"`
	// Timeout bounds a single request. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" validate:"gte=0"`
	// Pretty indents JSON responses
	Pretty bool `mapstructure:"pretty" json:"pretty"`
	// MaxBodyBytes limits request bodies. Zero disables it.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes" validate:"gte=0"`
	// MetadataHeaders are forwarded into the subscriber's stored context
	MetadataHeaders []string `mapstructure:"metadata_headers" json:"metadata_headers"`
	// CORSOrigins lists allowed origins; "*" allows all
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// SchemaConfig locates the GraphQL SDL
type SchemaConfig struct {
	Path string `mapstructure:"path" json:"path" validate:"required"`
}

// SQLiteConfig defines the sqlite store parameters
type SQLiteConfig struct {
	DSN string `mapstructure:"dsn" json:"dsn" validate:"required"`
}

// RedisConfig defines the redis store parameters
type RedisConfig struct {
	Addr   string        `mapstructure:"addr" json:"addr" validate:"required"`
	Prefix string        `mapstructure:"prefix" json:"prefix"`
	TTL    time.Duration `mapstructure:"ttl" json:"ttl" validate:"gte=0"`
}

// StoreConfig selects and configures the subscriber store
type StoreConfig struct {
	Driver string       `mapstructure:"driver" json:"driver" validate:"oneof=memory sqlite redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis" json:"redis"`
}

// LogConfig defines logger parameters
type LogConfig struct {
	Level       string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development" json:"development"`
}

// OtelConfig defines trace export parameters. An empty endpoint disables
// export.
type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	Service  string `mapstructure:"service" json:"service" validate:"required"`
}

// Config is the complete graphsub configuration
type Config struct {
	Server        ServerConfig         `mapstructure:"server" json:"server"`
	Schema        SchemaConfig         `mapstructure:"schema" json:"schema"`
	Subscriptions subscriptions.Config `mapstructure:"subscriptions" json:"subscriptions"`
	Store         StoreConfig          `mapstructure:"store" json:"store"`
	Log           LogConfig            `mapstructure:"log" json:"log"`
	Otel          OtelConfig           `mapstructure:"otel" json:"otel"`
}

// InstallDefaults installs default config parameters in v
func InstallDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.path", "/graphql")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("server.pretty", false)
	v.SetDefault("server.max_body_bytes", 0)
	v.SetDefault("server.metadata_headers", []string{})
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("schema.path", "")

	v.SetDefault("subscriptions.version", subscriptions.DefaultConfig().Version)
	v.SetDefault("subscriptions.exclude_empty", false)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite.dsn", "file:graphsub.db")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.prefix", "graphsub:")
	v.SetDefault("store.redis.ttl", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service", "graphsub")
}

// New returns a viper instance with defaults and environment overrides
// installed.
func New() *viper.Viper {
	v := viper.New()
	InstallDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the file at path (if non-empty) on top of the defaults, applies
// overrides in order and returns the validated configuration.
func Load(path string, overrides ...func(*viper.Viper)) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for _, o := range overrides {
		o(v)
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
