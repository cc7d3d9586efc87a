// Package config provides configuration loading using koanf.
// Follows env → AWS SDK → defaults precedence.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// Config holds all service configuration.
// In production, the keys checked by validateRequired cause startup failure
// if missing.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Broker holds the ops-runner HTTP surface (healthz, pprof-style
	// diagnostics) exposed by cmd/broker.
	Broker BrokerConfig `koanf:"broker"`

	// Domain-facing sub-configs (§6 config table).
	Upstream    UpstreamConfig    `koanf:"upstream"`
	SecretStore SecretStoreConfig `koanf:"secretstore"`
	Bot         BotConfig         `koanf:"bot"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Cache       CacheConfig       `koanf:"cache"`
	Marking     MarkingConfig     `koanf:"marking"`
	Alert       AlertConfig       `koanf:"alert"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// BrokerConfig holds the broker process's own ops-surface configuration.
type BrokerConfig struct {
	HTTPPort int `koanf:"http_port"`
}

// UpstreamConfig holds the Upstream Client's per-call deadline. §6:
// `http_timeout_seconds`.
type UpstreamConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// SecretStoreConfig selects and parameterizes the Secret Store Adapter
// (component A). §6: `encryption_key`. Exactly one of KMSKeyID or
// LocalKeyHex should be set; KMSKeyID takes precedence when both are.
type SecretStoreConfig struct {
	KMSKeyID    string `koanf:"kms_key_id"`
	LocalKeyHex string `koanf:"local_key_hex"`
}

// BotConfig holds the chat-bot HTTP API credentials the Notification
// Limiter and Mass-Marking Engine need to send out-of-band messages. §6: `bot_token`,
// `super_admin_id`, `trusted_service_api_key`.
type BotConfig struct {
	Token                string `koanf:"token"`
	SuperAdminID         string `koanf:"super_admin_id"`
	TrustedServiceAPIKey string `koanf:"trusted_service_api_key"`
}

// RateLimitConfig holds the process-wide rate limiter's per-identifier
// request limit per minute. §6: `rate_limit_requests_per_minute`.
type RateLimitConfig struct {
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// CacheConfig holds the Session Cache's optional derived-data TTL. §6:
// `cache_ttl_seconds`.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// MarkingConfig holds the Mass-Marking Engine's session retention floor.
// §6: `session_ttl_seconds`.
type MarkingConfig struct {
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// AlertConfig holds the operator-facing SNS topic that CredentialCorruption
// and other conditions no end user should see (§7) are published to.
// Empty in local development — alerts are logged instead.
type AlertConfig struct {
	TopicARN string `koanf:"topic_arn"`
}

// DynamoDBConfig holds DynamoDB configuration. §6: `database_dsn`,
// `db_pool_min`/`db_pool_max`.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout  time.Duration `koanf:"timeout"`
	PoolMin  int           `koanf:"pool_min"`
	PoolMax  int           `koanf:"pool_max"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values, matching the
// normative limits in internal/domain/constants.go.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		Broker: BrokerConfig{
			HTTPPort: 8080,
		},

		Upstream: UpstreamConfig{
			Timeout: domain.UpstreamPOSTTimeout,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: domain.DefaultRateLimitPerMinute,
		},
		Marking: MarkingConfig{
			SessionTTL: domain.MarkingSessionTTL,
		},

		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
			PoolMin: domain.StorePoolMin,
			PoolMax: domain.StorePoolMax,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. AWS SDK (Secrets Manager / SSM) - resolved by the adapters themselves
// 3. Compiled defaults (lowest)
//
// Required keys missing in production → startup failure; optional keys
// missing → fallback to defaults.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	// Start with compiled defaults
	cfg := defaults()

	// Load environment variables
	// Prefix: none (we use full names like DYNAMODB_ENDPOINT)
	// Delimiter: the first _ after a section name maps to . for nested config
	// (SECRETSTORE_LOCAL_KEY_HEX → secretstore.local_key_hex); any other _
	// stays part of the key name (LOG_LEVEL → log_level).
	sections := []string{"broker", "upstream", "secretstore", "bot", "rate_limit", "cache", "marking", "alert", "dynamodb", "redis", "aws", "otel"}
	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		for _, section := range sections {
			if rest, ok := strings.CutPrefix(key, section+"_"); ok {
				return section + "." + rest
			}
		}
		return key
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, most fields have sensible defaults
	if cfg.Environment == "local" {
		return nil
	}

	// In production, certain fields are required
	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if cfg.SecretStore.KMSKeyID == "" && cfg.SecretStore.LocalKeyHex == "" {
			return fmt.Errorf("%w: secretstore.kms_key_id or secretstore.local_key_hex", domain.ErrConfigRequired)
		}
		if cfg.Bot.Token == "" {
			return fmt.Errorf("%w: bot.token", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
