// Package config defines the top-level configuration for the foresight
// platform and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FORESIGHT_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Websearch WebsearchConfig `toml:"websearch"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the market
// archive. Archiving is skipped entirely when Enabled is false.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OpenAIConfig holds LLM API credentials and model selection.
type OpenAIConfig struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	CompletionModel string `toml:"completion_model"`
	EmbeddingModel  string `toml:"embedding_model"`
}

// WebsearchConfig holds parameters for the public search clients.
type WebsearchConfig struct {
	Timeout duration `toml:"timeout"`
}

// PipelineConfig holds analysis scheduler parameters.
type PipelineConfig struct {
	Enabled             bool     `toml:"enabled"`
	LightweightInterval duration `toml:"lightweight_interval"`
	DailyCheckInterval  duration `toml:"daily_check_interval"`
	DailyEvery          duration `toml:"daily_every"`
	CloseWindow         duration `toml:"close_window"`
	MaxConcurrent       int      `toml:"max_concurrent"`
}

// SynthesisConfig holds prediction pipeline parameters: completion budget,
// prediction cache lifetime, and similar-market lookup bounds.
type SynthesisConfig struct {
	MaxTokens         int      `toml:"max_tokens"`
	Temperature       float64  `toml:"temperature"`
	CompletionTimeout duration `toml:"completion_timeout"`
	CacheTTL          duration `toml:"cache_ttl"`
	MinSimilarity     float64  `toml:"min_similarity"`
	MaxSimilar        int      `toml:"max_similar"`
}

// ArbitrageConfig holds divergence detection thresholds.
type ArbitrageConfig struct {
	Enabled              bool    `toml:"enabled"`
	AIMarketThreshold    float64 `toml:"ai_market_threshold"`
	CrowdAIThreshold     float64 `toml:"crowd_ai_threshold"`
	CrowdMarketThreshold float64 `toml:"crowd_market_threshold"`
	ThreeWayThreshold    float64 `toml:"three_way_threshold"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "foresight",
			User:          "foresight",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "foresight-archive",
			ForcePathStyle: true,
		},
		OpenAI: OpenAIConfig{
			CompletionModel: "gpt-4o-mini",
			EmbeddingModel:  "text-embedding-3-small",
		},
		Websearch: WebsearchConfig{
			Timeout: duration{15 * time.Second},
		},
		Pipeline: PipelineConfig{
			Enabled:             true,
			LightweightInterval: duration{15 * time.Minute},
			DailyCheckInterval:  duration{time.Hour},
			DailyEvery:          duration{24 * time.Hour},
			CloseWindow:         duration{72 * time.Hour},
			MaxConcurrent:       4,
		},
		Synthesis: SynthesisConfig{
			MaxTokens:         1500,
			Temperature:       0.2,
			CompletionTimeout: duration{60 * time.Second},
			CacheTTL:          duration{15 * time.Minute},
			MinSimilarity:     0.55,
			MaxSimilar:        5,
		},
		Arbitrage: ArbitrageConfig{
			Enabled:              true,
			AIMarketThreshold:    0.15,
			CrowdAIThreshold:     0.20,
			CrowdMarketThreshold: 0.15,
			ThreeWayThreshold:    0.25,
		},
		Notify: NotifyConfig{
			Events: []string{"arbitrage_signal", "market_resolved"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"analyze": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, analyze, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit <= 0 {
			errs = append(errs, "server: rate_limit must be positive")
		}
		if c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.User == "" {
			errs = append(errs, "postgres: user must not be empty (or set postgres.dsn)")
		}
	}
	if c.Postgres.PoolMaxConns > 0 && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// OpenAI — the analysis pipeline cannot run without credentials.
	needsLLM := c.Mode == "analyze" || c.Mode == "full"
	if needsLLM && c.OpenAI.APIKey == "" {
		errs = append(errs, "openai: api_key is required for mode "+c.Mode)
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when s3 is enabled")
		}
	}

	// Pipeline
	if c.Pipeline.Enabled {
		if c.Pipeline.LightweightInterval.Duration <= 0 {
			errs = append(errs, "pipeline: lightweight_interval must be positive")
		}
		if c.Pipeline.DailyCheckInterval.Duration <= 0 {
			errs = append(errs, "pipeline: daily_check_interval must be positive")
		}
		if c.Pipeline.DailyEvery.Duration <= 0 {
			errs = append(errs, "pipeline: daily_every must be positive")
		}
		if c.Pipeline.CloseWindow.Duration <= 0 {
			errs = append(errs, "pipeline: close_window must be positive")
		}
		if c.Pipeline.MaxConcurrent <= 0 {
			errs = append(errs, "pipeline: max_concurrent must be positive")
		}
	}

	// Synthesis
	if c.Synthesis.Temperature < 0 || c.Synthesis.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("synthesis: temperature must be 0-2, got %g", c.Synthesis.Temperature))
	}
	if c.Synthesis.MinSimilarity < 0 || c.Synthesis.MinSimilarity > 1 {
		errs = append(errs, fmt.Sprintf("synthesis: min_similarity must be 0-1, got %g", c.Synthesis.MinSimilarity))
	}

	// Arbitrage thresholds are probability gaps.
	if c.Arbitrage.Enabled {
		for name, v := range map[string]float64{
			"ai_market_threshold":    c.Arbitrage.AIMarketThreshold,
			"crowd_ai_threshold":     c.Arbitrage.CrowdAIThreshold,
			"crowd_market_threshold": c.Arbitrage.CrowdMarketThreshold,
			"three_way_threshold":    c.Arbitrage.ThreeWayThreshold,
		} {
			if v <= 0 || v >= 1 {
				errs = append(errs, fmt.Sprintf("arbitrage: %s must be between 0 and 1 exclusive, got %g", name, v))
			}
		}
	}

	// Notify — Telegram credentials must be set together, or both empty.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
