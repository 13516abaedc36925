package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FORESIGHT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FORESIGHT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "FORESIGHT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FORESIGHT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FORESIGHT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FORESIGHT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FORESIGHT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FORESIGHT_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FORESIGHT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "FORESIGHT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FORESIGHT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FORESIGHT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FORESIGHT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FORESIGHT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FORESIGHT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FORESIGHT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FORESIGHT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FORESIGHT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FORESIGHT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FORESIGHT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FORESIGHT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FORESIGHT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FORESIGHT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FORESIGHT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FORESIGHT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FORESIGHT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FORESIGHT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FORESIGHT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FORESIGHT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FORESIGHT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FORESIGHT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FORESIGHT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FORESIGHT_S3_FORCE_PATH_STYLE")

	// ── OpenAI ──
	setStr(&cfg.OpenAI.APIKey, "FORESIGHT_OPENAI_API_KEY")
	setStr(&cfg.OpenAI.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.OpenAI.BaseURL, "FORESIGHT_OPENAI_BASE_URL")
	setStr(&cfg.OpenAI.CompletionModel, "FORESIGHT_OPENAI_COMPLETION_MODEL")
	setStr(&cfg.OpenAI.EmbeddingModel, "FORESIGHT_OPENAI_EMBEDDING_MODEL")

	// ── Websearch ──
	setDuration(&cfg.Websearch.Timeout, "FORESIGHT_WEBSEARCH_TIMEOUT")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "FORESIGHT_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.LightweightInterval, "FORESIGHT_PIPELINE_LIGHTWEIGHT_INTERVAL")
	setDuration(&cfg.Pipeline.DailyCheckInterval, "FORESIGHT_PIPELINE_DAILY_CHECK_INTERVAL")
	setDuration(&cfg.Pipeline.DailyEvery, "FORESIGHT_PIPELINE_DAILY_EVERY")
	setDuration(&cfg.Pipeline.CloseWindow, "FORESIGHT_PIPELINE_CLOSE_WINDOW")
	setInt(&cfg.Pipeline.MaxConcurrent, "FORESIGHT_PIPELINE_MAX_CONCURRENT")

	// ── Synthesis ──
	setInt(&cfg.Synthesis.MaxTokens, "FORESIGHT_SYNTHESIS_MAX_TOKENS")
	setFloat64(&cfg.Synthesis.Temperature, "FORESIGHT_SYNTHESIS_TEMPERATURE")
	setDuration(&cfg.Synthesis.CompletionTimeout, "FORESIGHT_SYNTHESIS_COMPLETION_TIMEOUT")
	setDuration(&cfg.Synthesis.CacheTTL, "FORESIGHT_SYNTHESIS_CACHE_TTL")
	setFloat64(&cfg.Synthesis.MinSimilarity, "FORESIGHT_SYNTHESIS_MIN_SIMILARITY")
	setInt(&cfg.Synthesis.MaxSimilar, "FORESIGHT_SYNTHESIS_MAX_SIMILAR")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "FORESIGHT_ARBITRAGE_ENABLED")
	setFloat64(&cfg.Arbitrage.AIMarketThreshold, "FORESIGHT_ARBITRAGE_AI_MARKET_THRESHOLD")
	setFloat64(&cfg.Arbitrage.CrowdAIThreshold, "FORESIGHT_ARBITRAGE_CROWD_AI_THRESHOLD")
	setFloat64(&cfg.Arbitrage.CrowdMarketThreshold, "FORESIGHT_ARBITRAGE_CROWD_MARKET_THRESHOLD")
	setFloat64(&cfg.Arbitrage.ThreeWayThreshold, "FORESIGHT_ARBITRAGE_THREE_WAY_THRESHOLD")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FORESIGHT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FORESIGHT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FORESIGHT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FORESIGHT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FORESIGHT_MODE")
	setStr(&cfg.LogLevel, "FORESIGHT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
