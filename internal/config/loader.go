package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "PREDEX_"

// Load reads the TOML configuration file at path over the built-in defaults,
// then the profile overlay <dir>/<profile>.toml when profile is set and the
// file exists, then PREDEX_* environment variables (a .env file is loaded
// first if present). An empty path starts from the defaults alone. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path, profile string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if profile != "" {
		overlay := filepath.Join(filepath.Dir(path), profile+".toml")
		if _, err := toml.DecodeFile(overlay, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode profile %s: %w", overlay, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")

	// ── Log ──
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.Format, "LOG_FORMAT")
	setStr(&cfg.Log.File, "LOG_FILE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Storage ──
	setStr(&cfg.Storage.EventLog, "STORAGE_EVENT_LOG")
	setStr(&cfg.Storage.RunStore, "STORAGE_RUN_STORE")
	setStr(&cfg.Storage.Cache, "STORAGE_CACHE")

	// ── Polymarket / recorder ──
	setStr(&cfg.Polymarket.WSURL, "POLYMARKET_WS_URL")
	setStringSlice(&cfg.Polymarket.AssetIDs, "POLYMARKET_ASSET_IDS")
	setInt(&cfg.Recorder.BatchSize, "RECORDER_BATCH_SIZE")
	setDuration(&cfg.Recorder.FlushInterval, "RECORDER_FLUSH_INTERVAL")

	// ── Replay ──
	setStr(&cfg.Replay.Engine, "REPLAY_ENGINE")

	// ── Sim ──
	setStr(&cfg.Sim.Strategy, "SIM_STRATEGY")
	setStringSlice(&cfg.Sim.AssetIDs, "SIM_ASSET_IDS")
	setInt64(&cfg.Sim.StartTS, "SIM_START_TS")
	setInt64(&cfg.Sim.EndTS, "SIM_END_TS")
	setInt(&cfg.Sim.Parallelism, "SIM_PARALLELISM")

	// ── Export ──
	setStringSlice(&cfg.Export.AssetIDs, "EXPORT_ASSET_IDS")
	setInt64(&cfg.Export.StartTS, "EXPORT_START_TS")
	setInt64(&cfg.Export.EndTS, "EXPORT_END_TS")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Keys are given without the prefix.
// ---------------------------------------------------------------------------

func getenv(key string) string { return os.Getenv(envPrefix + key) }

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
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
