// Package config defines the top-level configuration for predexchange and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file, an optional profile overlay, and then PREDEX_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	Log        LogConfig        `toml:"log"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Storage    StorageConfig    `toml:"storage"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Recorder   RecorderConfig   `toml:"recorder"`
	Replay     ReplayConfig     `toml:"replay"`
	Sim        SimConfig        `toml:"sim"`
	Export     ExportConfig     `toml:"export"`
	Server     ServerConfig     `toml:"server"`
}

// LogConfig controls the slog handler and the optional rotating file sink.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN wins over the
// individual fields when set.
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RunPrefix      string `toml:"run_prefix"`
}

// StorageConfig selects a backend per collaborator.
type StorageConfig struct {
	EventLog string `toml:"event_log"` // postgres | memory
	RunStore string `toml:"run_store"` // postgres | s3 | memory
	Cache    string `toml:"cache"`     // redis | memory
}

// PolymarketConfig configures the market-channel feed.
type PolymarketConfig struct {
	WSURL         string   `toml:"ws_url"`
	AssetIDs      []string `toml:"asset_ids"`
	ReconnectBase duration `toml:"reconnect_base"`
	ReconnectMax  duration `toml:"reconnect_max"`
}

// RecorderConfig controls batching and the single-writer lease.
type RecorderConfig struct {
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
	MaxBuffered   int      `toml:"max_buffered"`
	LockTTL       duration `toml:"lock_ttl"`
}

// ReplayConfig holds the book engine and the query defaults.
type ReplayConfig struct {
	Engine         string  `toml:"engine"`
	ReadBatchSize  int     `toml:"read_batch_size"`
	ResolutionMS   int64   `toml:"resolution_ms"`
	DepthN         int     `toml:"depth_n"`
	TickSize       float64 `toml:"tick_size"`
	TicksAroundMid int     `toml:"ticks_around_mid"`
}

// SimConfig drives simulate mode and the simulation surface.
type SimConfig struct {
	Engine        string         `toml:"engine"`
	Strategy      string         `toml:"strategy"`
	MarketID      string         `toml:"market_id"`
	AssetIDs      []string       `toml:"asset_ids"`
	StartTS       int64          `toml:"start_ts"`
	EndTS         int64          `toml:"end_ts"`
	FillLatencyMS int64          `toml:"fill_latency_ms"`
	Parallelism   int            `toml:"parallelism"`
	Params        map[string]any `toml:"params"`
}

// ExportConfig drives export mode and the export surface.
type ExportConfig struct {
	AssetIDs    []string `toml:"asset_ids"`
	StartTS     int64    `toml:"start_ts"`
	EndTS       int64    `toml:"end_ts"`
	Prefix      string   `toml:"prefix"`
	Compression string   `toml:"compression"`
	Parallelism int      `toml:"parallelism"`
	// HTTP exposes the export endpoints in serve mode, which needs S3.
	HTTP bool `toml:"http"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode: "serve",
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "predex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predex-data",
			ForcePathStyle: true,
			RunPrefix:      "runs",
		},
		Storage: StorageConfig{
			EventLog: "postgres",
			RunStore: "postgres",
			Cache:    "redis",
		},
		Polymarket: PolymarketConfig{
			WSURL:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ReconnectBase: duration{2 * time.Second},
			ReconnectMax:  duration{60 * time.Second},
		},
		Recorder: RecorderConfig{
			BatchSize:     500,
			FlushInterval: duration{time.Second},
			MaxBuffered:   25_000,
			LockTTL:       duration{30 * time.Second},
		},
		Replay: ReplayConfig{
			Engine:         "ladder",
			ReadBatchSize:  5000,
			ResolutionMS:   1000,
			DepthN:         10,
			TickSize:       0.01,
			TicksAroundMid: 20,
		},
		Sim: SimConfig{
			Engine:      "ladder",
			Strategy:    "mm_inventory",
			Parallelism: 4,
			Params:      map[string]any{},
		},
		Export: ExportConfig{
			Prefix:      "exports",
			Compression: "snappy",
			Parallelism: 2,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"record":   true,
	"simulate": true,
	"export":   true,
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var (
	validEventLogs   = map[string]bool{"postgres": true, "memory": true}
	validRunStores   = map[string]bool{"postgres": true, "s3": true, "memory": true}
	validCaches      = map[string]bool{"redis": true, "memory": true}
	validEngines     = map[string]bool{"map": true, "ladder": true}
	validCompression = map[string]bool{"snappy": true, "gzip": true, "none": true}
)

// UsesPostgres reports whether any selected backend needs PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.Storage.EventLog == "postgres" || c.Storage.RunStore == "postgres"
}

// UsesS3 reports whether the run store or the current mode needs S3.
func (c *Config) UsesS3() bool {
	return c.Storage.RunStore == "s3" || c.Mode == "export" || (c.Mode == "serve" && c.Export.HTTP)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, record, simulate, export)", c.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: format must be json or text, got %q", c.Log.Format))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		errs = append(errs, "log: max_size_mb must be >= 1 when file is set")
	}

	// Storage
	if !validEventLogs[c.Storage.EventLog] {
		errs = append(errs, fmt.Sprintf("storage: event_log must be postgres or memory, got %q", c.Storage.EventLog))
	}
	if !validRunStores[c.Storage.RunStore] {
		errs = append(errs, fmt.Sprintf("storage: run_store must be postgres, s3 or memory, got %q", c.Storage.RunStore))
	}
	if !validCaches[c.Storage.Cache] {
		errs = append(errs, fmt.Sprintf("storage: cache must be redis or memory, got %q", c.Storage.Cache))
	}

	// Postgres
	if c.UsesPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Storage.Cache == "redis" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.UsesS3() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Replay
	if !validEngines[strings.ToLower(c.Replay.Engine)] {
		errs = append(errs, fmt.Sprintf("replay: engine must be map or ladder, got %q", c.Replay.Engine))
	}
	if c.Replay.ReadBatchSize < 1 {
		errs = append(errs, "replay: read_batch_size must be >= 1")
	}
	if c.Replay.ResolutionMS <= 0 {
		errs = append(errs, "replay: resolution_ms must be > 0")
	}
	if c.Replay.DepthN < 1 {
		errs = append(errs, "replay: depth_n must be >= 1")
	}
	if c.Replay.TickSize <= 0 || c.Replay.TickSize > 1 {
		errs = append(errs, "replay: tick_size must be in (0, 1]")
	}
	if c.Replay.TicksAroundMid < 1 {
		errs = append(errs, "replay: ticks_around_mid must be >= 1")
	}

	// Sim
	if !validEngines[strings.ToLower(c.Sim.Engine)] {
		errs = append(errs, fmt.Sprintf("sim: engine must be map or ladder, got %q", c.Sim.Engine))
	}
	if c.Sim.Parallelism < 1 {
		errs = append(errs, "sim: parallelism must be >= 1")
	}
	if c.Sim.FillLatencyMS < 0 {
		errs = append(errs, "sim: fill_latency_ms must be >= 0")
	}

	// Export
	if !validCompression[strings.ToLower(c.Export.Compression)] {
		errs = append(errs, fmt.Sprintf("export: compression must be snappy, gzip or none, got %q", c.Export.Compression))
	}
	if c.Export.Parallelism < 1 {
		errs = append(errs, "export: parallelism must be >= 1")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	// Mode-specific requirements.
	switch c.Mode {
	case "record":
		if len(c.Polymarket.AssetIDs) == 0 {
			errs = append(errs, "polymarket: asset_ids must not be empty for mode record")
		}
		if c.Polymarket.WSURL == "" {
			errs = append(errs, "polymarket: ws_url must not be empty for mode record")
		}
		if c.Polymarket.ReconnectBase.Duration <= 0 || c.Polymarket.ReconnectMax.Duration < c.Polymarket.ReconnectBase.Duration {
			errs = append(errs, "polymarket: need 0 < reconnect_base <= reconnect_max")
		}
		if c.Recorder.BatchSize < 1 {
			errs = append(errs, "recorder: batch_size must be >= 1")
		}
		if c.Recorder.FlushInterval.Duration <= 0 {
			errs = append(errs, "recorder: flush_interval must be > 0")
		}
		if c.Recorder.LockTTL.Duration < time.Second {
			errs = append(errs, "recorder: lock_ttl must be >= 1s")
		}
	case "simulate":
		if len(c.Sim.AssetIDs) == 0 {
			errs = append(errs, "sim: asset_ids must not be empty for mode simulate")
		}
		if c.Sim.Strategy == "" {
			errs = append(errs, "sim: strategy must not be empty for mode simulate")
		}
		if c.Sim.EndTS != 0 && c.Sim.EndTS < c.Sim.StartTS {
			errs = append(errs, "sim: end_ts must not precede start_ts")
		}
	case "export":
		if len(c.Export.AssetIDs) == 0 {
			errs = append(errs, "export: asset_ids must not be empty for mode export")
		}
		if c.Export.EndTS != 0 && c.Export.EndTS < c.Export.StartTS {
			errs = append(errs, "export: end_ts must not precede start_ts")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
