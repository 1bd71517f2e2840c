// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the presence store, presence and call
// timing, socket limits, rate limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// DBConfig selects the presence store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	DSN    string // DB_DSN; for sqlite falls back to DB_PATH
}

// PresenceConfig tunes the presence manager and metrics collector.
type PresenceConfig struct {
	OfflineTimeout        time.Duration // PRESENCE_OFFLINE_TIMEOUT
	CleanupInterval       time.Duration // PRESENCE_CLEANUP_INTERVAL
	StatusBatchMax        int           // STATUS_BATCH_MAX
	MetricsHistorySize    int           // METRICS_HISTORY_SIZE
	MetricsRetention      time.Duration // METRICS_RETENTION
	HealthMemoryThreshold uint64        // HEALTH_MEMORY_THRESHOLD_MB, in bytes
	CallRingTimeout       time.Duration // CALL_RING_TIMEOUT
}

// RedisConfig configures the optional presence mirror.
type RedisConfig struct {
	URL            string // REDIS_URL; empty disables the mirror
	PresencePrefix string // REDIS_PRESENCE_PREFIX
}

// WSConfig tunes WebSocket sessions.
type WSConfig struct {
	PingInterval    time.Duration // WS_PING_INTERVAL
	PongWait        time.Duration // WS_PONG_WAIT
	WriteTimeout    time.Duration // WS_WRITE_TIMEOUT
	MaxMessageBytes int64         // WS_MAX_MESSAGE_BYTES
	SendBuffer      int           // WS_SEND_BUFFER
	MsgRPS          float64       // WS_MSG_RPS
	MsgBurst        int           // WS_MSG_BURST
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-presence")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Store
	DBPath string // SQLite path
	DB     DBConfig

	// Core
	Presence PresenceConfig
	Redis    RedisConfig
	WS       WSConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values and validates the result. Every validation problem is
// reported in the returned error, not just the first.
func Load() (Config, error) {
	cfg := fromEnv()
	cfg.normalize()
	return cfg, cfg.Validate()
}

func fromEnv() Config {
	return Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: getenv("DB_PATH", "presence.db"),
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", ""),
		},

		Presence: PresenceConfig{
			OfflineTimeout:        getdur("PRESENCE_OFFLINE_TIMEOUT", 60*time.Second),
			CleanupInterval:       getdur("PRESENCE_CLEANUP_INTERVAL", 0),
			StatusBatchMax:        getint("STATUS_BATCH_MAX", 50),
			MetricsHistorySize:    getint("METRICS_HISTORY_SIZE", 1000),
			MetricsRetention:      getdur("METRICS_RETENTION", 24*time.Hour),
			HealthMemoryThreshold: uint64(getint("HEALTH_MEMORY_THRESHOLD_MB", 500)) << 20,
			CallRingTimeout:       getdur("CALL_RING_TIMEOUT", 45*time.Second),
		},
		Redis: RedisConfig{
			URL:            getenv("REDIS_URL", ""),
			PresencePrefix: getenv("REDIS_PRESENCE_PREFIX", "presence:"),
		},
		WS: WSConfig{
			PingInterval:    getdur("WS_PING_INTERVAL", 25*time.Second),
			PongWait:        getdur("WS_PONG_WAIT", 60*time.Second),
			WriteTimeout:    getdur("WS_WRITE_TIMEOUT", 10*time.Second),
			MaxMessageBytes: int64(getint("WS_MAX_MESSAGE_BYTES", 64<<10)),
			SendBuffer:      getint("WS_SEND_BUFFER", 64),
			MsgRPS:          getfloat("WS_MSG_RPS", 20),
			MsgBurst:        getint("WS_MSG_BURST", 40),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-presence"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
}

// normalize folds aliases and fills values derived from other settings.
func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.DB.Driver == "sqlite" && c.DB.DSN == "" {
		c.DB.DSN = c.DBPath
	}
	if c.Presence.CleanupInterval <= 0 {
		c.Presence.CleanupInterval = c.Presence.OfflineTimeout
	}
}

// Validate checks c and joins every problem found into one error.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, errors.New("DB_DRIVER must be one of: sqlite, postgres"))
	}

	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty")
	check(strings.TrimSpace(c.DB.DSN) == "", "DB_DSN must not be empty for postgres")

	p := c.Presence
	check(p.OfflineTimeout <= 0 || p.CallRingTimeout <= 0 || p.MetricsRetention <= 0,
		"presence timeouts must be positive durations")
	check(p.StatusBatchMax < 1, "STATUS_BATCH_MAX must be >= 1")
	check(p.MetricsHistorySize < 1, "METRICS_HISTORY_SIZE must be >= 1")

	ws := c.WS
	check(ws.PingInterval <= 0 || ws.PongWait <= 0 || ws.WriteTimeout <= 0, "WS timeouts must be positive durations")
	check(ws.PingInterval >= ws.PongWait, "WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	check(ws.MaxMessageBytes <= 0 || ws.SendBuffer < 1, "WS_MAX_MESSAGE_BYTES and WS_SEND_BUFFER must be positive")
	check(ws.MsgRPS < 0 || ws.MsgBurst < 1, "WS_MSG_RPS must be >= 0 and WS_MSG_BURST >= 1")

	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// lookup parses k with parse, falling back to def when k is unset, empty or
// malformed.
func lookup[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return lookup(k, def, func(s string) (string, error) { return s, nil })
}

func getfloat(k string, def float64) float64 {
	return lookup(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getint(k string, def int) int { return lookup(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return lookup(k, def, time.ParseDuration) }

var errNotBool = errors.New("not a boolean")

// getbool accepts 1/0, true/false, yes/no, y/n and on/off in any case.
func getbool(k string, def bool) bool {
	return lookup(k, def, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, errNotBool
	})
}

// splitCSV drops blank entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading '/' and no trailing '/', or
// "/" for blank input.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
