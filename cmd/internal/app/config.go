package app

import (
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dbschema"
)

// Session hash backends.
const (
	SessionStoreAuto     = "auto"
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
// Subsystems (otp, session, gateway, dispatch, auth api) load their own.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL   string
	DBSchema      string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// SessionStore selects where refresh hashes live. "auto" means postgres
	// when the database is configured, memory otherwise.
	SessionStore string
	RedisURL     string

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
	// If true, /readyz returns 503 while no device is registered.
	ReadinessRequireDevice bool

	MetricsEnabled bool

	// Security policy:
	// If true, AUTOTM_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("AUTOTM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("AUTOTM_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("AUTOTM_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("AUTOTM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AUTOTM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("AUTOTM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AUTOTM_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("AUTOTM_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("AUTOTM_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL:   EnvString("AUTOTM_DATABASE_URL", ""),
		DBSchema:      EnvString("AUTOTM_DB_SCHEMA", dbschema.DefaultSchema),
		DBMaxConns:    EnvInt32("AUTOTM_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("AUTOTM_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("AUTOTM_DB_AUTO_MIGRATE", false),

		SessionStore: strings.ToLower(EnvString("AUTOTM_SESSION_STORE", SessionStoreAuto)),
		RedisURL:     EnvString("AUTOTM_REDIS_URL", ""),

		ReadinessRequireDB:     EnvBool("AUTOTM_READINESS_REQUIRE_DB", false),
		ReadinessRequireDevice: EnvBool("AUTOTM_READINESS_REQUIRE_DEVICE", false),

		MetricsEnabled: EnvBool("AUTOTM_METRICS_ENABLED", true),

		RequireTokenHMAC: EnvBool("AUTOTM_REQUIRE_TOKEN_HMAC", false),
	}
}
