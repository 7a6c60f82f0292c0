package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPort               = "8080"
	defaultDatabasePath       = "rsvp.db"
	defaultStoreTimeout       = 5 * time.Second
	defaultBusyTimeoutMillis  = 5000
	defaultMaxOpenConns       = 16
	defaultJWTTTL             = 24 * time.Hour
	defaultBcryptCost         = 12
	defaultImportQueueSize    = 16
	defaultNumImportWorkers   = 2
	developmentJWTSecret      = "development-only-secret"
	developmentEnvironmentKey = "development"
)

type Config struct {
	Env  string
	Port string

	// database
	DatabasePath string
	StoreTimeout time.Duration
	// SQLiteBusyTimeout is how long SQLite waits on a held lock. The wait ignores
	// context cancellation, so it never exceeds StoreTimeout.
	SQLiteBusyTimeout time.Duration
	MaxOpenConns      int

	// auth
	JWTSecret  []byte
	JWTTTL     time.Duration
	BcryptCost int

	// http
	AllowedOrigins []string

	LogLevel zerolog.Level

	// guest list import
	GuestImportPath  string // imported once at startup when set
	ImportQueueSize  int
	NumImportWorkers int
}

// Development reports whether APP_ENV is "development".
func (c Config) Development() bool {
	return c.Env == developmentEnvironmentKey
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Warn().Str("key", envVar).Str("value", valStr).Int("default", defaultVal).Msg("invalid integer setting, using default")
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Warn().Str("key", envVar).Str("value", valStr).Dur("default", defaultVal).Msg("invalid duration setting, using default")
		return defaultVal
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadConfig reads the environment. JWT_SECRET is required unless APP_ENV is
// development.
func LoadConfig() (Config, error) {
	env := getEnvOrDefault("APP_ENV", "production")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if env != developmentEnvironmentKey {
			return Config{}, errors.New("JWT_SECRET must be set outside development")
		}
		secret = developmentJWTSecret
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("key", "LOG_LEVEL").Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}

	cfg := Config{
		Env:               env,
		Port:              getEnvOrDefault("PORT", defaultPort),
		DatabasePath:      getEnvOrDefault("DATABASE_PATH", defaultDatabasePath),
		StoreTimeout:      getEnvDurationOrDefault("STORE_TIMEOUT", defaultStoreTimeout),
		SQLiteBusyTimeout: time.Duration(getEnvIntOrDefault("SQLITE_BUSY_TIMEOUT_MS", defaultBusyTimeoutMillis)) * time.Millisecond,
		MaxOpenConns:      getEnvIntOrDefault("DB_MAX_OPEN_CONNS", defaultMaxOpenConns),
		JWTSecret:         []byte(secret),
		JWTTTL:            getEnvDurationOrDefault("JWT_TTL", defaultJWTTTL),
		BcryptCost:        getEnvIntOrDefault("BCRYPT_COST", defaultBcryptCost),
		AllowedOrigins:    splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:          level,
		GuestImportPath:   os.Getenv("GUEST_IMPORT_PATH"),
		ImportQueueSize:   getEnvIntOrDefault("IMPORT_QUEUE_SIZE", defaultImportQueueSize),
		NumImportWorkers:  getEnvIntOrDefault("NUM_IMPORT_WORKERS", defaultNumImportWorkers),
	}

	if cfg.SQLiteBusyTimeout > cfg.StoreTimeout {
		log.Warn().
			Dur("sqlite_busy_timeout", cfg.SQLiteBusyTimeout).
			Dur("store_timeout", cfg.StoreTimeout).
			Msg("SQLITE_BUSY_TIMEOUT_MS exceeds STORE_TIMEOUT, capping it")
		cfg.SQLiteBusyTimeout = cfg.StoreTimeout
	}

	return cfg, nil
}
