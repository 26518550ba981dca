package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Server
	ListenAddr string // e.g. :8080

	// Anonymization service
	AnonymizerURL     string        // ANONYMIZER_URL=http://localhost:5000
	AnonymizerTimeout time.Duration // ANONYMIZER_TIMEOUT=60s
	SigningKey        string        // ANONYMIZER_SIGNING_KEY, hex secp256k1 key; empty disables signing

	// Preference store
	StorageBackend string // STORAGE_BACKEND=memory|sqlite|redis
	StorageDSN     string // STORAGE_DSN=opendeid.db
	RedisURL       string // REDIS_URL=redis://localhost:6379/0
	RedisPrefix    string // REDIS_PREFIX=opendeid:

	// Observability
	LogFile        string // OPENDEID_LOG_FILE, JSON copy of the log; empty disables
	LogLevel       slog.Level
	MetricsEnabled bool // METRICS_ENABLED=true serves /metrics
}

// Load reads .env (if present) then environment variables and returns Cfg.
// Invalid values fall back to their defaults.
func Load() *Cfg {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")

	timeout, err := time.ParseDuration(getEnv("ANONYMIZER_TIMEOUT", "60s"))
	if err != nil || timeout <= 0 {
		slog.Warn("config: invalid ANONYMIZER_TIMEOUT, using 60s", "value", os.Getenv("ANONYMIZER_TIMEOUT"))
		timeout = 60 * time.Second
	}

	backend := strings.ToLower(getEnv("STORAGE_BACKEND", "sqlite"))
	switch backend {
	case "memory", "sqlite", "redis":
	default:
		slog.Warn("config: unknown STORAGE_BACKEND, using sqlite", "value", backend)
		backend = "sqlite"
	}

	return &Cfg{
		ListenAddr:        ":" + port,
		AnonymizerURL:     getEnv("ANONYMIZER_URL", "http://localhost:5000"),
		AnonymizerTimeout: timeout,
		SigningKey:        getEnv("ANONYMIZER_SIGNING_KEY", ""),
		StorageBackend:    backend,
		StorageDSN:        getEnv("STORAGE_DSN", "opendeid.db"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:       getEnv("REDIS_PREFIX", "opendeid:"),
		LogFile:           getEnv("OPENDEID_LOG_FILE", ""),
		LogLevel:          parseLogLevel(getEnv("OPENDEID_LOG_LEVEL", "INFO")),
		MetricsEnabled:    parseBool(getEnv("METRICS_ENABLED", "true")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func parseBool(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
