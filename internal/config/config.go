package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/storage"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Port           string
	LogLevel       logrus.Level
	StorageBackend string
	DataDir        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	Database       storage.PostgresConfig
	KafkaBrokers   string
	CatalogFile    string
	RequestTimeout time.Duration
}

// Load reads the service configuration from the environment.
func Load() (*Config, error) {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	timeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "10s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT %q", os.Getenv("REQUEST_TIMEOUT"))
	}

	cfg := &Config{
		Port:           getEnv("HTTP_PORT", "8080"),
		LogLevel:       level,
		StorageBackend: getEnv("STORAGE_BACKEND", BackendMemory),
		DataDir:        getEnv("DATA_DIR", "./data"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		Database: storage.PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "laundry"),
			Password: getEnv("DB_PASSWORD", "laundry"),
			Name:     getEnv("DB_NAME", "laundry"),
		},
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		CatalogFile:    os.Getenv("CATALOG_FILE"),
		RequestTimeout: timeout,
	}

	switch cfg.StorageBackend {
	case BackendMemory, BackendFile, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	return cfg, nil
}

// NewLogger builds the JSON logger every process uses.
func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
