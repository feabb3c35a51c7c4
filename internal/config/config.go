package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the service
type Config struct {
	Environment     string
	Port            string
	DatabaseURL     string
	StaffServiceURL string
	NATSURL         string
	EventTenantID   string
	ShareBaseURL    string

	// Redis permission cache
	RedisHost          string
	RedisPort          int
	RedisPassword      string
	RedisDB            int
	PermissionCacheTTL int

	// Expiration sweeper
	SweepInterval  time.Duration
	SweepBatchSize int

	CredentialTokenSecret string
	CORSAllowedOrigins    []string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		Port:            getEnv("PORT", "8099"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		StaffServiceURL: getEnv("STAFF_SERVICE_URL", "http://staff-service:8080"),
		NATSURL:         getEnv("NATS_URL", ""),
		EventTenantID:   getEnv("EVENT_TENANT_ID", "system"),
		ShareBaseURL:    getEnv("SHARE_BASE_URL", ""),

		RedisHost:          getEnv("REDIS_HOST", ""),
		RedisPort:          getEnvInt("REDIS_PORT", 6379),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		PermissionCacheTTL: getEnvInt("PERMISSION_CACHE_TTL_SECONDS", 300),

		SweepInterval:  getEnvDuration("EXPIRATION_SWEEP_INTERVAL", time.Minute),
		SweepBatchSize: getEnvInt("EXPIRATION_SWEEP_BATCH_SIZE", 100),

		CredentialTokenSecret: getEnv("CREDENTIAL_TOKEN_SECRET", ""),
		CORSAllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m") or a plain number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		// Build DSN from individual components if DATABASE_URL not set
		host := getEnv("DB_HOST", "localhost")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "postgres")
		password := secrets.GetDBPassword() // Use GCP Secret Manager
		dbname := getEnv("DB_NAME", "share_approval_db")
		sslmode := getEnv("DB_SSLMODE", "require")

		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode,
		)
	}

	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
