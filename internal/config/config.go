// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfiguration marks a missing or malformed required setting. The
// affected subsystem must not start when it is returned.
var ErrConfiguration = errors.New("configuration error")

// Config holds all server configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Storage. Reports are kept in memory when DatabaseURL is empty.
	DatabaseURL string

	// Security
	JWTSecret         string
	TokenTTL          time.Duration
	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string // bcrypt; preferred over AdminPassword
	LoginFailureDelay time.Duration
	AllowedOrigins    []string

	// Rate limiting. Counters are shared through Redis when RedisURL is set.
	RateLimitRPM        int
	LoginRateLimit      int
	LoginRateLimitEvery time.Duration
	RedisURL            string

	// Notifications
	HeartbeatInterval time.Duration
	ViewerBuffer      int

	// Email alerts for urgent reports. Alerts are only logged when SMTPHost
	// is empty.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string
	EmailTo      string
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// EmailConfigured reports whether urgent alerts go out over SMTP.
func (c *Config) EmailConfigured() bool {
	return c.SMTPHost != "" && c.EmailTo != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		TokenTTL:          getEnvDuration("TOKEN_TTL", time.Hour),
		AdminUsername:     getEnv("ADMIN_USERNAME", ""),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		LoginFailureDelay: getEnvDuration("LOGIN_FAILURE_DELAY", time.Second),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", 100),
		LoginRateLimit:      getEnvInt("LOGIN_RATE_LIMIT", 5),
		LoginRateLimitEvery: getEnvDuration("LOGIN_RATE_LIMIT_WINDOW", 15*time.Minute),
		RedisURL:            getEnv("REDIS_URL", ""),

		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		ViewerBuffer:      getEnvInt("VIEWER_BUFFER", 32),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		EmailFrom:    getEnv("EMAIL_FROM", "alerts@whistle.local"),
		EmailTo:      getEnv("EMAIL_TO", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required secrets. There are no insecure fallbacks: a
// missing secret stops the server.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", ErrConfiguration)
	}
	if c.Production() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: JWT_SECRET must be at least 32 characters in production", ErrConfiguration)
	}
	if c.AdminUsername == "" {
		return fmt.Errorf("%w: ADMIN_USERNAME is required", ErrConfiguration)
	}
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return fmt.Errorf("%w: ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required", ErrConfiguration)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HEARTBEAT_INTERVAL must be positive", ErrConfiguration)
	}
	if c.Production() && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required in production", ErrConfiguration)
	}
	return nil
}

// ClientConfig holds settings for the whistle command-line client.
type ClientConfig struct {
	ServerURL     string
	EncryptionKey string // hex; required only to encrypt or decrypt
	AdminToken    string
}

// LoadClient reads client settings from the environment.
func LoadClient() *ClientConfig {
	_ = godotenv.Load()

	return &ClientConfig{
		ServerURL:     strings.TrimRight(getEnv("WHISTLE_SERVER_URL", "http://localhost:8080"), "/"),
		EncryptionKey: getEnv("WHISTLE_ENCRYPTION_KEY", ""),
		AdminToken:    getEnv("WHISTLE_ADMIN_TOKEN", ""),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
