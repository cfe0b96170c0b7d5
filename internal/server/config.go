package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/token"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// TokenConfig holds the signing settings shared by token issuance and the
// connection gate.
type TokenConfig struct {
	Secret     string
	Expiration time.Duration
	Algorithm  string
}

// Config holds the settings for every service this binary can run.
type Config struct {
	Port           string
	AuthPort       string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	Token TokenConfig

	DatabaseURL      string
	RedisURL         string
	Channel          string
	PasswordHasher   string
	HideUnknownUsers bool

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

const (
	defaultPort            = ":8080"
	defaultAuthPort        = ":8081"
	defaultMaxMessageSize  = 512
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultTokenExpiration = 24 * time.Hour
	defaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port:     defaultPort,
		AuthPort: defaultAuthPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		Token: TokenConfig{
			Expiration: defaultTokenExpiration,
			Algorithm:  token.DefaultAlgorithm,
		},
		Channel:         relay.DefaultChannel,
		PasswordHasher:  "bcrypt",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.AuthPort == "" {
		cfg.AuthPort = defaultAuthPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.Token.Expiration <= 0 {
		cfg.Token.Expiration = defaultTokenExpiration
	}
	if cfg.Token.Algorithm == "" {
		cfg.Token.Algorithm = token.DefaultAlgorithm
	}
	if cfg.Channel == "" {
		cfg.Channel = relay.DefaultChannel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	return cfg
}

// Sanitized returns a copy of cfg with unset or invalid values replaced by
// defaults.
func (cfg Config) Sanitized() Config {
	return sanitizeConfig(cfg)
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadDotEnv loads variables from the given .env files (or ./.env) into the
// process environment without overriding values that are already set. A
// missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}
	if port := os.Getenv("AUTH_PORT"); port != "" {
		cfg.AuthPort = normalizePort(port)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	cfg.Token.Secret = os.Getenv("JWT_SECRET")
	if exp := os.Getenv("JWT_EXPIRATION"); exp != "" {
		cfg.Token.Expiration = parseExpiration(exp, cfg.Token.Expiration)
	}
	if alg := os.Getenv("JWT_ALGORITHM"); alg != "" {
		cfg.Token.Algorithm = strings.ToUpper(strings.TrimSpace(alg))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if channel := os.Getenv("CHAT_CHANNEL"); channel != "" {
		cfg.Channel = channel
	}
	if hasher := os.Getenv("PASSWORD_HASHER"); hasher != "" {
		cfg.PasswordHasher = strings.ToLower(strings.TrimSpace(hasher))
	}
	if hide := os.Getenv("HIDE_UNKNOWN_USERS"); hide != "" {
		cfg.HideUnknownUsers = parseBool(hide, cfg.HideUnknownUsers)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseShutdownTimeout(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port != "" && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseExpiration accepts a Go duration ("15m") or a bare integer number of
// milliseconds ("86400000").
func parseExpiration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	slog.Warn("ignoring invalid JWT_EXPIRATION", "value", value)
	return defaultValue
}

// parseShutdownTimeout accepts a Go duration or a bare number of seconds.
func parseShutdownTimeout(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return b
	}
	return defaultValue
}
