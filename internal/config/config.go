package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/anime-shed/retina-inspector-go/pkg/validation"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	Host             string
	Port             string
	BackendURL       string
	RequestTimeout   time.Duration
	AnalysisTimeout  time.Duration
	PageFetchTimeout time.Duration
	MaxUploadSize    int64

	ProgressInterval time.Duration
	ProgressStart    int
	ProgressStep     int
	ProgressCap      int

	SessionStore  string
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AllowedOrigins []string

	LogLevel  string
	LogFormat string
	LogFile   string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// LoadFromEnv reads configuration from the environment, layered over an
// optional .env file in the working directory.
func LoadFromEnv() (*Config, error) {
	return Load(".env")
}

// Load reads configuration from envFile (dotenv format, skipped when it does
// not exist) and the process environment. Environment variables win.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("dotenv")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		Host:             getStringOrDefault(v, "HOST", "0.0.0.0"),
		Port:             getStringOrDefault(v, "PORT", "8080"),
		BackendURL:       strings.TrimRight(getStringOrDefault(v, "BACKEND_URL", "http://localhost:8000"), "/"),
		RequestTimeout:   parseDurationOrDefault(v, "REQUEST_TIMEOUT", 30*time.Second),
		AnalysisTimeout:  parseDurationOrDefault(v, "ANALYSIS_TIMEOUT", 60*time.Second),
		PageFetchTimeout: parseDurationOrDefault(v, "PAGE_FETCH_TIMEOUT", 10*time.Second),
		MaxUploadSize:    parseIntOrDefault(v, "MAX_UPLOAD_SIZE", validation.DefaultMaxImageSize),

		ProgressInterval: parseDurationOrDefault(v, "PROGRESS_INTERVAL", 800*time.Millisecond),
		ProgressStart:    int(parseIntOrDefault(v, "PROGRESS_START", 10)),
		ProgressStep:     int(parseIntOrDefault(v, "PROGRESS_STEP", 5)),
		ProgressCap:      int(parseIntOrDefault(v, "PROGRESS_CAP", 85)),

		SessionStore:  strings.ToLower(getStringOrDefault(v, "SESSION_STORE", SessionStoreMemory)),
		SessionTTL:    parseDurationOrDefault(v, "SESSION_TTL", 30*time.Minute),
		RedisAddr:     getStringOrDefault(v, "REDIS_ADDR", "localhost:6379"),
		RedisPassword: getStringOrDefault(v, "REDIS_PASSWORD", ""),
		RedisDB:       int(parseIntOrDefault(v, "REDIS_DB", 0)),

		AllowedOrigins: splitList(getStringOrDefault(v, "ALLOWED_ORIGINS", "*")),

		LogLevel:  getStringOrDefault(v, "LOG_LEVEL", "info"),
		LogFormat: getStringOrDefault(v, "LOG_FORMAT", "json"),
		LogFile:   getStringOrDefault(v, "LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if err := validation.NewURLValidator().ValidateBaseURL(c.BackendURL); err != nil {
		return fmt.Errorf("invalid BACKEND_URL %q: %w", c.BackendURL, err)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.RequestTimeout <= 0 || c.AnalysisTimeout <= 0 || c.PageFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, analysis=%s, page=%s)",
			c.RequestTimeout, c.AnalysisTimeout, c.PageFetchTimeout)
	}
	if c.ProgressInterval <= 0 || c.ProgressStep <= 0 {
		return fmt.Errorf("progress interval and step must be > 0 (got %s, %d)", c.ProgressInterval, c.ProgressStep)
	}
	if c.ProgressStart < 0 || c.ProgressStart > c.ProgressCap || c.ProgressCap >= 100 {
		return fmt.Errorf("progress must satisfy 0 <= start <= cap < 100 (got start=%d, cap=%d)", c.ProgressStart, c.ProgressCap)
	}
	switch c.SessionStore {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0 (got %s)", c.SessionTTL)
	}
	return nil
}

func getStringOrDefault(v *viper.Viper, key, defaultValue string) string {
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if value := v.GetString(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(v *viper.Viper, key string, defaultValue int64) int64 {
	if value := v.GetString(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
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
