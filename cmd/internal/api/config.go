package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls API behavior and abuse limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Failed signins allowed per client IP within SigninIPWindow.
	SigninIPMax    int
	SigninIPWindow time.Duration

	PageSize int
}

// DefaultConfig returns the defaults used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{
		TrustProxy:     false,
		MaxBodyBytes:   1 << 20, // 1 MiB
		SigninIPMax:    20,
		SigninIPWindow: 5 * time.Minute,
		PageSize:       10,
	}
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		TrustProxy:     envBool("COMMUNE_API_TRUST_PROXY", def.TrustProxy),
		MaxBodyBytes:   envInt64("COMMUNE_API_MAX_BODY_BYTES", def.MaxBodyBytes),
		SigninIPMax:    envInt("COMMUNE_API_SIGNIN_IP_MAX", def.SigninIPMax),
		SigninIPWindow: envDuration("COMMUNE_API_SIGNIN_IP_WINDOW", def.SigninIPWindow),
		PageSize:       envInt("COMMUNE_API_PAGE_SIZE", def.PageSize),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
