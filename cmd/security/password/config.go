package password

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as
// argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak turns on the small common-password check.
	RejectVeryWeak bool
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is 64 MiB, 3 passes, one lane per CPU up to 4, and
// passwords of 6 to 256 characters.
func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 6, MaxLength: 256},
	}
}

type envBound struct {
	key    string
	lo, hi uint64
	set    func(*Config, uint64)
}

var envBounds = []envBound{
	{"password_min_len", 1, 1024, func(c *Config, n uint64) { c.Policy.MinLength = int(n) }},
	{"password_max_len", 1, 4096, func(c *Config, n uint64) { c.Policy.MaxLength = int(n) }},
	{"argon2_memory_kib", 8 * 1024, 1024 * 1024, func(c *Config, n uint64) { c.Params.MemoryKiB = uint32(n) }},
	{"argon2_iterations", 1, 20, func(c *Config, n uint64) { c.Params.Iterations = uint32(n) }},
	{"argon2_parallelism", 1, 64, func(c *Config, n uint64) { c.Params.Parallelism = uint8(n) }}, // #nosec G115 -- bounded by hi.
	{"argon2_salt_len", 8, 64, func(c *Config, n uint64) { c.Params.SaltLength = uint32(n) }},
	{"argon2_key_len", 16, 64, func(c *Config, n uint64) { c.Params.KeyLength = uint32(n) }},
}

// FromEnv overlays COMMUNE_PASSWORD_* and COMMUNE_ARGON2_* on DefaultConfig:
//
//	COMMUNE_PASSWORD_MIN_LEN, COMMUNE_PASSWORD_MAX_LEN, COMMUNE_PASSWORD_REJECT_VERY_WEAK,
//	COMMUNE_ARGON2_MEMORY_KIB, COMMUNE_ARGON2_ITERATIONS, COMMUNE_ARGON2_PARALLELISM,
//	COMMUNE_ARGON2_SALT_LEN, COMMUNE_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMMUNE")
	v.AutomaticEnv()

	cfg := DefaultConfig()
	for _, b := range envBounds {
		raw := strings.TrimSpace(v.GetString(b.key))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%s: not an unsigned integer", envName(b.key))
		}
		if n < b.lo || n > b.hi {
			return Config{}, fmt.Errorf("%s: out of range [%d..%d]", envName(b.key), b.lo, b.hi)
		}
		b.set(&cfg, n)
	}

	if raw := strings.TrimSpace(v.GetString("password_reject_very_weak")); raw != "" {
		weak, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid boolean", envName("password_reject_very_weak"))
		}
		cfg.Policy.RejectVeryWeak = weak
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func envName(key string) string { return "COMMUNE_" + strings.ToUpper(key) }
