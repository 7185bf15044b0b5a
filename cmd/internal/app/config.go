package app

import (
	"fmt"
	"path"
	"strings"
	"time"

	"commune/cmd/identity/ids"
	"commune/cmd/internal/schema"

	"github.com/spf13/viper"
)

// ID clock names accepted by COMMUNE_ID_CLOCK.
const (
	IDClockMonotonic = "monotonic"
	IDClockSystem    = "system"
)

// Config contains all runtime configuration.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	WorkerID    int64
	IDEpochMS   int64
	MaxRollback time.Duration
	// IDClock is "monotonic" (immune to wall-clock steps) or "system"
	// (reads the wall clock each call, so MaxRollback applies).
	IDClock string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// SeedOnStart creates the built-in roles when the server starts.
	SeedOnStart      bool
	SeedDemoUser     bool
	SeedDemoPassword string

	// RequireSigningKey refuses to start with an ephemeral token signing key.
	RequireSigningKey bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("http_read_header_timeout", 5*time.Second)
	v.SetDefault("http_read_timeout", 15*time.Second)
	v.SetDefault("http_write_timeout", 15*time.Second)
	v.SetDefault("http_idle_timeout", 60*time.Second)
	v.SetDefault("http_max_header_bytes", 1<<20)

	v.SetDefault("database_url", "")
	v.SetDefault("db_schema", schema.Default)
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("db_min_conns", 0)
	v.SetDefault("readiness_require_db", false)

	v.SetDefault("worker_id", 0)
	v.SetDefault("id_epoch_ms", ids.DefaultEpoch)
	v.SetDefault("id_max_rollback", ids.DefaultMaxRollback)
	v.SetDefault("id_clock", IDClockMonotonic)

	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("cors_allow_credentials", false)
	v.SetDefault("cors_max_age_seconds", 600)

	v.SetDefault("seed_on_start", false)
	v.SetDefault("seed_demo_user", false)
	v.SetDefault("seed_demo_password", "password")
	v.SetDefault("require_signing_key", false)
}

// LoadConfig reads COMMUNE_* environment variables and, when
// COMMUNE_CONFIG_FILE is set, the config file it names (type from the
// extension). Environment values win over the file.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMMUNE")
	v.AutomaticEnv()
	setDefaults(v)

	if file := strings.TrimSpace(v.GetString("config_file")); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType(strings.TrimPrefix(path.Ext(file), "."))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := Config{
		HTTPAddr:  v.GetString("http_addr"),
		LogLevel:  v.GetString("log_level"),
		LogFormat: strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),

		ReadHeaderTimeout: v.GetDuration("http_read_header_timeout"),
		ReadTimeout:       v.GetDuration("http_read_timeout"),
		WriteTimeout:      v.GetDuration("http_write_timeout"),
		IdleTimeout:       v.GetDuration("http_idle_timeout"),
		MaxHeaderBytes:    v.GetInt("http_max_header_bytes"),

		DatabaseURL: strings.TrimSpace(v.GetString("database_url")),
		DBSchema:    strings.TrimSpace(v.GetString("db_schema")),
		DBMaxConns:  v.GetInt32("db_max_conns"),
		DBMinConns:  v.GetInt32("db_min_conns"),

		ReadinessRequireDB: v.GetBool("readiness_require_db"),

		WorkerID:    v.GetInt64("worker_id"),
		IDEpochMS:   v.GetInt64("id_epoch_ms"),
		MaxRollback: v.GetDuration("id_max_rollback"),
		IDClock:     strings.ToLower(strings.TrimSpace(v.GetString("id_clock"))),

		CORSAllowedOrigins:   splitList(v.GetString("cors_allowed_origins")),
		CORSAllowCredentials: v.GetBool("cors_allow_credentials"),
		CORSMaxAgeSeconds:    v.GetInt("cors_max_age_seconds"),

		SeedOnStart:       v.GetBool("seed_on_start"),
		SeedDemoUser:      v.GetBool("seed_demo_user"),
		SeedDemoPassword:  v.GetString("seed_demo_password"),
		RequireSigningKey: v.GetBool("require_signing_key"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that would only fail later at startup.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: log format %q must be json or pretty", c.LogFormat)
	}
	if !schema.ValidIdent(c.DBSchema) {
		return fmt.Errorf("config: invalid db schema %q", c.DBSchema)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 {
		return fmt.Errorf("config: db connection limits must not be negative")
	}
	if c.MaxRollback < 0 {
		return fmt.Errorf("config: id max rollback must not be negative")
	}
	if _, err := idClock(c.IDClock); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// idClock maps a clock name to the generator clock. Empty means monotonic.
func idClock(name string) (ids.Clock, error) {
	switch name {
	case "", IDClockMonotonic:
		return ids.NewMonotonicClock(), nil
	case IDClockSystem:
		return ids.SystemClock, nil
	default:
		return nil, fmt.Errorf("id clock %q must be %s or %s", name, IDClockMonotonic, IDClockSystem)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
