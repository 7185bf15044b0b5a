// Package app wires the commune server runtime: config, logging, the ID
// generator, stores, HTTP routes and middleware.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"commune/cmd/community"
	"commune/cmd/identity"
	"commune/cmd/identity/ids"
	"commune/cmd/internal/api"
	"commune/cmd/internal/auth/session"
	"commune/cmd/internal/metrics"
	"commune/cmd/internal/schema"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the commune server runtime.
type App struct {
	cfg     Config
	log     Logger
	started time.Time

	dbPool *pgxpool.Pool

	gen         *ids.Generator
	metrics     *metrics.Metrics
	users       identity.Store
	communities *community.Service
	api         *api.Handler
}

// NewGenerator builds the process-wide ID generator from config.
func NewGenerator(cfg Config, log Logger, obs ids.Observer) (*ids.Generator, error) {
	clock, err := idClock(cfg.IDClock)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}
	opts := []ids.Option{
		ids.WithClock(clock),
		ids.WithMaxRollback(cfg.MaxRollback),
		ids.WithLogger(log),
	}
	if obs != nil {
		opts = append(opts, ids.WithObserver(obs))
	}
	gen, err := ids.NewGenerator(cfg.WorkerID, cfg.IDEpochMS, opts...)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}
	return gen, nil
}

// New constructs a fully wired App. Without a database URL the stores are
// in-memory.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	m := metrics.New()
	gen, err := NewGenerator(cfg, log, m)
	if err != nil {
		return nil, err
	}
	log.Info("ids.generator.ready",
		"worker_id", gen.WorkerID(),
		"epoch_ms", gen.Epoch(),
		"clock", cmp.Or(cfg.IDClock, IDClockMonotonic),
		"max_rollback", cfg.MaxRollback.String(),
	)

	hasher, err := identity.PasswordHasherFromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, started: time.Now(), gen: gen, metrics: m}

	var store community.Store
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore(gen, hasher)
		a.users = users
		store = community.NewMemoryStore(gen, users)
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.dbPool = pool
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

		users, err := identity.NewPostgresStore(pool, gen, hasher, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		cs, err := community.NewPostgresStore(pool, gen, community.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.users = users
		store = cs
	}
	a.communities = community.NewService(store, nil)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		a.Close()
		return nil, err
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if tokens.Ephemeral() {
		log.Warn("auth.signing_key.ephemeral", "public_key_hex", tokens.PublicKeyHex())
	}

	a.api, err = api.NewHandler(log, api.LoadConfigFromEnv(), a.users, hasher, tokens, a.communities)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Generator returns the shared ID generator.
func (a *App) Generator() *ids.Generator { return a.gen }

// Handler returns the full HTTP handler including middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.started, a.dbPool, a.metrics, a.api)
	return buildHandler(mux, a.cfg, a.log, a.metrics)
}

// Migrate applies the database schema. It is a no-op in memory mode.
func (a *App) Migrate(ctx context.Context) error {
	if a.dbPool == nil {
		a.log.Info("migrate.skip", "reason", "no database configured")
		return nil
	}
	if err := schema.Apply(ctx, a.dbPool, a.cfg.DBSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.log.Info("migrate.done", "schema", a.cfg.DBSchema)
	return nil
}

// Seed creates the built-in roles and, when configured, the demo user.
func (a *App) Seed(ctx context.Context) (SeedResult, error) {
	return Seed(ctx, a.cfg, a.log, a.communities, a.users)
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if a.cfg.SeedOnStart {
		if _, err := a.Seed(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"db_enabled", a.dbPool != nil,
		"worker_id", a.gen.WorkerID(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
