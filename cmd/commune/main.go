package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"commune/cmd/identity/ids"
	"commune/cmd/internal/app"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "commune",
		Short:        "Commune community server",
		Long:         "Commune serves the users, roles, communities and members API. All keys are 64-bit snowflake ids.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newIDCmd())
	return rootCmd
}

// loadConfig reads COMMUNE_* config and applies flag overrides shared by
// the subcommands.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	if f := cmd.Flags().Lookup("worker-id"); f != nil && f.Changed {
		cfg.WorkerID, _ = cmd.Flags().GetInt64("worker-id")
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the HTTP server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTPAddr = addr
			}
			if seed, _ := cmd.Flags().GetBool("seed"); seed {
				cfg.SeedOnStart = true
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
			return app.Serve(cmd.Context(), cfg, log)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address (overrides COMMUNE_HTTP_ADDR)")
	serveCmd.Flags().Int64("worker-id", 0, "generator worker id (overrides COMMUNE_WORKER_ID)")
	serveCmd.Flags().Bool("seed", false, "create the built-in roles before serving")
	return serveCmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("migrate: COMMUNE_DATABASE_URL is not set")
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Migrate(cmd.Context())
		},
	}
}

func newSeedCmd() *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in roles and optionally the demo user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if demo, _ := cmd.Flags().GetBool("demo-user"); demo {
				cfg.SeedDemoUser = true
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := a.Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d roles\n", len(res.Roles))
			return nil
		},
	}
	seedCmd.Flags().Int64("worker-id", 0, "generator worker id (overrides COMMUNE_WORKER_ID)")
	seedCmd.Flags().Bool("demo-user", false, "also create the demo user")
	return seedCmd
}

type decodedID struct {
	ID        ids.ID    `json:"id"`
	Timestamp int64     `json:"timestamp_ms"`
	Time      time.Time `json:"time"`
	WorkerID  int64     `json:"worker_id"`
	Sequence  int64     `json:"sequence"`
}

func newIDCmd() *cobra.Command {
	idCmd := &cobra.Command{Use: "id", Short: "Issue and inspect snowflake ids"}

	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Print newly issued ids, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}
			gen, err := app.NewGenerator(cfg, stderrLogger(cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for range count {
				id, err := gen.NextContext(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, id.String())
			}
			return nil
		},
	}
	nextCmd.Flags().Int("count", 1, "number of ids to issue")
	nextCmd.Flags().Int64("worker-id", 0, "generator worker id (overrides COMMUNE_WORKER_ID)")

	decodeCmd := &cobra.Command{
		Use:   "decode <id> [id...]",
		Short: "Split ids into timestamp, worker and sequence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, raw := range args {
				id, err := ids.Parse(raw)
				if err != nil {
					return fmt.Errorf("%q: %w", raw, err)
				}
				p := ids.DefaultLayout.Decode(id)
				if err := enc.Encode(decodedID{
					ID:        id,
					Timestamp: p.Timestamp,
					Time:      p.Time(cfg.IDEpochMS).UTC(),
					WorkerID:  p.WorkerID,
					Sequence:  p.Sequence,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	idCmd.AddCommand(nextCmd, decodeCmd)
	return idCmd
}

func stderrLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
