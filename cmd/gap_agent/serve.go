package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/server"
	"github.com/jonathan/visibility-gap/internal/server/ratelimit"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that launches analysis phases, streams their progress and serves opportunities.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := connect(ctx, cfg, false, true)
	if err != nil {
		return err
	}
	defer d.Close()

	resolver, err := d.resolver(ctx)
	if err != nil {
		return err
	}
	costs := cfg.CostTable()
	deps := server.Deps{
		API:       d.provider,
		Resolver:  resolver,
		Validator: d.urlValidator(),
		Pipeline:  cfg.Pipeline(),
		Costs:     &costs,
		RateLimit: ratelimit.LoadConfig(),
		Logger:    d.logger,
	}

	if d.db != nil {
		if serveMigrate {
			applied, err := d.db.Migrate(ctx)
			if err != nil {
				return err
			}
			d.logger.Info().Int("applied", len(applied)).Msg("database migrated")
		}
		recorder := db.NewRecorder(d.db, d.provider, d.logger)
		defer recorder.Close()
		deps.Store = d.db
		deps.Sink = recorder
		deps.Tracker = recorder
	} else {
		d.logger.Warn().Msg("DATABASE_URL not set: jobs are kept in memory and opportunities are unavailable")
	}

	srv, err := server.New(server.Config{Port: servePort, ShutdownTimeout: 30 * time.Second}, deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}
