package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"prlens-backend/internal/config"
	"prlens-backend/internal/db"
	"prlens-backend/internal/github"
	"prlens-backend/internal/logging"
	"prlens-backend/internal/output"
	"prlens-backend/internal/provider"
	"prlens-backend/internal/review"
	"prlens-backend/internal/store"
	"prlens-backend/internal/worker"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	v      = viper.New()
	cfg    config.Config
	ui     *output.UI
	logger *zap.Logger

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "prlens",
	Short: "AI pull request reviews",
	Long: `prlens reviews GitHub pull requests with an AI model.

Reviews are triggered from the HTTP API, a GitHub webhook or MCP, run in
the background, and move through PENDING, PROCESSING and then COMPLETED
or FAILED.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	flags.String("db-url", "", "Database URL (postgres://... or sqlite://path)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json or console)")

	_ = v.BindPFlag("db_url", flags.Lookup("db-url"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_format", flags.Lookup("log-format"))
}

func initConfig() {
	cfg = config.Load(v)
	ui = output.New()
	ui.Verbose = verbose
}

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context) (*db.DB, *store.DatabaseStore, error) {
	database, err := db.New(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.RunMigrations(ctx); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, store.NewDatabaseStore(database), nil
}

// pipeline is the review service together with the worker that runs it.
type pipeline struct {
	service *worker.Service
	worker  *worker.Worker
}

func newPipeline(st *store.DatabaseStore) (*pipeline, error) {
	gh := github.NewGitHubAPIClient(cfg.GitHubAPIURL)
	registry := provider.NewRegistry(cfg.ProviderKeys)

	gen, err := review.NewGenerator(registry, logger)
	if err != nil {
		return nil, fmt.Errorf("load review generator: %w", err)
	}

	w := worker.NewWorker(worker.Config{
		Concurrency:   cfg.WorkerConcurrency,
		QueueSize:     cfg.QueueSize,
		StaleAfter:    cfg.ReviewStaleAfter,
		FallbackToken: cfg.GitHubToken,
	}, st, gh, gen, logger)

	return &pipeline{
		service: worker.NewService(st, gh, registry, w, cfg.GitHubToken, logger),
		worker:  w,
	}, nil
}
