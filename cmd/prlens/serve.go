package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prlens-backend/internal/linear"
	"prlens-backend/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the webhook receiver and the review worker",
	RunE:  serveRun,
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (default 8080)")
	_ = v.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func serveRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Warn(logger)

	database, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	p, err := newPipeline(st)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, server.Deps{
		Service:  p.service,
		Accounts: st,
		Linear:   linear.NewClient(cfg.LinearAPIURL, logger),
		DB:       database,
		Logger:   logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.worker.Run(gctx)
	})
	g.Go(func() error {
		return p.worker.Recover(gctx)
	})
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
