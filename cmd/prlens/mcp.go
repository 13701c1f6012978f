package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"prlens-backend/internal/mcp"
)

var mcpUser string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP stdio server exposing the review tools",
	Long: `Start an MCP (Model Context Protocol) server on stdio acting for one
user. Reviews triggered here run in this process's worker.

Available tools: list_providers, trigger_review, get_review, list_reviews`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		database, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		p, err := newPipeline(st)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return p.worker.Run(gctx) })
		g.Go(func() error { return p.worker.Recover(gctx) })
		g.Go(func() error {
			// stdin closing ends the session and stops the worker
			defer cancel()
			return mcp.NewServer(p.service, mcpUser).ServeStdio(gctx)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpUser, "user", "", "User id the tools act for")
	_ = mcpCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(mcpCmd)
}
