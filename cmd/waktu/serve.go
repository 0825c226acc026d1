package waktu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
	"github.com/liliang-cn/waktusolat-mcp/pkg/mcp"
	"github.com/liliang-cn/waktusolat-mcp/pkg/server"
	"github.com/liliang-cn/waktusolat-mcp/pkg/tools"
)

var transport string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prayer-time tools over stdin/stdout",
	Long: `Serve the prayer-time tools over stdin/stdout.

The default "stdio" transport speaks the line-delimited JSON-RPC protocol
(initialize, listTools, callTool). The "mcp" transport runs a Model Context
Protocol server exposing the same tools plus the place-based lookups.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		switch transport {
		case "stdio":
			return serveStdio(ctx, a)
		case "mcp":
			return serveMCP(ctx, a)
		}
		return fmt.Errorf("unknown transport %q (must be stdio or mcp)", transport)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&transport, "transport", "t", "stdio", "transport to serve: stdio or mcp")
}

func serveStdio(ctx context.Context, a *app) error {
	registry, err := tools.NewRegistry(a.handlers.Tools()...)
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	srv := server.New(server.Config{
		Name:           serverName,
		Version:        version,
		RateLimit:      cfg.Server.RateLimit,
		RateWindow:     cfg.Server.RateWindowDuration(),
		ReadTimeout:    cfg.Server.ReadTimeoutDuration(),
		EOFGrace:       cfg.Server.EOFGraceDuration(),
		HealthInterval: cfg.Server.HealthIntervalDuration(),
	}, registry, server.Options{
		Upstream: a,
		Cache:    a.cache,
	})
	return srv.Run(ctx)
}

func serveMCP(ctx context.Context, a *app) error {
	defer func() {
		if err := a.Close(); err != nil {
			log.WithModule("cli").Error("error during cleanup", "error", err)
		}
	}()

	srv, err := mcp.NewServer(serverName, version, a.handlers)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
