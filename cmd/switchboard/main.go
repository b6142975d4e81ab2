// Package main provides the CLI entry point for the Switchboard LLM gateway.
//
// Switchboard exposes OpenAI Chat Completions, Anthropic Messages, and OpenAI
// Responses endpoints and translates all three onto a single OAuth2-protected
// Chat Completions upstream.
//
// # Basic Usage
//
// Start the server:
//
//	switchboard serve --config .env
//
// Print build information:
//
//	switchboard version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/gateway"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "switchboard",
		Short:        "Switchboard - LLM API compatibility gateway",
		Long:         "Switchboard serves OpenAI, Anthropic, and Responses dialects against one Chat Completions upstream.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway server.

The server will:
1. Load the configuration file (OAuth credentials, upstream URLs)
2. Fetch the upstream model list
3. Serve the dialect endpoints plus /healthz and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", ".env", "Path to the configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("switchboard %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Get(config.KeyLogLevel)
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:    level,
		FilePath: cfg.Get(config.KeyLogFilePath),
		Format:   "json",
	})
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	am, err := auth.NewManager(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("auth manager: %w", err)
	}
	logger.Info("auth manager ready", "mode", am.ConnectionMode(), "proxy_configured", am.ProxyConfigured())

	client := upstream.NewClient(cfg, am, logger, metrics)
	server := gateway.NewServer(cfg, logger, metrics, am, client)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	return nil
}
