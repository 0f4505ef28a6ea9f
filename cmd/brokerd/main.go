package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shoplane/brokerkit"
	"github.com/shoplane/brokerkit/config"
	"github.com/shoplane/brokerkit/health"
	"github.com/shoplane/brokerkit/metrics"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "brokerd",
		Short:   "Run the broker gateway daemon",
		Long:    "Brokerd maintains the RabbitMQ connection, publisher channel pool, and consumer channels,\nand serves metrics and health on the management port.",
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg := config.Load()

	registry := prometheus.NewRegistry()
	handlerMetrics := metrics.NewHandlerMetrics(registry)

	client := brokerkit.NewClient(cfg,
		brokerkit.WithClientLogger(logger),
		brokerkit.WithClientMetrics(handlerMetrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.Error("disconnect failed", "error", err)
		}
	}()

	registry.MustRegister(metrics.NewBrokerCollector(client))

	checks := health.NewRegistry()
	checks.Register(health.NewBrokerChecker(client.Manager()))
	checks.Register(health.NewChannelPoolChecker(client.Manager()))

	server := metrics.NewServer(cfg.Management.Port, registry, checks.Handler())
	go func() {
		logger.Info("management server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("management server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("management server shutdown failed", "error", err)
	}

	return nil
}
