// Command blitzorm is a connectivity and schema diagnostics tool for a
// blitzorm-managed database: it connects with the configured
// credentials, discovers the collections via introspection, and prints
// per-collection document counts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"blitzorm"
	"blitzorm/config"
	"blitzorm/internal/dbexec"
	"blitzorm/internal/logging"
	"blitzorm/internal/observability"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("blitzorm error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.String("collection", "", "Count only this collection")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("blitzorm %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	metrics, err := dbexec.InitQueryMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	backend, err := blitzorm.OpenIntrospected(ctx, cfg,
		blitzorm.WithLogger(logger),
		blitzorm.WithQueryMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	collections := backend.Registry().Collections()
	if only, _ := pflag.CommandLine.GetString("collection"); only != "" {
		collections = []string{only}
	}

	logger.Info("connected", slog.String("database", cfg.Database.Database),
		slog.Int("collections", len(collections)))

	for _, collection := range collections {
		view, err := backend.Filter(collection, nil)
		if err != nil {
			return err
		}
		count, err := view.Len(ctx)
		if err != nil {
			return fmt.Errorf("failed to count collection %s: %w", collection, err)
		}
		fmt.Printf("%s\t%d\n", collection, count)
	}
	return nil
}
