package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/config"
	"github.com/tylerbuilds/scrum-mcp/internal/coordinator"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/observability"
	"github.com/tylerbuilds/scrum-mcp/internal/server"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
	"github.com/tylerbuilds/scrum-mcp/internal/watcher"
	"github.com/tylerbuilds/scrum-mcp/internal/webhook"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "scrumd",
		Short:   "Coordination server for multi-agent software work",
		Version: version,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(tasksCmd())
	root.AddCommand(claimCmd())
	root.AddCommand(releaseCmd())
	root.AddCommand(boardCmd())

	if err := root.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config) error {
	obsLogger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel})
	logging.SetDefault(obsLogger)
	logger := logging.NewComponentLogger("scrumd")

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: cfg.MetricsEnabled})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	clk := clock.System()
	bus := eventbus.New(clk,
		eventbus.WithLogger(logging.NewComponentLogger("eventbus")),
		eventbus.WithMetrics(metrics))
	coord := coordinator.New(st, clk, bus,
		coordinator.WithLogger(logging.NewComponentLogger("coordinator")),
		coordinator.WithMetrics(metrics),
		coordinator.WithStrictMode(cfg.StrictMode))

	hooks := webhook.New(st, clk, bus, logging.NewComponentLogger("webhook"))
	hooks.Start(ctx)

	if cfg.WatcherEnabled && cfg.RepoRoot != "" {
		w, err := watcher.New(cfg.RepoRoot, coord, logging.NewComponentLogger("watcher"))
		if err != nil {
			logger.Warn("watcher disabled: %v", err)
		} else {
			w.Start(ctx)
			logger.Info("watching %s", cfg.RepoRoot)
		}
	}

	srv := server.New(server.Config{
		Addr:         cfg.Addr(),
		Auth:         server.AuthConfig{Enabled: cfg.AuthEnabled, Keys: cfg.APIKeys},
		RateLimitRPM: cfg.RateLimitRPM,
		Debug:        cfg.LogLevel == "debug" || cfg.LogLevel == "trace",
	}, coord,
		server.WithWebhooks(hooks),
		server.WithMetrics(metrics),
		server.WithLogger(logging.NewComponentLogger("http")))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(srv.Start)
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("scrumd %s ready on %s (strict=%v)", version, cfg.Addr(), cfg.StrictMode)
	return group.Wait()
}
