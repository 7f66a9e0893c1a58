// Command auctiond runs the live auction service: the transaction core, the
// catalog, the session resolver and the live event stream behind one HTTP
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auctionarena/auctiond/internal/auction"
	"github.com/auctionarena/auctiond/internal/catalog"
	"github.com/auctionarena/auctiond/internal/clock"
	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/health"
	"github.com/auctionarena/auctiond/internal/httpapi"
	"github.com/auctionarena/auctiond/internal/leader"
	"github.com/auctionarena/auctiond/internal/live"
	"github.com/auctionarena/auctiond/internal/session"
	"github.com/auctionarena/auctiond/internal/store"
	"github.com/auctionarena/auctiond/internal/telemetry"

	// Store drivers register themselves on import.
	_ "github.com/auctionarena/auctiond/internal/store/memstore"
	_ "github.com/auctionarena/auctiond/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("auctiond %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("auctiond exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	provider, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", slog.Any("error", err))
		}
	}()
	logger := provider.Logger

	logger.Info("starting auctiond",
		slog.String("version", version),
		slog.String("driver", cfg.Database.Driver),
	)

	clk := clock.Real{}
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Error("closing store failed", slog.Any("error", err))
		}
	}()

	hub, closeHub, err := buildHub(cfg.Live, logger)
	if err != nil {
		return err
	}
	defer closeHub()

	engine := auction.NewEngine(repos, hub, logger, provider.TracerProvider, cfg.Auction)
	cat := catalog.NewManager(repos, hub, logger, provider.TracerProvider, cfg.Auction)
	resolver := session.NewResolver(cfg.Admin, repos.Owners, repos.Teams, logger)

	healthHandler := health.NewHandler(clk, health.Checker{
		Name:  "database",
		Check: repos.Ping,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler.Liveness())
	mux.HandleFunc("GET /readyz", healthHandler.Readiness())
	httpapi.New(engine, cat, resolver, repos, hub, logger).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.LeaderElection.Enabled {
		go func() {
			err := leader.Run(ctx, cfg.LeaderElection, logger,
				func(leaderCtx context.Context) {
					healthHandler.SetReady(true)
					<-leaderCtx.Done()
				},
				func() {
					healthHandler.SetReady(false)
				},
			)
			if err != nil {
				errCh <- fmt.Errorf("leader election: %w", err)
			}
		}()
	} else {
		healthHandler.SetReady(true)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	healthHandler.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("auctiond stopped")
	return nil
}

// setupTelemetry falls back to the no-op provider when no OTLP endpoint is
// configured, so local runs work without a collector.
func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	if cfg.OTLPEndpoint == "" {
		return telemetry.NewNopProvider(), nil
	}
	provider, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	return provider, nil
}

// buildHub bridges through NATS when a URL is configured; otherwise events
// stay in-process.
func buildHub(cfg config.LiveConfig, logger *slog.Logger) (*live.Hub, func(), error) {
	if cfg.NATSURL == "" {
		return live.New(logger), func() {}, nil
	}
	upstream, err := live.NewNATSUpstream(cfg.NATSURL, cfg.Subject, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting live upstream: %w", err)
	}
	return live.NewWithUpstream(logger, upstream), upstream.Close, nil
}
