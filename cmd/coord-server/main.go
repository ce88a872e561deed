// Package main is the entry point for the coordination server. It exposes
// the hierarchical path lock, concurrency slot, and byte quota services
// over HTTP, backed by a Redis-compatible store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prn-tf/alexander-coord/internal/config"
	"github.com/prn-tf/alexander-coord/internal/handler"
	"github.com/prn-tf/alexander-coord/internal/lock"
	"github.com/prn-tf/alexander-coord/internal/metrics"
	"github.com/prn-tf/alexander-coord/internal/slots"
	"github.com/prn-tf/alexander-coord/internal/store"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := newLogger(cfg.Logging)

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting coordination server")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()
	logger.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to coordination store")

	locker := lock.NewRedisPathLocker(st, lock.Options{
		StrictSiblings: cfg.Lock.StrictSiblings,
		MaxPathBytes:   cfg.Lock.MaxPathBytes,
	}, logger)
	slotSvc := slots.NewService(st, logger)

	router := handler.NewRouter(handler.RouterConfig{
		LockHandler:  handler.NewLockHandler(locker, logger),
		SlotsHandler: handler.NewSlotsHandler(slotSvc, logger),
		Slots:        slotSvc,
		Logger:       logger,
	})

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", apiServer.Addr).Msg("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry()
		metrics.Register(registry)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler: mux,
		}
		g.Go(func() error {
			logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api server shutdown")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown")
			}
		}
		return nil
	})

	return g.Wait()
}

// newLogger builds the root logger from configuration.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
