package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/api"
	"github.com/bobby-s-dev/heat-guard/internal/config"
	"github.com/bobby-s-dev/heat-guard/internal/observability"
	"github.com/bobby-s-dev/heat-guard/internal/scheduler"
	"github.com/bobby-s-dev/heat-guard/internal/services"
	"github.com/bobby-s-dev/heat-guard/pkg/client"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		// Logger is not configured yet.
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	zap.ReplaceGlobals(logger)
	logger.Info("Starting Heat Guard service")

	metrics := observability.NewMetrics()

	fetcherConfig := client.FetcherConfig{
		RetryDelay:       cfg.Retry.Delay,
		BreakerEnabled:   cfg.CircuitBreaker.Enabled,
		BreakerThreshold: cfg.CircuitBreaker.Threshold,
		BreakerTimeout:   cfg.CircuitBreaker.Timeout,
	}
	geocoder := client.NewNominatimClient(
		client.NewFetcher("nominatim", fetcherConfig, logger, client.WithRecorder(metrics)),
		cfg.Geocoder.URL,
		cfg.Geocoder.UserAgent,
		cfg.Geocoder.CountryCodes,
		logger,
	)
	weather := client.NewOpenMeteoClient(
		client.NewFetcher("open-meteo", fetcherConfig, logger, client.WithRecorder(metrics)),
		cfg.Weather.URL,
		cfg.Weather.Timezone,
		logger,
	)

	shelters, err := services.NewShelterDirectory()
	if err != nil {
		logger.Fatal("Failed to load shelter directory", zap.Error(err))
	}

	router := services.NewRouter(geocoder, weather, shelters, services.RouterConfig{
		Location:        cfg.Weather.Location,
		EmergencyNumber: cfg.Emergency.Number,
	}, logger, services.WithToolObserver(metrics))

	var watch api.HeatWatch
	var heatWatch *scheduler.Scheduler
	if cfg.HeatWatch.Enabled && len(cfg.HeatWatch.Locations) > 0 {
		heatWatch, err = scheduler.NewScheduler(
			router,
			cfg.HeatWatch.Schedule,
			cfg.HeatWatch.Locations,
			cfg.HeatWatch.Timeout,
			logger,
			scheduler.WithTierRecorder(metrics),
		)
		if err != nil {
			logger.Fatal("Failed to initialize heat watch", zap.Error(err))
		}
		watch = heatWatch
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          api.ErrorHandler,
		DisableStartupMessage: true,
	})

	handler := api.NewHandler(router, watch, logger)
	api.SetupRoutes(app, handler, promhttp.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if heatWatch != nil {
		heatWatch.Start()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		logger.Info("Starting server", zap.String("address", addr))
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if heatWatch != nil {
			if err := heatWatch.Stop(shutdownCtx); err != nil {
				logger.Error("Heat watch shutdown failed", zap.Error(err))
			}
		}
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}
