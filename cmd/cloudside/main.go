package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mzy2240/cloudside/internal/aggregate"
	httpapi "github.com/mzy2240/cloudside/internal/api/http"
	"github.com/mzy2240/cloudside/internal/config"
	"github.com/mzy2240/cloudside/internal/fetch"
	"github.com/mzy2240/cloudside/internal/irradiance"
	"github.com/mzy2240/cloudside/internal/metrics"
	"github.com/mzy2240/cloudside/internal/pipeline"
	"github.com/mzy2240/cloudside/internal/scheduler"
	"github.com/mzy2240/cloudside/internal/series"
	"github.com/mzy2240/cloudside/internal/series/sources"
	"github.com/mzy2240/cloudside/internal/stations"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry, "cloudside")

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Retry/breaker fetcher shared by every upstream.
	fetcher := fetch.NewClient(httpClient, fetch.Options{
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		Metrics:     collector,
	})

	// Per-source series builders over a shared chunk cache root.
	cache := series.NewCache(cfg.DataDir)
	builders := map[string]aggregate.SeriesBuilder{
		"iem":  series.NewBuilder(sources.NewIEM(cfg.IEMBaseURL), fetcher, cache, collector),
		"asos": series.NewBuilder(sources.NewASOS(cfg.ASOSBaseURL, collector), fetcher, cache, collector),
	}

	lister := stations.NewLister(fetcher, cfg.NetworkURLPattern)
	resolver := stations.NewResolver(cfg.GeocoderAPIKey)

	// Irradiance grid access, one client per archive year.
	var grid pipeline.GridFactory
	if cfg.NSRDBAPIKey != "" {
		grid = func(year int) irradiance.GridSource {
			return irradiance.NewHSDSClient(year, irradiance.HSDSOptions{
				Endpoint:            cfg.NSRDBEndpoint,
				APIKey:              cfg.NSRDBAPIKey,
				FilePattern:         cfg.NSRDBFilePattern,
				DistanceThresholdKM: cfg.NSRDBDistanceKM,
				HTTPClient:          httpClient,
			})
		}
	}

	// In-memory run store with configured retention.
	runStore := pipeline.NewRunStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	service := pipeline.NewService(runStore, lister, resolver, builders, grid, collector, pipeline.Options{
		DropRate:              cfg.DropRate,
		MissingThreshold:      cfg.MissingThreshold,
		Concurrency:           cfg.Concurrency,
		Sentinel:              cfg.Sentinel,
		CategoricalCloudCover: cfg.CloudCoverScale == "categorical",
	})

	// Scheduler that periodically refreshes the configured station set.
	sched := scheduler.New(scheduler.Refresh{
		States:     cfg.RefreshStates,
		Stations:   cfg.RefreshStations,
		Source:     cfg.RefreshSource,
		Irradiance: cfg.RefreshIrradiance,
		Window:     cfg.RefreshWindow,
	}, cfg.RefreshInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "cloudside",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "cloudside",
			"sources": service.Sources(),
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service, registry)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
