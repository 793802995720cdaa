package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dbprov/internal/config"
	"dbprov/internal/database"
	"dbprov/internal/database/migration"
	"dbprov/internal/dialect"
	handlers "dbprov/internal/http/handler"
	"dbprov/internal/http/middleware"
	applog "dbprov/internal/log"
	"dbprov/internal/otel"
	"dbprov/internal/provision"
	"dbprov/internal/repository/postgres"
	"dbprov/internal/service"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg, err := config.Load()
	if err != nil {
		base := applog.Base()
		base.Fatal().Err(err).Msg("failed to load configuration")
	}

	applog.Configure(applog.Config{Level: cfg.LogLevel})
	logger := applog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, applog.WithComponent("otel"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	// The follower registry lives in PostgreSQL; DB_HOST/DB_PORT may list
	// several servers.
	registryURL, err := database.BuildPostgresURL(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid database configuration")
	}
	dialects := dialect.Default()
	db, err := dialects.OpenDB(ctx, registryURL, database.PoolFromConfig(cfg.Database))
	if err != nil {
		logger.Fatal().Err(err).Str(applog.FieldURL, registryURL.Redacted()).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := migration.EnsureMigrated(ctx, db, applog.Base(), registryURL.HostKey()); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	prov := provision.New(dialects, provision.DefaultRegistry(dialects), applog.WithComponent("provision"))
	followerRepo := postgres.NewFollowerPostgres(db)
	svc, err := service.NewProvisionService(prov, dialects, followerRepo, service.Options{
		URLs:    cfg.Provision.URLs,
		Drivers: cfg.Provision.Drivers,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize provisioning")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})

	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(app, db, svc)

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info().
		Str("addr", addr).
		Int("provision_urls", len(cfg.Provision.URLs)).
		Msg("listening")
	if err := app.Listen(addr); err != nil {
		logger.Error().Err(err).Msg("failed to start server")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}
