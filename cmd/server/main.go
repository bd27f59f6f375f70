package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/catalog"
	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/config"
	"github.com/iliyamo/care-portal/internal/database"
	"github.com/iliyamo/care-portal/internal/handler"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/middleware"
	"github.com/iliyamo/care-portal/internal/queue"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/router"
	"github.com/iliyamo/care-portal/internal/signing"
	"github.com/iliyamo/care-portal/internal/storage"
)

func main() {
	envFile := pflag.String("env-file", ".env", "optional KEY=VALUE file loaded before reading the environment")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	reconcile := pflag.Duration("reconcile-interval", -1, "expiry sweep interval; 0 disables, negative keeps EXPIRY_RECONCILE_INTERVAL")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("load %s: %v", *envFile, err)
	}
	cfg := config.Load()
	if *reconcile >= 0 {
		cfg.ReconcileInterval = *reconcile
	}
	logger := logging.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, database.DialectMySQL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if *migrateOnly {
		logger.Info(ctx, "migrations applied")
		return
	}

	clk := clock.Real()
	templates := repository.NewTemplateRepo(db)
	if cfg.TemplateCatalogPath != "" {
		cat, err := catalog.Load(cfg.TemplateCatalogPath)
		if err != nil {
			log.Fatalf("template catalog: %v", err)
		}
		if _, err := catalog.Seed(ctx, cat, templates, clk, logger); err != nil {
			log.Fatalf("seed templates: %v", err)
		}
	}

	rdb := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	var artifacts storage.ArtifactStore
	switch {
	case cfg.S3.Enabled():
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Region:       cfg.S3.Region,
			BaseEndpoint: cfg.S3.BaseEndpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Bucket:       cfg.S3.Bucket,
		})
		if err != nil {
			log.Fatalf("artifact store: %v", err)
		}
		artifacts = s3
	case cfg.ArtifactDir != "":
		disk, err := storage.NewDiskStore(cfg.ArtifactDir)
		if err != nil {
			log.Fatalf("artifact store: %v", err)
		}
		artifacts = disk
	default:
		logger.Warn(ctx, "no artifact store configured; signatures will not be kept")
	}

	var events signing.Publisher = queue.Nop{}
	if cfg.RabbitURL != "" {
		events = queue.NewPublisher(cfg.RabbitURL, logger)
		go func() {
			if err := queue.StartEventConsumer(ctx, cfg.RabbitURL, cfg.EventLogDir, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "event consumer stopped", "error", err)
			}
		}()
	}

	auditLog := audit.New(repository.NewAuditRepo(db), clk, logger)
	svc := signing.NewService(signing.Deps{
		DB:                db,
		Requests:          repository.NewSigningRequestRepo(db),
		Templates:         templates,
		Documents:         repository.NewSignedDocumentRepo(db),
		Audit:             auditLog,
		Artifacts:         artifacts,
		Events:            events,
		Clock:             clk,
		Log:               logger,
		LinkBaseURL:       cfg.SigningLinkBaseURL,
		DefaultExpiryDays: cfg.DefaultExpiryDays,
	})
	reconciler := signing.NewReconciler(svc, cfg.ReconcileInterval, cfg.ReconcileBatch, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			args := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "latency_ms", v.Latency.Milliseconds()}
			if v.Error != nil {
				logger.Warn(c.Request().Context(), "request", append(args, "error", v.Error)...)
				return nil
			}
			logger.Debug(c.Request().Context(), "request", args...)
			return nil
		},
	}))

	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, logger)
	docs := handler.NewSignedDocumentHandler(svc, clk, logger)

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db), clk, logger), cfg.JWTSecret)
	router.RegisterPublicSigning(e, handler.NewPublicSigningHandler(svc, logger),
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger))
	router.RegisterOperator(e, router.Operator{
		Requests:      handler.NewSigningRequestHandler(svc, logger),
		Templates:     handler.NewTemplateHandler(templates, cache, clk, logger),
		Documents:     docs,
		Audit:         handler.NewAuditHandler(auditLog, logger),
		TemplateCache: cache.Middleware(),
	}, cfg.JWTSecret)
	router.RegisterClient(e, docs, cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		logger.Info(ctx, "listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown", "error", err)
	}
}
