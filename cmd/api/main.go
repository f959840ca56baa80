package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagme/docs"
	"tagme/internal/config"
	"tagme/internal/database"
	"tagme/internal/database/migration"
	handlers "tagme/internal/http/handler"
	"tagme/internal/http/middleware"
	"tagme/internal/otel"
	"tagme/internal/repository/postgres"
	"tagme/internal/service"
	"tagme/internal/storage"
	"tagme/web"
)

// @title Tagme API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	ctx := context.Background()
	loc := time.UTC

	// Tracing degrades to noop when the exporter is unreachable or disabled.
	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	// PostgreSQL connection with pooling via database/sql
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Reusable S3-compatible object storage client for photos (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	itemRepo := postgres.NewItemPostgres(db)
	itemSvc := service.NewItemService(objStore, itemRepo, service.PageConfig{
		DefaultPageSize: cfg.Upload.DefaultPageSize,
		MaxPageSize:     cfg.Upload.MaxPageSize,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		// Leave multipart headroom above the photo ceiling so the handler
		// rejects oversized photos itself with a structured 413.
		BodyLimit: int(cfg.Upload.MaxBytes) + 1<<20,
	})

	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	reg := prometheus.NewRegistry()
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	app.Use(promMW.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.RegisterRoutes(app, db, itemSvc, cfg.Upload)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	// Embedded single-page frontend. The filesystem middleware falls through
	// to the API routes when no asset matches.
	app.Use("/", filesystem.New(filesystem.Config{
		Root:  web.StaticFS(),
		Index: "index.html",
	}))

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
