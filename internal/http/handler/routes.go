package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"tagme/internal/config"
	"tagme/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay free of business logic; they validate, call the service and
// map errors to statuses.
func RegisterRoutes(app *fiber.App, db *sql.DB, itemSvc service.ItemService, up config.UploadConfig) {
	// Health endpoint: checks DB connectivity only
	app.Get("/health", HealthCheck(db))

	// Simple liveness probe
	app.Get("/healthz", LivenessProbe())

	items := app.Group("/items")

	items.Get("/pagination", ListItems(itemSvc))
	items.Get("/findById/:id", FindItemByID(itemSvc))
	items.Post("/create", CreateItem(itemSvc, up))
	items.Put("/:id", UpdateItem(itemSvc, up))
	items.Delete("/:id", DeleteItem(itemSvc))

	// Registered after the literal GET routes so "pagination" never matches
	// as a filename.
	items.Get("/:photo", GetItemPhoto(itemSvc))
}
