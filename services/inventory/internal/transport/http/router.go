package http

import (
	"strings"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sakashimaa/stock-reservation/pkg/config"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
)

func NewApp(limits config.Limiter) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "inventory-service",
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Next:       exemptFromLimiter,
		Max:        limits.Max,
		Expiration: limits.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	return app
}

// exemptFromLimiter skips the advisory availability check, which the order
// service calls for every order from a single address, plus health and metrics.
func exemptFromLimiter(c *fiber.Ctx) bool {
	if c.Method() != fiber.MethodGet {
		return false
	}

	path := c.Path()
	switch {
	case path == "/health", path == "/metrics":
		return true
	case strings.HasPrefix(path, "/products/") && strings.HasSuffix(path, "/availability"):
		return true
	default:
		return false
	}
}

func RegisterRoutes(app *fiber.App, h *ProductHandler, m *metrics.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Inventory service is alive!")
	})
	app.Get("/metrics", m.Handler())

	product := app.Group("/products")
	product.Post("", h.Create)
	product.Get("", h.List)
	product.Get("/:id", h.FindByID)
	product.Get("/:id/availability", h.GetAvailability)
	product.Put("/:id", h.Update)
	product.Delete("/:id", h.Delete)
	product.Post("/:id/restock", h.Restock)
}
