package http

import (
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
		AppName: "order-service",
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
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

func RegisterRoutes(app *fiber.App, h *OrderHandler, m *metrics.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Order service is alive!")
	})
	app.Get("/metrics", m.Handler())

	orders := app.Group("/orders")
	orders.Post("", h.Create)
	orders.Get("", h.ListByCustomer)
	orders.Get("/:id", h.GetByID)
	orders.Patch("/:id/status", h.UpdateStatus)
}
