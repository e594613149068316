package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
)

// NewApp serves only the operational endpoints. Notifications arrive over the bus.
func NewApp(m *metrics.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "notification-service",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Notification service is alive!")
	})
	app.Get("/metrics", m.Handler())

	return app
}
