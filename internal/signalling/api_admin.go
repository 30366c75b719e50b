package signalling

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/nguyenquan715/kurento-one2many/internal/api"
)

func (s *Server) setupAdminApi() {
	s.app.Route("/api/admin", func(router fiber.Router) {
		for _, h := range s.auth.Middleware() {
			router.Use(h)
		}

		router.Get("/broadcast", func(c *fiber.Ctx) error {
			return c.JSON(s.broadcast.Status())
		})

		router.Post("/broadcast/stop", func(c *fiber.Ctx) error {
			customerID, stopped := s.broadcast.StopBroadcast()
			if stopped {
				slog.Info("broadcast stopped by operator", "customerId", customerID, "addr", c.IP())
			}
			return c.JSON(api.BroadcastStopResult{Stopped: stopped, CustomerID: customerID})
		})
	})
}
