package signalling

import (
	"log/slog"
	"net/netip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/nguyenquan715/kurento-one2many/internal/config"
)

const adminUser = "admin"

// AuthHandler guards the admin API with an IP allow-list, plus basic auth
// when an admin credential is configured.
type AuthHandler struct {
	config config.SecurityConfig
}

func NewAuthHandler(cfg config.SecurityConfig) *AuthHandler {
	return &AuthHandler{config: cfg}
}

// CheckAdminCredential accepts any credential when none is configured.
func (h *AuthHandler) CheckAdminCredential(user, pass string) bool {
	return h.config.AdminCredential == nil || user == adminUser && pass == *h.config.AdminCredential
}

func (h *AuthHandler) IsAdminIP(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		slog.Error("failed to parse IP address", "addr", addr, "error", err)
		return false
	}
	return h.config.IsAdminAddr(ip)
}

// Middleware returns the handlers that must run before every admin route.
func (h *AuthHandler) Middleware() []fiber.Handler {
	handlers := []fiber.Handler{
		func(c *fiber.Ctx) error {
			if !h.IsAdminIP(c.IP()) {
				slog.Warn("IP not in whitelist", "addr", c.IP(), "path", c.Path())
				return c.Status(fiber.StatusForbidden).SendString("Forbidden. IP address black listed")
			}
			return c.Next()
		},
	}
	if h.config.AdminCredential != nil {
		handlers = append(handlers, basicauth.New(basicauth.Config{
			Realm:      "Forbidden",
			Authorizer: h.CheckAdminCredential,
		}))
	}
	return handlers
}
