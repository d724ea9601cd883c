package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/api/pkg/response"
)

// GatewayAuthMiddleware trusts the X-User-* headers set by a ForwardAuth
// gateway in front of the API.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))

		return c.Next()
	}
}
