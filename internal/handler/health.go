package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/podforge/api/pkg/response"
)

const healthCheckTimeout = 3 * time.Second

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) bool

type HealthHandler struct {
	checks map[string]Check
}

func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health handles GET /health. The API stays "ok" when optional services are
// missing; each one is reported under services.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	results := make([]bool, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = h.checks[name](ctx)
			return nil
		})
	}
	_ = g.Wait()

	services := fiber.Map{}
	for i, name := range names {
		services[name] = results[i]
	}

	return response.OK(c, fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"services":  services,
	})
}
