package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/voice"
	"github.com/podforge/api/pkg/response"
)

type VoicesHandler struct {
	registry *provider.Registry
	resolver *voice.Resolver
}

func NewVoicesHandler(registry *provider.Registry, resolver *voice.Resolver) *VoicesHandler {
	return &VoicesHandler{
		registry: registry,
		resolver: resolver,
	}
}

// Providers handles GET /api/voices/providers
func (h *VoicesHandler) Providers(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"providers": h.registry.Infos(),
	})
}

// Voices handles GET /api/voices/:provider?language=&gender=&category=
// Falls back to the static catalog when the live one is unavailable and
// answers 404 NO_VOICES_AVAILABLE with alternatives when both are empty.
func (h *VoicesHandler) Voices(c *fiber.Ctx) error {
	var filter provider.VoiceFilter
	if err := c.QueryParser(&filter); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}

	result, err := h.resolver.Resolve(c.UserContext(), c.Params("provider"), filter)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
