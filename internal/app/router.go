package app

import (
	"context"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/handler"
	"github.com/podforge/api/internal/middleware"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/voice"
	ws "github.com/podforge/api/internal/websocket"
	"github.com/podforge/api/pkg/response"
)

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Config     *config.Config
	Research   *service.ResearchService
	Production *service.ProductionService
	Registry   *provider.Registry
	Resolver   *voice.Resolver
	Hub        *ws.Hub
	// Redis backs rate limiting; nil disables it.
	Redis  *redis.Client
	Checks map[string]handler.Check
	// FilesDir is served under /files when set.
	FilesDir string
}

// NewRouter builds the fiber app with every route registered.
func NewRouter(d Deps) *fiber.App {
	cfg := d.Config
	validate := validator.New()

	researchHandler := handler.NewResearchHandler(d.Research, validate)
	productionHandler := handler.NewProductionHandler(d.Production, validate)
	voicesHandler := handler.NewVoicesHandler(d.Registry, d.Resolver)
	healthHandler := handler.NewHealthHandler(d.Checks)
	authHandler := handler.NewAuthHandler(cfg.JWT.Secret)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(d.Redis, cfg.RateLimit)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Health)

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", authHandler.Verify)

	if d.FilesDir != "" {
		app.Static("/files", d.FilesDir)
	}

	api := app.Group("/api", apiAuthMiddleware)

	research := api.Group("/research")
	research.Post("/start", rateLimiter.ResearchLimit(), researchHandler.Start)
	research.Get("/status/:jobId", researchHandler.Status)
	research.Get("/result/:jobId", researchHandler.Result)
	research.Post("/cancel/:jobId", researchHandler.Cancel)
	research.Get("/history", researchHandler.History)
	research.Get("/download/:jobId/:fileType", researchHandler.Download)

	production := api.Group("/production")
	production.Post("/start", rateLimiter.ProductionLimit(), productionHandler.Start)
	production.Post("/generate-segments/:jobId", rateLimiter.ProductionLimit(), productionHandler.GenerateSegments)
	production.Get("/status/:jobId", productionHandler.Status)
	production.Get("/timeline/:jobId", productionHandler.Timeline)
	production.Put("/timeline/:jobId", productionHandler.UpdateTimeline)
	production.Post("/export/:jobId", rateLimiter.ExportLimit(), productionHandler.Export)
	production.Get("/result/:jobId", productionHandler.Result)
	production.Get("/download/:jobId", productionHandler.Download)
	production.Get("/audio/:jobId/:segmentId", productionHandler.SegmentAudio)
	production.Post("/cancel/:jobId", productionHandler.Cancel)
	production.Get("/history", productionHandler.History)

	voices := api.Group("/voices", rateLimiter.VoicesLimit())
	voices.Get("/providers", voicesHandler.Providers)
	voices.Get("/:provider", voicesHandler.Voices)

	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			d.Hub.HandleConnection(c, c.Params("jobId"))
		}))
	}

	return app
}

// Checks returns the dependency probes reported by /health.
func (a *App) Checks() map[string]handler.Check {
	return map[string]handler.Check{
		"redis": func(ctx context.Context) bool {
			return a.Redis.Ping(ctx).Err() == nil
		},
		"generator": func(ctx context.Context) bool {
			return a.Groq.IsConfigured()
		},
		"audio": func(ctx context.Context) bool {
			return a.Audio.IsConfigured() && a.Audio.HealthCheck(ctx) == nil
		},
		"r2": func(ctx context.Context) bool {
			return a.r2 != nil && a.r2.IsConfigured()
		},
		"tts": func(ctx context.Context) bool {
			for _, info := range a.Registry.Infos() {
				if info.Available {
					return true
				}
			}
			return false
		},
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
