package services

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"styler/config"
	"styler/internal/generation"
)

type Api struct {
	server         *fiber.App
	hub            *Hub
	sessions       *Sessions
	catalog        []generation.StyleSpec
	provider       string
	port           string
	allowedOrigins string
	logger         *log.Logger
}

func NewApi(cfg config.ApiConfig, provider string, catalog []generation.StyleSpec, hub *Hub, sessions *Sessions) *Api {
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = "*"
	}
	bodyLimit := cfg.BodyLimitMB << 20
	if bodyLimit <= 0 {
		bodyLimit = 16 << 20
	}

	a := &Api{
		server: fiber.New(fiber.Config{
			AppName:               "styler",
			BodyLimit:             bodyLimit,
			DisableStartupMessage: true,
		}),
		hub:            hub,
		sessions:       sessions,
		catalog:        catalog,
		provider:       provider,
		port:           cfg.Port,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         log.With("component", "api"),
	}

	allowCredentials := a.allowedOrigins != "*"

	a.server.Use(RequestLogger())
	a.server.Use(cors.New(cors.Config{
		AllowOrigins:     a.allowedOrigins,
		AllowCredentials: allowCredentials,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Content-Type,Authorization,Accept,Origin",
		ExposeHeaders:    "Content-Disposition,X-Request-Id",
	}))

	a.addRoutes()
	return a
}

func (a *Api) Start() error {
	a.logger.Info("listening", "port", a.port, "provider", a.provider, "styles", len(a.catalog))
	return a.server.Listen(fmt.Sprint(":", a.port))
}

func (a *Api) Shutdown(ctx context.Context) error {
	return a.server.ShutdownWithContext(ctx)
}

func (a *Api) addRoutes() {
	a.server.Add("GET", "/health", a.Health())
	a.server.Add("GET", "/styles", a.ListStyles())

	sessions := a.server.Group("/sessions/:id")
	sessions.Post("/image", a.UploadImage())
	sessions.Put("/settings", a.UpdateSettings())
	sessions.Post("/regenerate", a.RegenerateAll())
	sessions.Post("/regenerate/:key", a.RegenerateOne())
	sessions.Get("/results", a.Results())
	sessions.Get("/results/:key/image", a.ResultImage())
	sessions.Get("/export", a.Export())
	a.server.Delete("/sessions/:id", a.DeleteSession())

	// websocket connection
	a.server.Use("/ws", a.WsUpgrade())
	a.server.Get("/ws/:id", a.Notifications())
}
