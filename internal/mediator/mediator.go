package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"styler/config"
	"styler/internal/clients/gemini"
	"styler/internal/clients/local"
	"styler/internal/clients/remote"
	"styler/internal/generation"
	"styler/internal/services"
	"styler/internal/styles"
)

const remoteHealthTimeout = 5 * time.Second

type App struct {
	api      *services.Api
	hub      *services.Hub
	sessions *services.Sessions
	cancel   context.CancelFunc
	provider string
	// settings
	Config *config.Config
}

func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	cfg.Normalize()

	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warn("unknown log level, keeping default", "level", cfg.Log.Level)
	}

	catalog, err := loadCatalog(cfg.Styles)
	if err != nil {
		return nil, fmt.Errorf("error creating newapp: %w", err)
	}

	transformer, provider, err := newTransformer(ctx, cfg.Transformer)
	if err != nil {
		return nil, fmt.Errorf("error creating newapp: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	hub := services.NewHub()
	gen := cfg.Generation
	factory := func(sessionID string) *generation.Orchestrator {
		return generation.New(catalog, transformer,
			generation.WithMaxInFlight(gen.MaxInFlight),
			generation.WithCallTimeout(time.Duration(gen.CallTimeoutSeconds)*time.Second),
			generation.WithQueueSize(gen.QueueSize),
			generation.WithLogger(log.With("component", "generation", "session", sessionID)),
		)
	}
	sessions := services.NewSessions(appCtx, hub, factory,
		services.WithMaxSessions(cfg.Sessions.MaxSessions),
		services.WithIdleTTL(time.Duration(cfg.Sessions.IdleMinutes)*time.Minute),
	)

	api := services.NewApi(cfg.Api, provider, catalog, hub, sessions)

	log.Info("app configured", "provider", provider, "styles", len(catalog), "maxInFlight", gen.MaxInFlight, "callTimeoutSeconds", gen.CallTimeoutSeconds, "maxSessions", cfg.Sessions.MaxSessions)

	return &App{
		api:      api,
		hub:      hub,
		sessions: sessions,
		cancel:   cancel,
		provider: provider,
		Config:   &cfg,
	}, nil
}

func (a *App) Start() error {
	return a.api.Start()
}

func (a *App) Provider() string {
	return a.provider
}

// Shutdown stops accepting requests, cancels outstanding style calls and
// closes every websocket.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.api.Shutdown(ctx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	a.cancel()
	a.sessions.Shutdown()
	a.hub.Shutdown()
}

func loadCatalog(cfg config.StylesConfig) ([]generation.StyleSpec, error) {
	if cfg.File == "" {
		return styles.Default(), nil
	}
	catalog, err := styles.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	log.Info("loaded style catalog", "file", cfg.File, "styles", len(catalog))
	return catalog, nil
}

func newTransformer(ctx context.Context, cfg config.TransformerConfig) (generation.Transformer, string, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		if cfg.Gemini.ApiKey == "" {
			log.Warn("no gemini api key configured, falling back to local transformer")
			return local.New(time.Duration(cfg.Local.LatencyMs)*time.Millisecond), config.ProviderLocal, nil
		}
		c, err := gemini.NewClient(ctx, cfg.Gemini)
		if err != nil {
			return nil, "", err
		}
		return c, config.ProviderGemini, nil
	case config.ProviderRemote:
		c, err := remote.NewClient(cfg.Remote)
		if err != nil {
			return nil, "", err
		}
		checkRemote(ctx, c, cfg.Remote.HealthUrl)
		return c, config.ProviderRemote, nil
	case config.ProviderLocal:
		return local.New(time.Duration(cfg.Local.LatencyMs)*time.Millisecond), config.ProviderLocal, nil
	default:
		return nil, "", fmt.Errorf("unknown transformer provider %q", cfg.Provider)
	}
}

// checkRemote reports whether the remote transformer answers its health url.
// The service starts either way; jobs fail individually while it is down.
func checkRemote(ctx context.Context, c *remote.Client, url string) {
	if url == "" {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, remoteHealthTimeout)
	defer cancel()

	model, err := c.Health(hctx)
	if err != nil {
		log.Warn("remote transformer not reachable", "url", url, "err", err)
		return
	}
	log.Info("remote transformer ready", "url", url, "model", model)
}
