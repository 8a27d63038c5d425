package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TypeTerrors/gonfig"
	"github.com/charmbracelet/log"

	"styler/config"
	"styler/internal/mediator"
)

func main() {

	cfg, err := gonfig.Load[config.Config](
		gonfig.WithConfigFile("config/config.yaml"),
		gonfig.WithDotenv(".env"), // ignored if missing
		gonfig.WithStrict(),       // fail if ${VAR} has no value/default
	)
	if err != nil {
		log.Fatal("load config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := mediator.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal("create app", "err", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- app.Start()
	}()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("server stopped", "err", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)
}
