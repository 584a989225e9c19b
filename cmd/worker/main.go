package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/iago/technoshare-commentator/internal/app"
	"github.com/iago/technoshare-commentator/internal/config"
	"github.com/iago/technoshare-commentator/internal/logger"
)

func main() {
	dotEnvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if dotEnvErr != nil {
		log.Warn("failed loading .env files", "error", dotEnvErr)
	}
	if cfg.SlackBotToken == "" {
		log.Warn("SLACK_BOT_TOKEN not configured, replies will fail")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not configured, analysis will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := app.OpenRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("store unavailable", "error", err)
	}
	defer repo.Close()

	wake := app.OpenSignal(ctx, cfg, log)
	defer wake.Close()

	processor, err := app.NewPipeline(cfg, repo, wake.Redis, log)
	if err != nil {
		log.Fatal("pipeline setup failed", "error", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return wake.Run(groupCtx) })
	group.Go(func() error {
		return app.RunWorkers(groupCtx, cfg, repo, processor, wake, log.With("component", "worker"))
	})

	if err := group.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
	}
	log.Info("worker shut down")
}
