package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/technoshare-commentator/internal/app"
	"github.com/iago/technoshare-commentator/internal/config"
	httpserver "github.com/iago/technoshare-commentator/internal/http"
	"github.com/iago/technoshare-commentator/internal/http/handlers"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/pipeline"
	"github.com/iago/technoshare-commentator/internal/service"
	"github.com/iago/technoshare-commentator/internal/slack"
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
	if cfg.SlackSigningSecret == "" {
		log.Fatal("SLACK_SIGNING_SECRET is required")
	}
	if cfg.ChannelID == "" {
		log.Warn("TECHNOSHARE_CHANNEL_ID not configured, every event will be ignored")
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

	// Built before anything starts serving so a bad setup exits cleanly.
	var processor *pipeline.Pipeline
	if cfg.WorkerEnabled {
		processor, err = app.NewPipeline(cfg, repo, wake.Redis, log)
		if err != nil {
			log.Fatal("pipeline setup failed", "error", err)
		}
	} else {
		log.Info("worker disabled by configuration")
	}

	ingest := service.NewIngestService(service.IngestDependencies{
		Messages:  repo,
		Verifier:  slack.NewVerifier(cfg.SlackSigningSecret, time.Duration(cfg.SignatureMaxAgeSeconds)*time.Second),
		Notifier:  wake,
		ChannelID: cfg.ChannelID,
		MaxLinks:  cfg.MaxLinksPerMessage,
		Logger:    log.With("component", "ingest"),
	})
	api := handlers.NewAPI(ingest, service.NewJobsService(repo, wake), log)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         log,
		AuthToken:      cfg.AuthToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("api listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error { return wake.Run(groupCtx) })

	if processor != nil {
		group.Go(func() error {
			return app.RunWorkers(groupCtx, cfg, repo, processor, wake, log.With("component", "worker"))
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("api stopped with error", "error", err)
	}
}
