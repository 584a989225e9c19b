// Package app assembles the store, wake signal and pipeline from Config for
// the gateway and worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iago/technoshare-commentator/internal/ai"
	"github.com/iago/technoshare-commentator/internal/cache"
	"github.com/iago/technoshare-commentator/internal/config"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/pipeline"
	"github.com/iago/technoshare-commentator/internal/policy"
	"github.com/iago/technoshare-commentator/internal/quality"
	"github.com/iago/technoshare-commentator/internal/queue"
	"github.com/iago/technoshare-commentator/internal/repository"
	"github.com/iago/technoshare-commentator/internal/retrieval"
	"github.com/iago/technoshare-commentator/internal/slack"
	"github.com/iago/technoshare-commentator/internal/worker"
)

const analysisCachePrefix = "technoshare:analysis:"

// OpenRepository opens the configured store and applies its schema.
func OpenRepository(ctx context.Context, cfg config.Config, log *logger.Logger) (repository.JobsRepository, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
		repo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		repo.SetJobTimeout(cfg.JobTimeout)
		log.Info("postgres store initialized")
		return repo, nil
	case config.StoreDriverSQLite, "":
		repo, err := repository.OpenSQLiteJobsRepository(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		repo.SetJobTimeout(cfg.JobTimeout)
		log.Info("sqlite store initialized", "path", cfg.DBPath)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Signal is the wake channel between the gateway and workers plus what it
// needs to run and shut down.
type Signal struct {
	queue.Signal
	Redis *redis.Client
	run   func(ctx context.Context) error
	close func()
}

// Run blocks relaying notifications until ctx is cancelled. It returns
// immediately for the in-process signal.
func (s *Signal) Run(ctx context.Context) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx)
}

func (s *Signal) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenSignal uses Redis pub/sub when REDIS_ADDR is set and falls back to an
// in-process signal otherwise or when Redis is unreachable.
func OpenSignal(ctx context.Context, cfg config.Config, log *logger.Logger) *Signal {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not configured, using in-process wake signal")
		return &Signal{Signal: queue.NewLocalSignal()}
	}

	redisSignal, err := queue.NewRedisSignal(ctx, queue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisWakeChannel,
	}, log)
	if err != nil {
		log.Warn("redis wake signal unavailable, using in-process fallback", "error", err)
		return &Signal{Signal: queue.NewLocalSignal()}
	}
	log.Info("redis wake signal initialized", "channel", cfg.RedisWakeChannel)
	return &Signal{
		Signal: redisSignal,
		Redis:  redisSignal.Client(),
		run:    redisSignal.Run,
		close:  func() { _ = redisSignal.Close() },
	}
}

// NewPipeline wires retrieval, analysis, gates and the reply poster.
func NewPipeline(cfg config.Config, repo repository.JobsRepository, redisClient *redis.Client, log *logger.Logger) (*pipeline.Pipeline, error) {
	project, err := config.LoadProjectContext(cfg.ProjectContextFile)
	if err != nil {
		return nil, err
	}

	fetcher := retrieval.NewFetcher(retrieval.FetcherConfig{
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		RetryDelay:  cfg.FetchRetryDelay,
		UserAgent:   cfg.FetchUserAgent,
		Rules:       policy.FetchRules{},
		Logger:      log.With("component", "fetcher"),
	})
	adapterConfig := retrieval.AdapterConfig{}
	registry := retrieval.NewDefaultRegistry(fetcher, adapterConfig)
	reader := retrieval.NewGenericAdapter(fetcher, adapterConfig)

	var analysisCache cache.Store
	if redisClient != nil {
		analysisCache = cache.NewRedis(redisClient, analysisCachePrefix, cfg.AnalysisCacheTTL, log)
	} else {
		analysisCache = cache.NewMemory(cache.MemoryConfig{
			TTL:        cfg.AnalysisCacheTTL,
			MaxEntries: cfg.AnalysisCacheMaxEntries,
		})
	}

	analyzer := ai.NewAnalyzer(ai.AnalyzerConfig{
		Client: ai.NewClient(ai.ClientConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Timeout:    time.Duration(cfg.OpenAITimeoutMS) * time.Millisecond,
			MaxRetries: cfg.OpenAIMaxRetries,
		}),
		Profile: ai.ModelProfile{
			PrimaryModel:  cfg.Model,
			FallbackModel: cfg.ModelFallback,
		},
		MaxToolCalls: cfg.AnalysisMaxToolCalls,
		ReadPage:     reader.ReadPage,
		PromptsDir:   cfg.PromptsDir,
		Project:      project,
		Cache:        analysisCache,
		Logger:       log.With("component", "analyzer"),
	})

	poster := slack.NewClient(slack.ClientConfig{
		BotToken:    cfg.SlackBotToken,
		BaseURL:     cfg.SlackAPIBaseURL,
		MaxAttempts: cfg.SlackPostMaxAttempts,
		Logger:      log.With("component", "slack"),
	})

	return pipeline.New(pipeline.Dependencies{
		Jobs:     repo,
		Adapters: registry,
		Analyzer: analyzer,
		Gates:    quality.NewGates(cfg.GateMinThemedProjects),
		Poster:   poster,
		Themes:   project.Themes,
		MaxLinks: cfg.MaxLinksPerMessage,
		Logger:   log.With("component", "pipeline"),
	}), nil
}

// RunWorkers runs WorkerConcurrency claim loops until ctx is cancelled.
func RunWorkers(ctx context.Context, cfg config.Config, repo repository.JobsRepository, processor worker.Processor, waiter queue.Waiter, log *logger.Logger) error {
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		w := worker.New(repo, processor, waiter, worker.Config{
			PollInterval: cfg.PollInterval,
			ErrorBackoff: cfg.WorkerErrorBackoff,
			JobTimeout:   cfg.JobTimeout,
		}, log)
		group.Go(func() error { return w.Run(groupCtx) })
	}
	log.Info("workers started", "concurrency", concurrency)
	return group.Wait()
}
