package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iago/technoshare-commentator/internal/logger"
)

const publishTimeout = 2 * time.Second

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSignal carries wake-ups between processes over Redis pub/sub. Local
// waiters are woken by messages received on the channel.
type RedisSignal struct {
	client  *redis.Client
	channel string
	local   *LocalSignal
	pending chan struct{}
	logger  *logger.Logger
}

func NewRedisSignal(ctx context.Context, cfg RedisConfig, log *logger.Logger) (*RedisSignal, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "technoshare:jobs"
	}
	if log == nil {
		log = logger.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisSignal{
		client:  client,
		channel: cfg.Channel,
		local:   NewLocalSignal(),
		pending: make(chan struct{}, 1),
		logger:  log,
	}, nil
}

// Client exposes the connection so other components can share it.
func (s *RedisSignal) Client() *redis.Client {
	return s.client
}

func (s *RedisSignal) Close() error {
	return s.client.Close()
}

// Notify coalesces bursts into a single pending publish.
func (s *RedisSignal) Notify(context.Context) {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *RedisSignal) Wait(ctx context.Context, timeout time.Duration) bool {
	return s.local.Wait(ctx, timeout)
}

// Run publishes pending notifications and relays received ones to local
// waiters until ctx is cancelled.
func (s *RedisSignal) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.publishLoop(groupCtx) })
	group.Go(func() error { return s.subscribeLoop(groupCtx) })
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *RedisSignal) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.pending:
			publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := s.client.Publish(publishCtx, s.channel, "job").Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("publish wake signal failed", "channel", s.channel, "error", err)
				s.local.Notify(ctx)
			}
		}
	}
}

func (s *RedisSignal) subscribeLoop(ctx context.Context) error {
	subscription := s.client.Subscribe(ctx, s.channel)
	defer subscription.Close()

	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			s.local.Notify(ctx)
		}
	}
}
