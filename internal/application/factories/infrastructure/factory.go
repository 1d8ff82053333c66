package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"distributor/internal/config"
	"distributor/internal/infrastructure/kafka"
	"distributor/internal/infrastructure/postgres"
	"distributor/internal/infrastructure/redis"
	"distributor/internal/intake"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"
)

// Factory builds and owns the external clients; Close releases all of them.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	pgPool     *pgxpool.Pool
	redisCli   *go_redis.Client
	consumers  []*kafka.Consumer
	deadLetter *kafka.DeadLetterPublisher
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	// Retry connection up to 5 times
	for i := 0; i < 5; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
		})
		if err == nil {
			break
		}
		f.logger.Warn("failed to connect to postgres, retrying", "attempt", i+1, "max", 5, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     f.cfg.Redis.Addr,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

// Deduplicator returns the configured duplicate filter, or nil for "none".
func (f *Factory) Deduplicator(ctx context.Context) (intake.Deduplicator, error) {
	switch f.cfg.Dedup.Backend {
	case config.DedupRedis:
		client, err := f.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewDeduplicator(client, f.cfg.Dedup.TTL), nil

	case config.DedupPostgres:
		pool, err := f.Postgres(ctx)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewInboxRepository(pool, f.cfg.Kafka.GroupID)
		if err := repo.CreateSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, nil
}

// Consumers opens one group reader per configured upstream topic.
func (f *Factory) Consumers() []*kafka.Consumer {
	if f.consumers != nil {
		return f.consumers
	}
	for _, t := range f.cfg.Kafka.Topics {
		f.consumers = append(f.consumers, kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     f.cfg.Kafka.Brokers,
			Topic:       t,
			GroupID:     f.cfg.Kafka.GroupID,
			StartOffset: f.cfg.Kafka.StartOffset,
		}))
	}
	return f.consumers
}

// DeadLetter returns nil when no dead-letter topic is configured.
func (f *Factory) DeadLetter() *kafka.DeadLetterPublisher {
	if f.cfg.Kafka.DeadLetterTopic == "" {
		return nil
	}
	if f.deadLetter == nil {
		f.deadLetter = kafka.NewDeadLetterPublisher(kafka.DeadLetterConfig{
			Brokers: f.cfg.Kafka.Brokers,
			Topic:   f.cfg.Kafka.DeadLetterTopic,
		})
	}
	return f.deadLetter
}

func (f *Factory) Close() {
	for _, c := range f.consumers {
		if err := c.Close(); err != nil {
			f.logger.Warn("failed to close kafka reader", "topic", c.Topic(), "error", err)
		}
	}
	if f.deadLetter != nil {
		if err := f.deadLetter.Close(); err != nil {
			f.logger.Warn("failed to close dead-letter writer", "error", err)
		}
	}
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
}
