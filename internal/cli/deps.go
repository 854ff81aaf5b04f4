package cli

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/provider"
	"github.com/vnmchuo/visionq/internal/provider/claude"
	"github.com/vnmchuo/visionq/internal/provider/gemini"
	"github.com/vnmchuo/visionq/internal/provider/openai"
	"github.com/vnmchuo/visionq/internal/queue"
)

// connectStores opens the audit log and the Redis client shared by the
// result store and the stream queue. The caller closes both.
func connectStores(ctx context.Context) (*pgxpool.Pool, *redis.Client, *auditlog.PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")

	audit := auditlog.NewPostgresStore(pool)
	if err := audit.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Redis connected")

	return pool, rdb, audit, nil
}

func newSQSClient(ctx context.Context) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

func newPublisher(ctx context.Context, rdb *redis.Client) (queue.Publisher, error) {
	if cfg.QueueBackend == "sqs" {
		client, err := newSQSClient(ctx)
		if err != nil {
			return nil, err
		}
		return queue.NewSQS(client, cfg.SQSQueueURL), nil
	}

	stream := queue.NewRedisStream(rdb, cfg.QueueName, cfg.QueueGroup, cfg.WorkerID, cfg.QueueClaimIdle)
	if err := stream.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	return stream, nil
}

// newConsumers returns one consumer per worker loop. Stream consumers get
// distinct names so a crashed loop's pending entries can be claimed.
func newConsumers(ctx context.Context, rdb *redis.Client, n int) ([]queue.Consumer, error) {
	consumers := make([]queue.Consumer, 0, n)

	if cfg.QueueBackend == "sqs" {
		client, err := newSQSClient(ctx)
		if err != nil {
			return nil, err
		}
		q := queue.NewSQS(client, cfg.SQSQueueURL)
		for i := 0; i < n; i++ {
			consumers = append(consumers, q)
		}
		return consumers, nil
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s-%d", cfg.WorkerID, i)
		stream := queue.NewRedisStream(rdb, cfg.QueueName, cfg.QueueGroup, name, cfg.QueueClaimIdle)
		if i == 0 {
			if err := stream.EnsureGroup(ctx); err != nil {
				return nil, err
			}
		}
		consumers = append(consumers, stream)
	}
	return consumers, nil
}

// newProviders registers a provider for every API key that is set.
func newProviders() []provider.Provider {
	var providers []provider.Provider
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, gemini.New(cfg.GeminiAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, claude.New(cfg.AnthropicAPIKey))
	}
	return providers
}
