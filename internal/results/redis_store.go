package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/visionq/internal/job"
)

const maxUpdateRetries = 5

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore keeps documents for ttl; zero keeps them until deleted.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, res *job.Result) error {
	key := job.ResultKey(res.PostgresID)
	if err := s.rdb.Set(ctx, key, res, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write result %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, recordID int64) (*job.Result, error) {
	key := job.ResultKey(recordID)
	var res job.Result
	err := s.rdb.Get(ctx, key).Scan(&res)
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("result %s: %w", key, job.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", key, err)
	}
	return &res, nil
}

func (s *RedisStore) UpdateDescription(ctx context.Context, recordID int64, description string) (*job.Result, error) {
	key := job.ResultKey(recordID)
	var updated job.Result

	txf := func(tx *redis.Tx) error {
		if err := tx.Get(ctx, key).Scan(&updated); err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("result %s: %w", key, job.ErrNotFound)
			}
			return err
		}
		updated.Description = description

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, &updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return &updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, job.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update result %s: %w", key, err)
	}
	return nil, fmt.Errorf("failed to update result %s: too much contention", key)
}

func (s *RedisStore) Delete(ctx context.Context, recordID int64) error {
	key := job.ResultKey(recordID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete result %s: %w", key, err)
	}
	return nil
}
