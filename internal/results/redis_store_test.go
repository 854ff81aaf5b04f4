package results_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/results"
	"github.com/vnmchuo/visionq/internal/testinfra"
)

func TestRedisStoreLifecycle(t *testing.T) {
	rdb := testinfra.Redis(t)
	ctx := context.Background()
	store := results.NewRedisStore(rdb, 0)

	_, err := store.Get(ctx, 1)
	assert.ErrorIs(t, err, job.ErrNotFound, "unprocessed job has no result")

	doc := &job.Result{PostgresID: 1, TextPrompt: "hello", Description: "hi there", ProcessedAt: time.Now().UTC()}
	require.NoError(t, store.Put(ctx, doc))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PostgresID)
	assert.Equal(t, "hi there", got.Description)

	doc.Description = "second delivery"
	require.NoError(t, store.Put(ctx, doc), "redelivery overwrites")
	got, err = store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "second delivery", got.Description)

	updated, err := store.UpdateDescription(ctx, 1, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Description)
	assert.Equal(t, "hello", updated.TextPrompt)

	_, err = store.UpdateDescription(ctx, 2, "nope")
	assert.ErrorIs(t, err, job.ErrNotFound)

	require.NoError(t, store.Delete(ctx, 1))
	require.NoError(t, store.Delete(ctx, 1), "delete is idempotent")
	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	rdb := testinfra.Redis(t)
	ctx := context.Background()
	store := results.NewRedisStore(rdb, time.Minute)

	require.NoError(t, store.Put(ctx, &job.Result{PostgresID: 5, TextPrompt: "x"}))
	ttl, err := rdb.TTL(ctx, job.ResultKey(5)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = store.UpdateDescription(ctx, 5, "y")
	require.NoError(t, err)
	ttl, err = rdb.TTL(ctx, job.ResultKey(5)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "edits keep the expiry")
}

func TestRedisStoreConcurrentPutsStayKeyed(t *testing.T) {
	rdb := testinfra.Redis(t)
	ctx := context.Background()
	store := results.NewRedisStore(rdb, 0)

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, &job.Result{PostgresID: id, TextPrompt: "p", Description: "d"}))
		}(i)
	}
	wg.Wait()

	for i := int64(1); i <= 20; i++ {
		got, err := store.Get(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, i, got.PostgresID)
	}
}
