package auditlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/testinfra"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	pool := testinfra.Postgres(t)
	ctx := context.Background()

	store := auditlog.NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema creation should be idempotent")

	sentinel := job.ProcessingSentinel
	img := "https://example.com/cat.jpg"
	rec := &auditlog.Record{ImageURL: &img, TextPrompt: "Describe this image...", Output: &sentinel, ModelUsed: "gemini-2.5-flash"}
	require.NoError(t, store.Create(ctx, rec))
	assert.Positive(t, rec.ID)

	other := &auditlog.Record{TextPrompt: "hello", Output: &sentinel, ModelUsed: "gemini-2.5-flash"}
	require.NoError(t, store.Create(ctx, other))
	assert.NotEqual(t, rec.ID, other.ID)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Pending(job.ProcessingSentinel))
	assert.Equal(t, img, *got.ImageURL)

	require.NoError(t, store.UpdateOutput(ctx, rec.ID, "a cat", "gpt-4o"))
	require.NoError(t, store.UpdateOutput(ctx, rec.ID, "a cat", ""), "redelivery overwrites")

	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a cat", *got.Output)
	assert.Equal(t, "gpt-4o", got.ModelUsed)

	assert.ErrorIs(t, store.UpdateOutput(ctx, 424242, "x", ""), job.ErrNotFound)
	_, err = store.Get(ctx, 424242)
	assert.ErrorIs(t, err, job.ErrNotFound)
}
