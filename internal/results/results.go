// Package results is the low-latency, key-addressed store pollers read.
package results

import (
	"context"

	"github.com/vnmchuo/visionq/internal/job"
)

type Store interface {
	// Put overwrites the document for res.PostgresID.
	Put(ctx context.Context, res *job.Result) error
	// Get returns job.ErrNotFound when no document exists yet.
	Get(ctx context.Context, recordID int64) (*job.Result, error)
	// UpdateDescription edits an existing document in place.
	UpdateDescription(ctx context.Context, recordID int64, description string) (*job.Result, error)
	// Delete is idempotent.
	Delete(ctx context.Context, recordID int64) error
}
