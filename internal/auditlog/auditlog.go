// Package auditlog is the relational record of every submitted job. It assigns
// job identity and keeps the final output after the result store copy is gone.
package auditlog

import (
	"context"
	"time"
)

type Record struct {
	ID         int64     `json:"id"`
	ImageURL   *string   `json:"image_url"`
	TextPrompt string    `json:"text_prompt"`
	Output     *string   `json:"llm_description"`
	ModelUsed  string    `json:"model_used"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Pending reports whether the record still carries the in-flight sentinel.
func (r *Record) Pending(sentinel string) bool {
	return r.Output == nil || *r.Output == sentinel
}

type Store interface {
	// Create inserts rec and fills in ID and CreatedAt.
	Create(ctx context.Context, rec *Record) error
	// UpdateOutput overwrites the output of an existing record.
	// Returns job.ErrNotFound when the id does not exist.
	UpdateOutput(ctx context.Context, id int64, output, model string) error
	Get(ctx context.Context, id int64) (*Record, error)
}
