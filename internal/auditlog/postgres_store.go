package auditlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/visionq/internal/job"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS request_logs (
		id              BIGSERIAL PRIMARY KEY,
		image_url       TEXT,
		text_prompt     TEXT NOT NULL,
		llm_description TEXT,
		model_used      TEXT NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the request_logs table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create request_logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO request_logs (image_url, text_prompt, llm_description, model_used)
		VALUES ($1, $2, $3, $4)
		RETURNING id, timestamp
	`
	err := s.db.QueryRow(ctx, query,
		rec.ImageURL, rec.TextPrompt, rec.Output, rec.ModelUsed,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}

	return nil
}

func (s *PostgresStore) UpdateOutput(ctx context.Context, id int64, output, model string) error {
	query := `UPDATE request_logs SET llm_description = $2, model_used = COALESCE(NULLIF($3, ''), model_used) WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, output, model)
	if err != nil {
		return fmt.Errorf("failed to update request log %d: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request log %d: %w", id, job.ErrNotFound)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Record, error) {
	query := `
		SELECT id, image_url, text_prompt, llm_description, model_used, timestamp
		FROM request_logs
		WHERE id = $1
	`

	var r Record
	err := s.db.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.ImageURL, &r.TextPrompt, &r.Output, &r.ModelUsed, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("request log %d: %w", id, job.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get request log: %w", err)
	}

	return &r, nil
}
