package logsink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/hlsforge/build-service/internal/job"
)

// Sink is the durable, append-only log store. Each job has one writer (its
// pipeline) and any number of concurrent pollers; entries are ordered by a
// per-job sequence number assigned at insertion and are never mutated.
type Sink struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSink creates a new Sink instance
func NewSink(db *sqlx.DB, logger *slog.Logger) *Sink {
	return &Sink{
		db:     db,
		logger: logger,
	}
}

// Append adds one immutable, timestamped line to a job's log. The per-job
// sequence number relies on the single-writer contract; no lock is taken.
func (s *Sink) Append(ctx context.Context, jobID, line string) error {
	query := `
		INSERT INTO job_logs (job_id, seq, at, line)
		SELECT $1, COALESCE(MAX(seq) + 1, 0), NOW(), $2
		FROM job_logs
		WHERE job_id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, line); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

// TailSince returns all of a job's entries with seq >= offset, in insertion
// order. Pollers pass their last-consumed offset + 1 on each call.
func (s *Sink) TailSince(ctx context.Context, jobID string, offset int) ([]job.LogEntry, error) {
	query := `
		SELECT job_id, seq, at, line
		FROM job_logs
		WHERE job_id = $1 AND seq >= $2
		ORDER BY seq ASC
	`

	var entries []job.LogEntry
	if err := s.db.SelectContext(ctx, &entries, query, jobID, offset); err != nil {
		return nil, fmt.Errorf("failed to tail log entries: %w", err)
	}

	return entries, nil
}
