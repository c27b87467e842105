package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hlsforge/build-service/internal/job"
)

// Store handles all database operations for job records
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new job record in its initial state
func (s *Store) CreateJob(ctx context.Context, rec *job.Record) error {
	query := `
		INSERT INTO jobs (
			id, user_id, state, top_filename, filenames, checkout_ref,
			instance_class, price, paid, output_ready, done, terminated,
			instance_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.UserID,
		rec.State,
		rec.TopFilename,
		pq.Array([]string(rec.Filenames)),
		rec.CheckoutRef,
		rec.InstanceClass,
		rec.Price,
		rec.Paid,
		rec.OutputReady,
		rec.Done,
		rec.Terminated,
		rec.InstanceID,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

const jobColumns = `
	id, user_id, state, top_filename, filenames, checkout_ref,
	instance_class, price, paid, output_ready, done, terminated,
	instance_id, created_at, completed_at, updated_at
`

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var rec job.Record
	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &rec, nil
}

// GetJobForUser retrieves a job by ID scoped to its owner
func (s *Store) GetJobForUser(ctx context.Context, id, userID string) (*job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2`

	var rec job.Record
	if err := s.db.GetContext(ctx, &rec, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &rec, nil
}

// Filter narrows a job listing
type Filter struct {
	UserID   string
	State    string
	PageSize int
	Cursor   *Cursor
}

// Cursor is a (created_at, id) keyset position for pagination
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs lists jobs newest first with keyset pagination. An empty UserID
// lists all users' jobs (admin view).
func (s *Store) ListJobs(ctx context.Context, filter Filter) ([]job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []job.Record
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// AdvanceState moves a job from one state to the next with a guarded update.
// The WHERE clause pins the current state, so a stale caller cannot skip or
// rewind; zero rows affected means the job was not where the caller thought.
func (s *Store) AdvanceState(ctx context.Context, id string, from, to job.State) error {
	if !from.CanAdvance(to) {
		return fmt.Errorf("%w: %s -> %s", job.ErrStaleState, from, to)
	}

	query := `
		UPDATE jobs
		SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`

	result, err := s.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to advance job state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: wanted %s", job.ErrStaleState, from)
	}

	s.logger.Info("Job state advanced",
		slog.String("job_id", id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)

	return nil
}

// MarkPaid flips a job from unpaid to paid after a successful reservation
func (s *Store) MarkPaid(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET state = $1, paid = TRUE, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`

	result, err := s.db.ExecContext(ctx, query, job.StatePaid, id, job.StateUnpaid)
	if err != nil {
		return fmt.Errorf("failed to mark job paid: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: wanted %s", job.ErrStaleState, job.StateUnpaid)
	}

	return nil
}

// SetInstance records the compute instance handle once provisioned
func (s *Store) SetInstance(ctx context.Context, id, instanceID string) error {
	query := `UPDATE jobs SET instance_id = $1, updated_at = NOW() WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, instanceID, id); err != nil {
		return fmt.Errorf("failed to set instance: %w", err)
	}

	return nil
}

// CompleteExecution records the outcome of the build subprocess: the final
// done/error state, whether the artifact is downloadable, and the completion
// timestamp. done is set in both cases.
func (s *Store) CompleteExecution(ctx context.Context, id string, outputReady bool, to job.State) error {
	if to != job.StateDone && to != job.StateError {
		return fmt.Errorf("%w: %s is not a completion state", job.ErrStaleState, to)
	}

	query := `
		UPDATE jobs
		SET state = $1, output_ready = $2, done = TRUE, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND state = $4
	`

	result, err := s.db.ExecContext(ctx, query, to, outputReady, id, job.StateConnected)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: wanted %s", job.ErrStaleState, job.StateConnected)
	}

	return nil
}

// MarkTerminated records a confirmed instance termination. Only done or
// error jobs can reach the terminal state.
func (s *Store) MarkTerminated(ctx context.Context, id string, from job.State) error {
	if !from.CanAdvance(job.StateInstanceTerminated) {
		return fmt.Errorf("%w: %s -> %s", job.ErrStaleState, from, job.StateInstanceTerminated)
	}

	query := `
		UPDATE jobs
		SET state = $1, terminated = TRUE, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`

	result, err := s.db.ExecContext(ctx, query, job.StateInstanceTerminated, id, from)
	if err != nil {
		return fmt.Errorf("failed to mark job terminated: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: wanted %s", job.ErrStaleState, from)
	}

	return nil
}
