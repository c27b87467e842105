package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hlsforge/build-service/internal/job"
)

// sqlStore is the Postgres-backed account store. Every balance mutation is
// a single conditional UPDATE, so no application-level lock is needed.
type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates the Postgres account store
func NewStore(db *sqlx.DB) *sqlStore {
	return &sqlStore{db: db}
}

func (s *sqlStore) GetAccount(ctx context.Context, userID string) (*job.Account, error) {
	query := `
		SELECT id, username, admin, active, balance, pending_jobs
		FROM users
		WHERE id = $1
	`

	var acct job.Account
	if err := s.db.GetContext(ctx, &acct, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &acct, nil
}

func (s *sqlStore) DebitForJob(ctx context.Context, userID string, amount int64, jobID string) (int64, error) {
	query := `
		UPDATE users
		SET balance = balance - $1,
		    pending_jobs = array_append(pending_jobs, $2::uuid)
		WHERE id = $3
		RETURNING balance
	`

	var balance int64
	err := s.db.QueryRowContext(ctx, query, amount, jobID, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, job.ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}

	return balance, nil
}

func (s *sqlStore) CreditForJob(ctx context.Context, userID string, amount int64, jobID string) error {
	query := `
		UPDATE users
		SET balance = balance + $1,
		    pending_jobs = array_remove(pending_jobs, $2::uuid)
		WHERE id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, amount, jobID, userID); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	return nil
}

func (s *sqlStore) ClearPending(ctx context.Context, userID, jobID string) error {
	query := `
		UPDATE users
		SET pending_jobs = array_remove(pending_jobs, $1::uuid)
		WHERE id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, userID); err != nil {
		return fmt.Errorf("failed to clear pending marker: %w", err)
	}

	return nil
}

func (s *sqlStore) InsertTransaction(ctx context.Context, tx *job.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, amount, charge_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query, tx.ID, tx.UserID, tx.Amount, tx.ChargeRef, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

func (s *sqlStore) CreditBalance(ctx context.Context, userID string, amount int64) error {
	query := `UPDATE users SET balance = balance + $1 WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, amount, userID); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	return nil
}

func (s *sqlStore) ListTransactions(ctx context.Context, userID string) ([]job.Transaction, error) {
	query := `
		SELECT id, user_id, amount, charge_ref, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	var txs []job.Transaction
	if err := s.db.SelectContext(ctx, &txs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txs, nil
}
