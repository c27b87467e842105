package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hlsforge/build-service/internal/job"
)

// accountStore is the balance/pending-marker storage the reservation needs.
// The production implementation is sqlStore; tests substitute a fake.
type accountStore interface {
	GetAccount(ctx context.Context, userID string) (*job.Account, error)
	// DebitForJob decrements the balance and appends the pending marker in
	// one indivisible update, returning the post-update balance.
	DebitForJob(ctx context.Context, userID string, amount int64, jobID string) (int64, error)
	// CreditForJob is the compensating update: credit the balance back and
	// pull the pending marker, again in one indivisible update.
	CreditForJob(ctx context.Context, userID string, amount int64, jobID string) error
	ClearPending(ctx context.Context, userID, jobID string) error
	InsertTransaction(ctx context.Context, tx *job.Transaction) error
	CreditBalance(ctx context.Context, userID string, amount int64) error
	ListTransactions(ctx context.Context, userID string) ([]job.Transaction, error)
}

// Service charges user balances for build jobs
type Service struct {
	store  accountStore
	logger *slog.Logger
}

// NewService creates a billing service backed by the given store
func NewService(store accountStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Account retrieves a user's billing account
func (s *Service) Account(ctx context.Context, userID string) (*job.Account, error) {
	return s.store.GetAccount(ctx, userID)
}

// Transactions lists a user's capture history, newest first
func (s *Service) Transactions(ctx context.Context, userID string) ([]job.Transaction, error) {
	return s.store.ListTransactions(ctx, userID)
}

// Reserve atomically debits the user's balance by the job's price and writes
// the pending marker. Admins may carry a negative balance. For anyone else a
// negative result triggers the compensating credit and ErrInsufficientBalance;
// if the compensation itself fails the account is left inconsistent and
// ErrCompensationFailed is returned after an operator-level log.
//
// The pending marker only exists for the window between debit and
// confirmation; Confirm clears it.
func (s *Service) Reserve(ctx context.Context, acct *job.Account, rec *job.Record) (int64, error) {
	balance, err := s.store.DebitForJob(ctx, acct.ID, rec.Price, rec.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve job charge: %w", err)
	}

	s.logger.Info("Balance debited for job",
		slog.String("user_id", acct.ID),
		slog.String("job_id", rec.ID),
		slog.Int64("price", rec.Price),
		slog.Int64("balance", balance),
	)

	if balance >= 0 || acct.Admin {
		return balance, nil
	}

	if err := s.store.CreditForJob(ctx, acct.ID, rec.Price, rec.ID); err != nil {
		// The debit went through and the credit did not. Nothing here can
		// repair the account; all we can do is make noise for the operator.
		s.logger.Error("cannot revert balance",
			slog.String("user_id", acct.ID),
			slog.String("job_id", rec.ID),
			slog.Int64("price", rec.Price),
			slog.String("consistency", "fatal"),
			slog.Any("error", err),
		)
		return balance, fmt.Errorf("%w: %v", job.ErrCompensationFailed, err)
	}

	s.logger.Info("Reservation compensated, balance too short",
		slog.String("user_id", acct.ID),
		slog.String("job_id", rec.ID),
	)

	return balance + rec.Price, job.ErrInsufficientBalance
}

// Confirm clears the pending marker once the job has been marked paid
func (s *Service) Confirm(ctx context.Context, userID, jobID string) error {
	if err := s.store.ClearPending(ctx, userID, jobID); err != nil {
		return fmt.Errorf("failed to clear pending marker: %w", err)
	}
	return nil
}

// Capture records an external payment capture: an immutable transaction row
// plus the balance credit. The card charge itself happens upstream; only its
// balance-mutation contract lands here.
func (s *Service) Capture(ctx context.Context, tx *job.Transaction) error {
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: capture amount must be positive", job.ErrInvalidSubmission)
	}

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := s.store.CreditBalance(ctx, tx.UserID, tx.Amount); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	s.logger.Info("Balance captured",
		slog.String("user_id", tx.UserID),
		slog.Int64("amount", tx.Amount),
	)

	return nil
}

// IsInsufficientBalance reports whether err is the insufficient-balance fault
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, job.ErrInsufficientBalance)
}
