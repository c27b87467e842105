package job

import "errors"

var (
	// ErrNotFound is returned when a job cannot be found.
	ErrNotFound = errors.New("job not found")

	// ErrAccountNotFound is returned when a user account cannot be found.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidSubmission is returned when a submission fails validation
	// before any billing or provisioning has happened.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrInsufficientBalance is returned when a non-admin debit would go
	// negative. The reservation has been compensated and the job abandoned.
	ErrInsufficientBalance = errors.New("balance is too short")

	// ErrCompensationFailed is a fatal consistency fault: the debit went
	// through but the compensating credit did not. The account is left
	// inconsistent and needs operator attention.
	ErrCompensationFailed = errors.New("cannot revert balance")

	// ErrStaleState is returned when a guarded state update matched no row,
	// meaning the job is not in the expected state.
	ErrStaleState = errors.New("job not in expected state")

	// ErrNoArtifact marks a build that exited without producing the
	// expected output artifact.
	ErrNoArtifact = errors.New("no output artifact")
)
