package job

import (
	"time"

	"github.com/lib/pq"
)

// Record is the durable job document. It is created once per accepted
// submission, never deleted, and mutated only by the state machine.
type Record struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	State         State          `db:"state"`
	TopFilename   string         `db:"top_filename"`
	Filenames     pq.StringArray `db:"filenames"`
	CheckoutRef   string         `db:"checkout_ref"`
	InstanceClass string         `db:"instance_class"`
	Price         int64          `db:"price"`
	Paid          bool           `db:"paid"`
	OutputReady   bool           `db:"output_ready"`
	Done          bool           `db:"done"`
	Terminated    bool           `db:"terminated"`
	InstanceID    string         `db:"instance_id"`
	CreatedAt     time.Time      `db:"created_at"`
	CompletedAt   *time.Time     `db:"completed_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// LogEntry is one immutable line of a job's log. Entries are ordered by Seq,
// which is assigned per job at insertion.
type LogEntry struct {
	JobID string    `db:"job_id"`
	Seq   int       `db:"seq"`
	At    time.Time `db:"at"`
	Line  string    `db:"line"`
}

// Account is a user's billing view: balance in integer currency units plus
// the pending markers written between a debit and its confirmation.
type Account struct {
	ID          string         `db:"id"`
	Username    string         `db:"username"`
	Admin       bool           `db:"admin"`
	Active      bool           `db:"active"`
	Balance     int64          `db:"balance"`
	PendingJobs pq.StringArray `db:"pending_jobs"`
}

// Transaction records an external payment capture that credited a balance.
// Rows are never mutated after creation.
type Transaction struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Amount    int64     `db:"amount"`
	ChargeRef string    `db:"charge_ref"`
	CreatedAt time.Time `db:"created_at"`
}
