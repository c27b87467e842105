package dto

type SubmitJobResponse struct {
	JobID    string `json:"job_id"`
	State    string `json:"state"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	State    string `form:"state"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string   `json:"job_id"`
	UserID        string   `json:"user_id"`
	State         string   `json:"state"`
	TopFilename   string   `json:"top_filename"`
	Filenames     []string `json:"filenames"`
	CheckoutRef   string   `json:"checkout_ref"`
	InstanceClass string   `json:"instance_class"`
	Price         int64    `json:"price"`
	Paid          bool     `json:"paid"`
	OutputReady   bool     `json:"output_ready"`
	Done          bool     `json:"done"`
	Terminated    bool     `json:"terminated"`
	InstanceID    string   `json:"instance_id,omitempty"`
	CreatedAt     string   `json:"created_at"`
	CompletedAt   string   `json:"completed_at,omitempty"`
	UpdatedAt     string   `json:"updated_at"`
}

type TailLogsResponse struct {
	JobID      string       `json:"job_id"`
	State      string       `json:"state"`
	Done       bool         `json:"done"`
	NextOffset int          `json:"next_offset"`
	Lines      []LogLineDTO `json:"lines"`
}

type LogLineDTO struct {
	Seq  int    `json:"seq"`
	At   string `json:"at"`
	Line string `json:"line"`
}

type CaptureRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	ChargeRef string `json:"charge_ref" binding:"required"`
}

type AccountResponse struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Admin       bool     `json:"admin"`
	Active      bool     `json:"active"`
	Balance     int64    `json:"balance"`
	PendingJobs []string `json:"pending_jobs"`
}

type TransactionDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	ChargeRef string `json:"charge_ref"`
	CreatedAt string `json:"created_at"`
}
