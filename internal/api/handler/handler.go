package handler

import (
	"context"
	"log/slog"

	"github.com/hlsforge/build-service/internal/billing"
	"github.com/hlsforge/build-service/internal/config"
	"github.com/hlsforge/build-service/internal/job"
	"github.com/hlsforge/build-service/internal/job/storage"
	"github.com/hlsforge/build-service/internal/logsink"
	"github.com/hlsforge/build-service/shared/postgresql"
	"github.com/hlsforge/build-service/shared/rabbitmq"
)

// jobStore is the job persistence surface the handlers use; the production
// implementation is storage.Store.
type jobStore interface {
	CreateJob(ctx context.Context, rec *job.Record) error
	GetJob(ctx context.Context, id string) (*job.Record, error)
	GetJobForUser(ctx context.Context, id, userID string) (*job.Record, error)
	ListJobs(ctx context.Context, filter storage.Filter) ([]job.Record, error)
	MarkPaid(ctx context.Context, id string) error
}

// logTailer is the read side of the log sink
type logTailer interface {
	TailSince(ctx context.Context, jobID string, offset int) ([]job.LogEntry, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Store        *storage.Store
	Sink         *logsink.Sink
	Billing      *billing.Service
	Config       *config.Config
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        jobStore
	sink         logTailer
	billing      *billing.Service
	pricing      config.BillingConfig
	submission   config.SubmissionConfig
	workRoot     string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		rabbitClient: deps.RabbitClient,
		store:        deps.Store,
		sink:         deps.Sink,
		billing:      deps.Billing,
		pricing:      deps.Config.Billing,
		submission:   deps.Config.Submission,
		workRoot:     deps.Config.Build.WorkRoot,
	}
}

// AccountHandler handles billing account HTTP requests
type AccountHandler struct {
	logger  *slog.Logger
	billing *billing.Service
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(deps *Dependencies) *AccountHandler {
	return &AccountHandler{
		logger:  deps.Logger,
		billing: deps.Billing,
	}
}
