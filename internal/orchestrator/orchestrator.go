package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hlsforge/build-service/internal/compute"
	"github.com/hlsforge/build-service/internal/executor"
	"github.com/hlsforge/build-service/internal/job"
)

// JobStore persists job records and their state transitions
type JobStore interface {
	GetJob(ctx context.Context, id string) (*job.Record, error)
	AdvanceState(ctx context.Context, id string, from, to job.State) error
	SetInstance(ctx context.Context, id, instanceID string) error
	CompleteExecution(ctx context.Context, id string, outputReady bool, to job.State) error
	MarkTerminated(ctx context.Context, id string, from job.State) error
}

// LogSink receives the job's progress and build output lines
type LogSink interface {
	Append(ctx context.Context, jobID, line string) error
}

// InstanceProvisioner allocates and tears down build instances
type InstanceProvisioner interface {
	Provision(ctx context.Context, instanceClass string) (compute.Instance, error)
	Teardown(ctx context.Context, instanceID string) error
}

// ConnectivityProber waits for a fresh instance to accept connections
type ConnectivityProber interface {
	AwaitReachable(ctx context.Context, address string) error
}

// BuildRunner executes the build subprocess for one job
type BuildRunner interface {
	Run(ctx context.Context, spec executor.Spec) error
}

// Config holds the orchestrator settings
type Config struct {
	WorkRoot string
}

// Orchestrator drives one paid job through its whole lifecycle: workspace
// preparation, instance provisioning, connectivity probing, build execution
// and teardown. Each step persists its state transition before the next one
// starts, so a crash leaves the job parked at the last completed step.
type Orchestrator struct {
	cfg         Config
	store       JobStore
	sink        LogSink
	provisioner InstanceProvisioner
	prober      ConnectivityProber
	runner      BuildRunner
	logger      *slog.Logger
}

// New creates an orchestrator
func New(
	cfg Config,
	store JobStore,
	sink LogSink,
	provisioner InstanceProvisioner,
	prober ConnectivityProber,
	runner BuildRunner,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		sink:        sink,
		provisioner: provisioner,
		prober:      prober,
		runner:      runner,
		logger:      logger,
	}
}

// RunJob executes the full pipeline for one dispatched job. It never returns
// an error: every fault is logged, appended to the job's log and leaves the
// job parked at its last persisted state for an operator to inspect.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) {
	logger := o.logger.With(slog.String("job_id", jobID))

	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("Failed to load dispatched job", slog.Any("error", err))
		return
	}

	// Redelivered or replayed messages land here; the pipeline only picks
	// up jobs that are paid and untouched.
	if rec.State != job.StatePaid {
		logger.Warn("Skipping job not in paid state",
			slog.String("state", rec.State.String()),
		)
		return
	}

	workDir := filepath.Join(o.cfg.WorkRoot, rec.ID)

	if err := prepareWorkspace(workDir, rec.Filenames); err != nil {
		o.fail(ctx, logger, rec.ID, fmt.Errorf("failed to prepare workspace: %w", err))
		return
	}

	if err := o.advance(ctx, logger, rec.ID, job.StatePaid, job.StateFilePrepared); err != nil {
		return
	}

	inst, err := o.provisioner.Provision(ctx, rec.InstanceClass)
	if err != nil {
		o.fail(ctx, logger, rec.ID, fmt.Errorf("failed to provision instance: %w", err))
		// A handle without a running instance still costs money; release
		// it before parking the job.
		o.releaseInstance(ctx, logger, inst.ID)
		return
	}

	if err := o.store.SetInstance(ctx, rec.ID, inst.ID); err != nil {
		o.fail(ctx, logger, rec.ID, fmt.Errorf("failed to record instance: %w", err))
		o.releaseInstance(ctx, logger, inst.ID)
		return
	}

	if err := o.advance(ctx, logger, rec.ID, job.StateFilePrepared, job.StateInstanceStarted); err != nil {
		o.releaseInstance(ctx, logger, inst.ID)
		return
	}

	if err := o.prober.AwaitReachable(ctx, inst.PrivateDNS); err != nil {
		o.fail(ctx, logger, rec.ID, fmt.Errorf("instance never became reachable: %w", err))
		o.releaseInstance(ctx, logger, inst.ID)
		return
	}

	if err := o.advance(ctx, logger, rec.ID, job.StateInstanceStarted, job.StateConnected); err != nil {
		o.releaseInstance(ctx, logger, inst.ID)
		return
	}

	runErr := o.runner.Run(ctx, executor.Spec{
		JobID:       rec.ID,
		WorkDir:     workDir,
		TopBase:     topBase(rec.TopFilename),
		CheckoutRef: rec.CheckoutRef,
		RemoteHost:  inst.PrivateDNS,
	})

	outputReady := runErr == nil && executor.ArtifactReady(workDir)

	final := job.StateError
	switch {
	case runErr != nil:
		o.appendLine(ctx, logger, rec.ID, fmt.Sprintf("error: %v", runErr))
	case !outputReady:
		o.appendLine(ctx, logger, rec.ID, "error: build produced no artifact")
	default:
		final = job.StateDone
	}

	if err := o.store.CompleteExecution(ctx, rec.ID, outputReady, final); err != nil {
		logger.Error("Failed to record build outcome", slog.Any("error", err))
		return
	}
	o.appendLine(ctx, logger, rec.ID, "status changed: "+final.String())

	// Teardown after the outcome is recorded. Only a confirmed termination
	// moves the job to its terminal state; an unconfirmed one parks it
	// with the instance handle still on record.
	if err := o.provisioner.Teardown(ctx, inst.ID); err != nil {
		logger.Error("Failed to tear down instance",
			slog.String("instance_id", inst.ID),
			slog.Any("error", err),
		)
		o.appendLine(ctx, logger, rec.ID, fmt.Sprintf("error: %v", err))
		return
	}

	if err := o.store.MarkTerminated(ctx, rec.ID, final); err != nil {
		logger.Error("Failed to mark job terminated", slog.Any("error", err))
		return
	}
	o.appendLine(ctx, logger, rec.ID, "status changed: "+job.StateInstanceTerminated.String())

	logger.Info("Job pipeline finished",
		slog.String("final_state", final.String()),
		slog.Bool("output_ready", outputReady),
	)
}

// advance persists one state transition and marks it in the job's log
func (o *Orchestrator) advance(ctx context.Context, logger *slog.Logger, jobID string, from, to job.State) error {
	if err := o.store.AdvanceState(ctx, jobID, from, to); err != nil {
		logger.Error("Failed to advance job state",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.Any("error", err),
		)
		return err
	}

	o.appendLine(ctx, logger, jobID, "status changed: "+to.String())

	return nil
}

// fail parks the job at its current state with the fault on its log
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, jobID string, err error) {
	logger.Error("Job pipeline fault", slog.Any("error", err))
	o.appendLine(ctx, logger, jobID, fmt.Sprintf("error: %v", err))
}

// releaseInstance is the best-effort teardown used on pipeline faults. The
// job stays non-terminal either way; this only stops the instance billing.
func (o *Orchestrator) releaseInstance(ctx context.Context, logger *slog.Logger, instanceID string) {
	if instanceID == "" {
		return
	}

	if err := o.provisioner.Teardown(ctx, instanceID); err != nil {
		logger.Error("Failed to release instance after fault",
			slog.String("instance_id", instanceID),
			slog.Any("error", err),
		)
	}
}

func (o *Orchestrator) appendLine(ctx context.Context, logger *slog.Logger, jobID, line string) {
	if err := o.sink.Append(ctx, jobID, line); err != nil {
		logger.Warn("Failed to append job log line", slog.Any("error", err))
	}
}

// topBase strips the extension from the top-level source filename; the build
// handler expects the bare module name.
func topBase(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
