package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ArtifactName is the file the build handler must produce under the job's
// output directory for the run to count as successful.
const ArtifactName = "BOOT.bin"

// LineAppender receives one build output line at a time, in order.
type LineAppender interface {
	Append(ctx context.Context, jobID, line string) error
}

// Config holds the build subprocess settings
type Config struct {
	PythonProgram string
	HandlerScript string
	KeyFile       string
	SSHUser       string

	// Timeout bounds a single run. Zero means no limit; the subprocess
	// then runs until it exits on its own.
	Timeout time.Duration
}

// Executor runs the build handler as a subprocess and streams its merged
// stdout and stderr, split into lines, to the job's log.
type Executor struct {
	cfg    Config
	sink   LineAppender
	logger *slog.Logger
}

// New creates an executor
func New(cfg Config, sink LineAppender, logger *slog.Logger) *Executor {
	if cfg.PythonProgram == "" {
		cfg.PythonProgram = "python"
	}

	return &Executor{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
	}
}

// Spec describes one build run
type Spec struct {
	JobID       string
	WorkDir     string
	TopBase     string
	CheckoutRef string
	RemoteHost  string
}

// Run executes the build handler for one job and blocks until it exits.
// Every output line is appended to the job's log and to out.log in the work
// directory as it arrives. A non-zero exit or a timeout is returned as an
// error; the caller decides the job's final state.
func (e *Executor) Run(ctx context.Context, spec Spec) error {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.cfg.PythonProgram, e.cfg.HandlerScript,
		"-i", "input",
		"-o", "output",
		"-n", spec.TopBase,
		"-k", e.cfg.KeyFile,
		"-m", fmt.Sprintf("%s@%s", e.cfg.SSHUser, spec.RemoteHost),
		"-c", spec.CheckoutRef,
	)
	cmd.Dir = spec.WorkDir

	// stdout and stderr share one pipe so the log preserves the merged
	// stream the way a terminal would show it.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	outLog, err := os.OpenFile(
		filepath.Join(spec.WorkDir, "out.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("failed to open out.log: %w", err)
	}
	defer outLog.Close()

	e.logger.Info("Build started",
		slog.String("job_id", spec.JobID),
		slog.String("top", spec.TopBase),
		slog.String("remote_host", spec.RemoteHost),
	)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start build handler: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if _, err := fmt.Fprintln(outLog, line); err != nil {
			e.logger.Warn("Failed to write out.log line",
				slog.String("job_id", spec.JobID),
				slog.Any("error", err),
			)
		}

		// A sink hiccup must not kill a running build.
		if err := e.sink.Append(ctx, spec.JobID, line); err != nil {
			e.logger.Warn("Failed to append build log line",
				slog.String("job_id", spec.JobID),
				slog.Any("error", err),
			)
		}
	}

	err = <-waitErr

	if scanErr := scanner.Err(); scanErr != nil && err == nil {
		err = fmt.Errorf("failed to read build output: %w", scanErr)
	}

	if err != nil {
		e.logger.Info("Build failed",
			slog.String("job_id", spec.JobID),
			slog.Any("error", err),
		)
		return fmt.Errorf("build handler failed: %w", err)
	}

	e.logger.Info("Build finished",
		slog.String("job_id", spec.JobID),
	)

	return nil
}

// ArtifactPath returns where a successful run leaves its artifact
func ArtifactPath(workDir string) string {
	return filepath.Join(workDir, "output", ArtifactName)
}

// ArtifactReady reports whether the run produced a downloadable artifact
func ArtifactReady(workDir string) bool {
	info, err := os.Stat(ArtifactPath(workDir))
	return err == nil && !info.IsDir()
}
