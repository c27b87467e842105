package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"time"
)

// ErrUnreachable is returned when the host stays unreachable through all
// attempts.
var ErrUnreachable = errors.New("host unreachable after retries")

// Config holds the probe settings
type Config struct {
	SSHProgram     string
	KeyFile        string
	User           string
	MaxAttempts    int
	Interval       time.Duration
	ConnectTimeout time.Duration
}

// Prober checks that a freshly provisioned host is reachable by running a
// trivial remote command. The retry is a fixed-interval bounded loop with no
// jitter and no escalation: a longer worst case in exchange for determinism.
type Prober struct {
	cfg    Config
	logger *slog.Logger

	// injectable for tests
	run   func(ctx context.Context, target string) error
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a prober. Zero-valued settings fall back to 100 attempts at a
// 1 second interval with a 1 second connect timeout.
func New(cfg Config, logger *slog.Logger) *Prober {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = time.Second
	}
	if cfg.SSHProgram == "" {
		cfg.SSHProgram = "ssh"
	}

	p := &Prober{
		cfg:    cfg,
		logger: logger,
	}
	p.run = p.runSSH
	p.sleep = sleepCtx

	return p
}

// AwaitReachable retries a remote echo against address until it succeeds or
// MaxAttempts failures have accumulated, each separated by one fixed
// Interval. Exhaustion returns ErrUnreachable.
func (p *Prober) AwaitReachable(ctx context.Context, address string) error {
	target := fmt.Sprintf("%s@%s", p.cfg.User, address)

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		err := p.run(ctx, target)
		if err == nil {
			p.logger.Info("Host reachable",
				slog.String("address", address),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		p.logger.Info("Host not reachable yet",
			slog.String("address", address),
			slog.Int("retry_count", attempt),
			slog.Any("error", err),
		)

		if attempt < p.cfg.MaxAttempts-1 {
			if err := p.sleep(ctx, p.cfg.Interval); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w: %s after %d attempts", ErrUnreachable, address, p.cfg.MaxAttempts)
}

// runSSH executes a trivial command against the target host. Only the error
// presence matters; output is discarded.
func (p *Prober) runSSH(ctx context.Context, target string) error {
	cmd := exec.CommandContext(ctx, p.cfg.SSHProgram, p.sshArgs(target)...)
	return cmd.Run()
}

// sshArgs builds the probe command line. ssh only takes whole seconds for
// ConnectTimeout and treats 0 as "no timeout", so sub-second settings round
// up to 1 instead of silently disabling the timeout.
func (p *Prober) sshArgs(target string) []string {
	secs := int(math.Ceil(p.cfg.ConnectTimeout.Seconds()))
	if secs < 1 {
		secs = 1
	}

	return []string{
		"-i", p.cfg.KeyFile,
		"-o", fmt.Sprintf("ConnectTimeout=%d", secs),
		"-o", "StrictHostKeyChecking=no",
		target,
		"/bin/echo", "ok",
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
