package compute

import (
	"context"
	"fmt"
	"log/slog"
)

// Instance is a provisioned compute instance
type Instance struct {
	ID         string
	PrivateDNS string
}

// Provisioner allocates and tears down one instance per job
type Provisioner struct {
	plane  ControlPlane
	tag    string
	logger *slog.Logger
}

// NewProvisioner creates a provisioner over the given control plane. tag is
// the name attached to every instance it allocates.
func NewProvisioner(plane ControlPlane, tag string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		plane:  plane,
		tag:    tag,
		logger: logger,
	}
}

// Provision allocates one instance of the given class, tags it, waits until
// it is running and resolves its private address. On failure after
// allocation the returned Instance still carries the handle so the caller
// can tear it down; the error reports which step failed.
func (p *Provisioner) Provision(ctx context.Context, instanceClass string) (Instance, error) {
	var inst Instance

	id, err := p.plane.Allocate(ctx, instanceClass)
	if err != nil {
		return inst, fmt.Errorf("failed to allocate instance: %w", err)
	}
	inst.ID = id

	p.logger.Info("Instance allocated",
		slog.String("instance_id", id),
		slog.String("instance_class", instanceClass),
	)

	if err := p.plane.Tag(ctx, id, p.tag); err != nil {
		return inst, fmt.Errorf("failed to tag instance %s: %w", id, err)
	}

	if err := p.plane.AwaitRunning(ctx, id); err != nil {
		return inst, fmt.Errorf("instance %s never reached running: %w", id, err)
	}

	addr, err := p.plane.PrivateAddress(ctx, id)
	if err != nil {
		return inst, fmt.Errorf("failed to resolve address of instance %s: %w", id, err)
	}
	inst.PrivateDNS = addr

	p.logger.Info("Instance running",
		slog.String("instance_id", id),
		slog.String("private_dns", addr),
	)

	return inst, nil
}

// Teardown requests termination and blocks until the control plane confirms
// it. Only a confirmed termination is success; if confirmation never comes
// the caller must leave the job non-terminal.
func (p *Provisioner) Teardown(ctx context.Context, instanceID string) error {
	if err := p.plane.Terminate(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	if err := p.plane.AwaitTerminated(ctx, instanceID); err != nil {
		return fmt.Errorf("termination of instance %s not confirmed: %w", instanceID, err)
	}

	p.logger.Info("Instance terminated",
		slog.String("instance_id", instanceID),
	)

	return nil
}
