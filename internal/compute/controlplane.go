package compute

import "context"

// ControlPlane is the capability interface over the cloud control plane.
// Any implementation of these six operations is substitutable; production
// uses EC2, tests use a fake.
type ControlPlane interface {
	// Allocate requests one on-demand instance of the given class and
	// returns its opaque handle.
	Allocate(ctx context.Context, instanceClass string) (string, error)

	// Tag attaches the identifying name tag to an instance.
	Tag(ctx context.Context, instanceID, name string) error

	// AwaitRunning blocks until the control plane reports the instance
	// running.
	AwaitRunning(ctx context.Context, instanceID string) error

	// PrivateAddress returns the instance's private network address.
	PrivateAddress(ctx context.Context, instanceID string) (string, error)

	// Terminate requests termination. Repeating it for an already
	// terminated instance is not an error.
	Terminate(ctx context.Context, instanceID string) error

	// AwaitTerminated blocks until the control plane confirms termination.
	AwaitTerminated(ctx context.Context, instanceID string) error
}
