// Package runtime defines the container runtime port the orchestration
// engine drives sandboxes through.
package runtime

import "context"

// Runtime abstracts the container backend (Docker today; anything that can
// satisfy the contract). The engine never touches runtime-specific types, so
// implementations are substitutable with fakes in tests.
type Runtime interface {
	// Create provisions a sandbox container from the given spec without
	// starting it. Returns a handle identifying the container.
	Create(ctx context.Context, spec ContainerSpec) (ContainerRef, error)

	// Start starts a previously created or stopped container.
	Start(ctx context.Context, containerID string) error

	// Stop gracefully stops the container. timeoutSeconds is forwarded to the
	// backend unchanged; nil means the backend's default grace period.
	Stop(ctx context.Context, containerID string, timeoutSeconds *int) error

	// Restart stops and then starts the container.
	Restart(ctx context.Context, containerID string, timeoutSeconds *int) error

	// Pause suspends all processes in the container.
	Pause(ctx context.Context, containerID string) error

	// Unpause resumes a paused container.
	Unpause(ctx context.Context, containerID string) error

	// Remove deletes the container, force-stopping it if needed. A container
	// that is already gone is not an error.
	Remove(ctx context.Context, containerID string, removeVolumes bool) error

	// Exec runs a command inside the container and returns its output.
	Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (ExecResult, error)

	// Logs returns the container's recent log lines.
	Logs(ctx context.Context, containerID string, opts LogOptions) ([]string, error)

	// Stats returns a one-shot resource usage snapshot.
	Stats(ctx context.Context, containerID string) (ContainerStats, error)

	// HealthCheck reports whether the backend daemon is reachable.
	HealthCheck(ctx context.Context) error

	// Info returns backend daemon version information.
	Info(ctx context.Context) (DaemonInfo, error)
}
