// Package runtime defines shared types for the container runtime port.
package runtime

// ContainerSpec describes how a sandbox container should be created.
type ContainerSpec struct {
	// SandboxID is the unique sandbox identifier (used for the container name
	// and labels).
	SandboxID string
	// Image is the container image to run, taken from the sandbox's flavor.
	Image string
	// Workdir is the working directory inside the container.
	Workdir string
	// Env holds additional environment variables to inject.
	Env map[string]string
	// Labels are extra labels to attach to the container.
	Labels map[string]string
	// CPUCores limits the container's CPU allocation (resource tier).
	CPUCores float64
	// MemoryGB limits the container's memory allocation (resource tier).
	MemoryGB float64
}

// ContainerRef identifies a provisioned sandbox container.
type ContainerRef struct {
	// ID is the backend container ID.
	ID string
	// Name is the backend container name.
	Name string
}

// ExecOptions carries the optional parameters of an exec call. All fields
// are forwarded to the backend unchanged.
type ExecOptions struct {
	WorkingDir string
	Env        map[string]string
	User       string
}

// ExecResult is the outcome of an exec call.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// LogOptions narrows a log request.
type LogOptions struct {
	// Tail limits output to the last N lines; zero means all.
	Tail int
}

// ContainerStats is a one-shot resource usage snapshot.
type ContainerStats struct {
	CPUPercent  float64
	MemoryUsage uint64
	MemoryLimit uint64
	NetworkRx   uint64
	NetworkTx   uint64
}

// DaemonInfo describes the container backend daemon.
type DaemonInfo struct {
	Version       string
	APIVersion    string
	OS            string
	Architecture  string
	Containers    int
	ContainersRun int
}

// DefaultWorkdir is the working directory sandbox images expose.
const DefaultWorkdir = "/workspace"

// DefaultNetwork is the network sandbox containers are attached to.
const DefaultNetwork = "drydock"

// ContainerNameFor returns the container name for a sandbox ID.
func ContainerNameFor(sandboxID string) string {
	return "drydock-sandbox-" + sandboxID
}
