// Package engine implements the sandbox orchestration engine: the single
// owner of the sandbox lifecycle across the record store, the container
// runtime and the git backend.
//
// No transaction spans those three systems, so every operation is sequenced
// to fail into a well-defined state: creation compensates (removes what it
// already provisioned), all other lifecycle operations leave the record's
// status untouched on adapter failure so a retry is always safe.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/drydock-dev/drydock/common/trace"
	"github.com/drydock-dev/drydock/internal/drydock/catalog"
	"github.com/drydock-dev/drydock/internal/drydock/gitserver"
	"github.com/drydock-dev/drydock/internal/drydock/runtime"
	"github.com/drydock-dev/drydock/internal/drydock/store"
)

const (
	// maxNameLength bounds the user-supplied sandbox name.
	maxNameLength = 100

	// Service ports exposed by every sandbox image. URLs are built from the
	// container name, which resolves on the shared sandbox network.
	opencodePort   = 4096
	vncPort        = 6080
	codeServerPort = 8443
)

// Engine composes the sandbox repository, the container runtime and the git
// backend into the lifecycle operations exposed to callers.
type Engine struct {
	store   *store.Store
	runtime runtime.Runtime
	git     gitserver.Client
	catalog *catalog.Catalog
	locks   *idLocks
}

// New creates an Engine. All dependencies are required.
func New(st *store.Store, rt runtime.Runtime, git gitserver.Client, cat *catalog.Catalog) *Engine {
	return &Engine{
		store:   st,
		runtime: rt,
		git:     git,
		catalog: cat,
		locks:   newIDLocks(),
	}
}

// CreateOptions parameterizes CreateSandbox.
type CreateOptions struct {
	Name         string
	UserID       string
	Description  string
	// Flavor and ResourceTier are catalog IDs; empty selects the defaults.
	Flavor       string
	ResourceTier string
	Addons       []string
	// AutoStart controls whether the container is started after provisioning.
	// nil means true. When false the sandbox lands in "stopped".
	AutoStart *bool
}

// DeleteOptions parameterizes DeleteSandbox.
type DeleteOptions struct {
	// DeleteRepo also removes the sandbox's git repository.
	DeleteRepo bool
	// RemoveVolumes is forwarded to the runtime's container removal.
	RemoveVolumes bool
}

// SandboxInfo bundles a sandbox with its repository descriptor.
type SandboxInfo struct {
	Sandbox    *store.Sandbox
	Repository gitserver.Repo
}

// CreateSandbox validates the request against the catalog, inserts the
// record, provisions the container and the repository, and starts the
// container unless AutoStart is false.
//
// Compensation on partial failure: a failed container create deletes the
// record; a failed repository create removes the container (best effort,
// audited when the removal itself fails) and deletes the record. The caller
// can therefore assume nothing was created when an error comes back, except
// for audited orphans.
func (e *Engine) CreateSandbox(ctx context.Context, opts CreateOptions) (*SandboxInfo, error) {
	const op = "sandbox.create"
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, validation(op, "name must not be empty")
	}
	if len(name) > maxNameLength {
		return nil, validation(op, "name exceeds %d characters", maxNameLength)
	}
	if opts.UserID == "" {
		return nil, validation(op, "userId must not be empty")
	}

	tier := e.catalog.DefaultTier()
	if opts.ResourceTier != "" {
		t, ok := e.catalog.Tier(opts.ResourceTier)
		if !ok {
			return nil, validation(op, "unknown resource tier %q", opts.ResourceTier)
		}
		tier = t
	}

	flavor := e.catalog.DefaultFlavor()
	if opts.Flavor != "" {
		f, ok := e.catalog.Flavor(opts.Flavor)
		if !ok {
			return nil, validation(op, "unknown flavor %q", opts.Flavor)
		}
		flavor = f
	}

	for _, addonID := range opts.Addons {
		if _, ok := e.catalog.Addon(addonID); !ok {
			return nil, validation(op, "unknown addon %q", addonID)
		}
	}

	base := Slugify(name)
	if base == "" {
		return nil, validation(op, "name %q contains no usable characters", name)
	}
	slug, err := e.uniqueSlug(ctx, opts.UserID, base)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve slug: %w", op, err)
	}

	id := uuid.NewString()
	repoName := fmt.Sprintf("%s-%s", slug, id[:8])

	sb := &store.Sandbox{
		ID:       id,
		UserID:   opts.UserID,
		Name:     name,
		Slug:     slug,
		RepoName: repoName,
		Status:   store.StatusCreated,
		TierID:   tier.ID,
		FlavorID: flavor.ID,
		AddonIDs: opts.Addons,
	}
	if opts.Description != "" {
		sb.Description = sql.NullString{String: opts.Description, Valid: true}
	}
	if err := e.store.InsertSandbox(ctx, sb); err != nil {
		e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
		return nil, fmt.Errorf("%s: insert record: %w", op, err)
	}

	ref, err := e.runtime.Create(ctx, runtime.ContainerSpec{
		SandboxID: id,
		Image:     flavor.Image,
		Workdir:   runtime.DefaultWorkdir,
		Env: map[string]string{
			"SANDBOX_SLUG": slug,
			"SANDBOX_REPO": repoName,
		},
		Labels: map[string]string{
			"drydock.user-id": opts.UserID,
			"drydock.flavor":  flavor.ID,
		},
		CPUCores: tier.CPUCores,
		MemoryGB: tier.MemoryGB,
	})
	if err != nil {
		// Nothing besides the record exists yet; rolling it back is enough.
		if _, delErr := e.store.DeleteSandbox(ctx, id); delErr != nil {
			slog.Warn("create: failed to roll back record after container create failure",
				"sandbox", id, "err", delErr)
		}
		e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
		return nil, runtimeError(op, id, err)
	}

	repo, err := e.git.CreateRepo(ctx, repoName)
	if err != nil {
		// Compensate: remove the container we just created, then the record.
		// A failed removal leaves an orphaned container; record it for
		// reconciliation instead of hiding it.
		if rmErr := e.runtime.Remove(ctx, ref.ID, false); rmErr != nil {
			slog.Warn("create: orphaned container after repo create failure",
				"sandbox", id, "container", ref.ID, "err", rmErr)
			e.store.WriteAudit(ctx, traceID, op, id, "error",
				store.AuditDetail{"orphaned_container": ref.ID}, rmErr.Error())
		}
		if _, delErr := e.store.DeleteSandbox(ctx, id); delErr != nil {
			slog.Warn("create: failed to roll back record after repo create failure",
				"sandbox", id, "err", delErr)
		}
		e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
		return nil, gitError(op, id, err)
	}

	status := store.StatusStopped
	update := store.SandboxUpdate{
		ContainerID:   &ref.ID,
		ContainerName: &ref.Name,
	}
	if opts.AutoStart == nil || *opts.AutoStart {
		if err := e.runtime.Start(ctx, ref.ID); err != nil {
			// Container and repository exist; keep them and mark the record so
			// the sandbox can be recovered with a later start.
			errMsg := err.Error()
			statusErr := store.StatusError
			update.Status = &statusErr
			update.ErrorMessage = &errMsg
			if updErr := e.store.UpdateSandboxFields(ctx, id, update); updErr != nil {
				slog.Warn("create: failed to record start failure", "sandbox", id, "err", updErr)
			}
			e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
			return nil, runtimeError(op, id, err)
		}
		status = store.StatusRunning
		setServiceURLs(&update, ref.Name)
	}
	update.Status = &status

	if err := e.store.UpdateSandboxFields(ctx, id, update); err != nil {
		e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
		return nil, fmt.Errorf("%s: update record: %w", op, err)
	}

	e.store.WriteAudit(ctx, traceID, op, id, "success",
		store.AuditDetail{"container_id": ref.ID, "repo": repoName, "slug": slug}, "")
	slog.Info("sandbox created", "sandbox", id, "slug", slug,
		"flavor", flavor.ID, "tier", tier.ID, "status", status,
		"trace", trace.FromContext(ctx))

	created, _, err := e.store.GetSandbox(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: reload record: %w", op, err)
	}
	return &SandboxInfo{Sandbox: created, Repository: repo}, nil
}

// StartSandbox starts a stopped sandbox. Sandboxes in "error" that already
// have a container may also be started, which doubles as the recovery path.
func (e *Engine) StartSandbox(ctx context.Context, id string) (*store.Sandbox, error) {
	const op = "sandbox.start"
	return e.transition(ctx, op, id, func(sb *store.Sandbox) error {
		switch sb.Status {
		case store.StatusStopped, store.StatusError:
		case store.StatusRunning:
			return precondition(op, id, "sandbox is already running")
		default:
			return precondition(op, id, "cannot start sandbox in status %q", sb.Status)
		}
		if !sb.ContainerID.Valid {
			return precondition(op, id, "sandbox has no container")
		}
		if err := e.runtime.Start(ctx, sb.ContainerID.String); err != nil {
			return runtimeError(op, id, err)
		}

		update := store.SandboxUpdate{}
		running := store.StatusRunning
		update.Status = &running
		empty := ""
		update.ErrorMessage = &empty
		if !sb.OpencodeURL.Valid {
			setServiceURLs(&update, sb.ContainerName.String)
		}
		return e.store.UpdateSandboxFields(ctx, id, update)
	})
}

// StopSandbox stops a running sandbox. timeoutSeconds is forwarded to the
// runtime unchanged; nil means the runtime's default grace period.
func (e *Engine) StopSandbox(ctx context.Context, id string, timeoutSeconds *int) (*store.Sandbox, error) {
	const op = "sandbox.stop"
	return e.transition(ctx, op, id, func(sb *store.Sandbox) error {
		if sb.Status != store.StatusRunning {
			return precondition(op, id, "cannot stop sandbox in status %q", sb.Status)
		}
		if err := e.runtime.Stop(ctx, sb.ContainerID.String, timeoutSeconds); err != nil {
			return runtimeError(op, id, err)
		}
		return e.store.UpdateSandboxStatus(ctx, id, store.StatusStopped, "")
	})
}

// RestartSandbox restarts a running or stopped sandbox.
func (e *Engine) RestartSandbox(ctx context.Context, id string, timeoutSeconds *int) (*store.Sandbox, error) {
	const op = "sandbox.restart"
	return e.transition(ctx, op, id, func(sb *store.Sandbox) error {
		if sb.Status != store.StatusRunning && sb.Status != store.StatusStopped {
			return precondition(op, id, "cannot restart sandbox in status %q", sb.Status)
		}
		if !sb.ContainerID.Valid {
			return precondition(op, id, "sandbox has no container")
		}
		if err := e.runtime.Restart(ctx, sb.ContainerID.String, timeoutSeconds); err != nil {
			return runtimeError(op, id, err)
		}
		return e.store.UpdateSandboxStatus(ctx, id, store.StatusRunning, "")
	})
}

// PauseSandbox suspends a running sandbox. The recorded status is "stopped",
// matching the unpause path that resumes from it; the runtime-level state is
// paused, not stopped.
func (e *Engine) PauseSandbox(ctx context.Context, id string) (*store.Sandbox, error) {
	const op = "sandbox.pause"
	return e.transition(ctx, op, id, func(sb *store.Sandbox) error {
		if sb.Status != store.StatusRunning {
			return precondition(op, id, "cannot pause sandbox in status %q", sb.Status)
		}
		if err := e.runtime.Pause(ctx, sb.ContainerID.String); err != nil {
			return runtimeError(op, id, err)
		}
		return e.store.UpdateSandboxStatus(ctx, id, store.StatusStopped, "")
	})
}

// UnpauseSandbox resumes a paused sandbox.
func (e *Engine) UnpauseSandbox(ctx context.Context, id string) (*store.Sandbox, error) {
	const op = "sandbox.unpause"
	return e.transition(ctx, op, id, func(sb *store.Sandbox) error {
		if sb.Status != store.StatusStopped {
			return precondition(op, id, "cannot unpause sandbox in status %q", sb.Status)
		}
		if !sb.ContainerID.Valid {
			return precondition(op, id, "sandbox has no container")
		}
		if err := e.runtime.Unpause(ctx, sb.ContainerID.String); err != nil {
			return runtimeError(op, id, err)
		}
		return e.store.UpdateSandboxStatus(ctx, id, store.StatusRunning, "")
	})
}

// DeleteSandbox removes the sandbox from any state: container first, then
// optionally the repository, then the record. The record is only removed
// once the earlier steps have succeeded, so a failed delete can be retried.
func (e *Engine) DeleteSandbox(ctx context.Context, id string, opts DeleteOptions) error {
	const op = "sandbox.delete"
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)

	unlock := e.locks.lock(id)
	defer unlock()

	sb, ok, err := e.store.GetSandbox(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: load record: %w", op, err)
	}
	if !ok {
		return notFound(op, id)
	}

	if sb.ContainerID.Valid {
		if err := e.runtime.Remove(ctx, sb.ContainerID.String, opts.RemoveVolumes); err != nil {
			e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
			return runtimeError(op, id, err)
		}
	}

	if opts.DeleteRepo && sb.RepoName != "" {
		if err := e.git.DeleteRepo(ctx, sb.RepoName); err != nil {
			e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
			return gitError(op, id, err)
		}
	}

	if _, err := e.store.DeleteSandbox(ctx, id); err != nil {
		return fmt.Errorf("%s: delete record: %w", op, err)
	}

	e.store.WriteAudit(ctx, traceID, op, id, "success",
		store.AuditDetail{"delete_repo": opts.DeleteRepo, "remove_volumes": opts.RemoveVolumes}, "")
	slog.Info("sandbox deleted", "sandbox", id, "delete_repo", opts.DeleteRepo)
	return nil
}

// GetSandbox returns the sandbox record.
func (e *Engine) GetSandbox(ctx context.Context, id string) (*store.Sandbox, error) {
	sb, ok, err := e.store.GetSandbox(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sandbox.get %s: %w", id, err)
	}
	if !ok {
		return nil, notFound("sandbox.get", id)
	}
	return sb, nil
}

// GetSandboxInfo returns the sandbox together with its repository descriptor.
func (e *Engine) GetSandboxInfo(ctx context.Context, id string) (*SandboxInfo, error) {
	sb, err := e.GetSandbox(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SandboxInfo{
		Sandbox:    sb,
		Repository: gitserver.Repo{Name: sb.RepoName},
	}, nil
}

// ListSandboxes returns sandboxes matching the filter; userId and statuses
// combine with AND semantics.
func (e *Engine) ListSandboxes(ctx context.Context, filter store.SandboxFilter) ([]*store.Sandbox, error) {
	return e.store.ListSandboxes(ctx, filter)
}

// GetSandboxStatus returns the recorded status of a sandbox.
func (e *Engine) GetSandboxStatus(ctx context.Context, id string) (string, error) {
	sb, err := e.GetSandbox(ctx, id)
	if err != nil {
		return "", err
	}
	return sb.Status, nil
}

// GetSandboxLogs returns the sandbox container's recent log lines.
func (e *Engine) GetSandboxLogs(ctx context.Context, id string, tail int) ([]string, error) {
	const op = "sandbox.logs"
	sb, err := e.GetSandbox(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sb.ContainerID.Valid {
		return nil, precondition(op, id, "sandbox has no container")
	}
	lines, err := e.runtime.Logs(ctx, sb.ContainerID.String, runtime.LogOptions{Tail: tail})
	if err != nil {
		return nil, runtimeError(op, id, err)
	}
	return lines, nil
}

// GetSandboxStats returns a resource usage snapshot for the sandbox container.
func (e *Engine) GetSandboxStats(ctx context.Context, id string) (runtime.ContainerStats, error) {
	const op = "sandbox.stats"
	sb, err := e.GetSandbox(ctx, id)
	if err != nil {
		return runtime.ContainerStats{}, err
	}
	if !sb.ContainerID.Valid {
		return runtime.ContainerStats{}, precondition(op, id, "sandbox has no container")
	}
	stats, err := e.runtime.Stats(ctx, sb.ContainerID.String)
	if err != nil {
		return runtime.ContainerStats{}, runtimeError(op, id, err)
	}
	return stats, nil
}

// Exec runs a command inside the sandbox container. The command must be
// non-empty; working dir, env and user are forwarded to the runtime
// unchanged. Exec has no effect on the sandbox's status.
func (e *Engine) Exec(ctx context.Context, id string, cmd []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	const op = "sandbox.exec"
	if len(cmd) == 0 {
		return runtime.ExecResult{}, validation(op, "command must not be empty")
	}

	sb, err := e.GetSandbox(ctx, id)
	if err != nil {
		return runtime.ExecResult{}, err
	}
	if !sb.ContainerID.Valid {
		return runtime.ExecResult{}, precondition(op, id, "sandbox has no container")
	}

	result, err := e.runtime.Exec(ctx, sb.ContainerID.String, cmd, opts)
	if err != nil {
		return runtime.ExecResult{}, runtimeError(op, id, err)
	}
	return result, nil
}

// CommitChanges commits all pending changes in the sandbox's repository.
func (e *Engine) CommitChanges(ctx context.Context, id string, opts gitserver.CommitOptions) (gitserver.Commit, error) {
	const op = "git.commit"
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)

	repoName, err := e.repoFor(ctx, op, id)
	if err != nil {
		return gitserver.Commit{}, err
	}
	commit, err := e.git.Commit(ctx, repoName, opts)
	if err != nil {
		e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
		return gitserver.Commit{}, gitError(op, id, err)
	}
	e.store.WriteAudit(ctx, traceID, op, id, "success",
		store.AuditDetail{"sha": commit.SHA}, "")
	return commit, nil
}

// GitStatus returns the pending changes in the sandbox's repository.
func (e *Engine) GitStatus(ctx context.Context, id string) (gitserver.RepoStatus, error) {
	const op = "git.status"
	repoName, err := e.repoFor(ctx, op, id)
	if err != nil {
		return gitserver.RepoStatus{}, err
	}
	status, err := e.git.Status(ctx, repoName)
	if err != nil {
		return gitserver.RepoStatus{}, gitError(op, id, err)
	}
	return status, nil
}

// GitLog returns the sandbox repository's recent commits.
func (e *Engine) GitLog(ctx context.Context, id string, limit int) ([]gitserver.Commit, error) {
	const op = "git.log"
	repoName, err := e.repoFor(ctx, op, id)
	if err != nil {
		return nil, err
	}
	commits, err := e.git.Log(ctx, repoName, limit)
	if err != nil {
		return nil, gitError(op, id, err)
	}
	return commits, nil
}

// HealthCheck reports whether the container runtime daemon is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.runtime.HealthCheck(ctx); err != nil {
		return runtimeError("runtime.health", "", err)
	}
	return nil
}

// DockerInfo returns container runtime daemon information.
func (e *Engine) DockerInfo(ctx context.Context) (runtime.DaemonInfo, error) {
	info, err := e.runtime.Info(ctx)
	if err != nil {
		return runtime.DaemonInfo{}, runtimeError("runtime.info", "", err)
	}
	return info, nil
}

// transition runs a lifecycle step under the sandbox's ID lock: load the
// record, re-check preconditions against its current status, apply, and
// return the updated record. On failure the status is left as it was.
func (e *Engine) transition(ctx context.Context, op, id string, apply func(*store.Sandbox) error) (*store.Sandbox, error) {
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)

	unlock := e.locks.lock(id)
	defer unlock()

	sb, ok, err := e.store.GetSandbox(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: load record: %w", op, err)
	}
	if !ok {
		return nil, notFound(op, id)
	}

	if err := apply(sb); err != nil {
		e.store.WriteAudit(ctx, traceID, op, id, "error", nil, err.Error())
		return nil, err
	}

	updated, ok, err := e.store.GetSandbox(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: reload record: %w", op, err)
	}
	if !ok {
		return nil, notFound(op, id)
	}

	e.store.WriteAudit(ctx, traceID, op, id, "success", nil, "")
	slog.Info("sandbox transition", "op", op, "sandbox", id,
		"status", updated.Status, "trace", trace.FromContext(ctx))
	return updated, nil
}

// repoFor loads the sandbox and returns its repository name, failing when the
// sandbox is absent or was created without a repository.
func (e *Engine) repoFor(ctx context.Context, op, id string) (string, error) {
	sb, ok, err := e.store.GetSandbox(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%s: load record: %w", op, err)
	}
	if !ok {
		return "", notFound(op, id)
	}
	if sb.RepoName == "" {
		return "", precondition(op, id, "sandbox has no repository")
	}
	return sb.RepoName, nil
}

// setServiceURLs fills the update with the published service endpoints,
// derived from the container name on the shared sandbox network.
func setServiceURLs(update *store.SandboxUpdate, containerName string) {
	opencode := fmt.Sprintf("http://%s:%d", containerName, opencodePort)
	vnc := fmt.Sprintf("http://%s:%d", containerName, vncPort)
	codeServer := fmt.Sprintf("http://%s:%d", containerName, codeServerPort)
	update.OpencodeURL = &opencode
	update.VNCURL = &vnc
	update.CodeServerURL = &codeServer
}
