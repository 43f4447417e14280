package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drydock-dev/drydock/internal/drydock/catalog"
	"github.com/drydock-dev/drydock/internal/drydock/gitserver"
	"github.com/drydock-dev/drydock/internal/drydock/runtime"
	"github.com/drydock-dev/drydock/internal/drydock/store"
)

// mockRuntime records every call and fails on demand. It does not model
// container state; the engine's own record is the state under test.
type mockRuntime struct {
	createErr  error
	startErr   error
	stopErr    error
	removeErr  error
	pauseErr   error
	unpauseErr error

	createCalls  []runtime.ContainerSpec
	startCalls   []string
	stopCalls    []stopCall
	restartCalls []stopCall
	pauseCalls   []string
	unpauseCalls []string
	removeCalls  []removeCall
	execCalls    []execCall
}

type stopCall struct {
	containerID    string
	timeoutSeconds *int
}

type removeCall struct {
	containerID   string
	removeVolumes bool
}

type execCall struct {
	containerID string
	cmd         []string
	opts        runtime.ExecOptions
}

func (m *mockRuntime) Create(_ context.Context, spec runtime.ContainerSpec) (runtime.ContainerRef, error) {
	if m.createErr != nil {
		return runtime.ContainerRef{}, m.createErr
	}
	m.createCalls = append(m.createCalls, spec)
	return runtime.ContainerRef{
		ID:   fmt.Sprintf("ctr-%d", len(m.createCalls)),
		Name: runtime.ContainerNameFor(spec.SandboxID),
	}, nil
}

func (m *mockRuntime) Start(_ context.Context, containerID string) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.startCalls = append(m.startCalls, containerID)
	return nil
}

func (m *mockRuntime) Stop(_ context.Context, containerID string, timeoutSeconds *int) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopCalls = append(m.stopCalls, stopCall{containerID, timeoutSeconds})
	return nil
}

func (m *mockRuntime) Restart(_ context.Context, containerID string, timeoutSeconds *int) error {
	m.restartCalls = append(m.restartCalls, stopCall{containerID, timeoutSeconds})
	return nil
}

func (m *mockRuntime) Pause(_ context.Context, containerID string) error {
	if m.pauseErr != nil {
		return m.pauseErr
	}
	m.pauseCalls = append(m.pauseCalls, containerID)
	return nil
}

func (m *mockRuntime) Unpause(_ context.Context, containerID string) error {
	if m.unpauseErr != nil {
		return m.unpauseErr
	}
	m.unpauseCalls = append(m.unpauseCalls, containerID)
	return nil
}

func (m *mockRuntime) Remove(_ context.Context, containerID string, removeVolumes bool) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removeCalls = append(m.removeCalls, removeCall{containerID, removeVolumes})
	return nil
}

func (m *mockRuntime) Exec(_ context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	m.execCalls = append(m.execCalls, execCall{containerID, cmd, opts})
	return runtime.ExecResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (m *mockRuntime) Logs(context.Context, string, runtime.LogOptions) ([]string, error) {
	return []string{"line"}, nil
}

func (m *mockRuntime) Stats(context.Context, string) (runtime.ContainerStats, error) {
	return runtime.ContainerStats{CPUPercent: 1.5}, nil
}

func (m *mockRuntime) HealthCheck(context.Context) error { return nil }

func (m *mockRuntime) Info(context.Context) (runtime.DaemonInfo, error) {
	return runtime.DaemonInfo{Version: "test"}, nil
}

// mockGit records repository operations and fails on demand.
type mockGit struct {
	createErr error
	deleteErr error

	created []string
	deleted []string
}

func (m *mockGit) CreateRepo(_ context.Context, name string) (gitserver.Repo, error) {
	if m.createErr != nil {
		return gitserver.Repo{}, m.createErr
	}
	m.created = append(m.created, name)
	return gitserver.Repo{Name: name, Path: "/repos/" + name}, nil
}

func (m *mockGit) DeleteRepo(_ context.Context, name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockGit) Commit(_ context.Context, name string, opts gitserver.CommitOptions) (gitserver.Commit, error) {
	return gitserver.Commit{SHA: "abc123", Message: opts.Message}, nil
}

func (m *mockGit) Status(context.Context, string) (gitserver.RepoStatus, error) {
	return gitserver.RepoStatus{}, nil
}

func (m *mockGit) Log(context.Context, string, int) ([]gitserver.Commit, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *mockRuntime, *mockGit) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "drydock.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}

	rt := &mockRuntime{}
	git := &mockGit{}
	return New(st, rt, git, cat), st, rt, git
}

func intPtr(i int) *int { return &i }

func boolPtr(b bool) *bool { return &b }

func TestCreateSandbox_Defaults(t *testing.T) {
	e, _, rt, git := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "My Project", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	sb := info.Sandbox

	if sb.Slug != "my-project" {
		t.Errorf("slug: got %q", sb.Slug)
	}
	if sb.Status != store.StatusRunning {
		t.Errorf("status: got %q", sb.Status)
	}
	if sb.TierID != "starter" || sb.FlavorID != "js" {
		t.Errorf("defaults: tier %q flavor %q", sb.TierID, sb.FlavorID)
	}
	if !strings.HasPrefix(sb.RepoName, "my-project-") || len(sb.RepoName) != len("my-project-")+8 {
		t.Errorf("repo name: got %q", sb.RepoName)
	}
	if info.Repository.Name != sb.RepoName {
		t.Errorf("repository descriptor: got %q", info.Repository.Name)
	}
	if !sb.ContainerID.Valid || !sb.ContainerName.Valid {
		t.Error("container ref not recorded")
	}
	if !sb.OpencodeURL.Valid || !sb.VNCURL.Valid || !sb.CodeServerURL.Valid {
		t.Error("service URLs not set on auto-started sandbox")
	}
	if want := "http://" + sb.ContainerName.String + ":4096"; sb.OpencodeURL.String != want {
		t.Errorf("opencode url: got %q, want %q", sb.OpencodeURL.String, want)
	}

	if len(rt.createCalls) != 1 || len(rt.startCalls) != 1 {
		t.Errorf("runtime calls: create=%d start=%d", len(rt.createCalls), len(rt.startCalls))
	}
	if len(git.created) != 1 || git.created[0] != sb.RepoName {
		t.Errorf("git created: %v", git.created)
	}
	spec := rt.createCalls[0]
	if spec.CPUCores != 1 || spec.MemoryGB != 2 {
		t.Errorf("starter tier limits not applied: %+v", spec)
	}
}

func TestCreateSandbox_SlugSequence(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	var slugs []string
	for i := 0; i < 3; i++ {
		info, err := e.CreateSandbox(ctx, CreateOptions{Name: "My Project", UserID: "u1"})
		if err != nil {
			t.Fatalf("CreateSandbox #%d: %v", i, err)
		}
		slugs = append(slugs, info.Sandbox.Slug)
	}
	want := []string{"my-project", "my-project-1", "my-project-2"}
	for i := range want {
		if slugs[i] != want[i] {
			t.Errorf("slug #%d: got %q, want %q", i, slugs[i], want[i])
		}
	}

	// Scoped per user: another user starts over at the base slug
	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "My Project", UserID: "u2"})
	if err != nil {
		t.Fatalf("CreateSandbox other user: %v", err)
	}
	if info.Sandbox.Slug != "my-project" {
		t.Errorf("other user slug: got %q", info.Sandbox.Slug)
	}
}

func TestCreateSandbox_Validation(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []CreateOptions{
		{Name: "", UserID: "u1"},
		{Name: "   ", UserID: "u1"},
		{Name: strings.Repeat("x", 101), UserID: "u1"},
		{Name: "ok", UserID: ""},
		{Name: "ok", UserID: "u1", ResourceTier: "mega"},
		{Name: "ok", UserID: "u1", Flavor: "cobol"},
		{Name: "ok", UserID: "u1", Addons: []string{"nope"}},
		{Name: "***", UserID: "u1"},
	}
	for _, opts := range cases {
		_, err := e.CreateSandbox(ctx, opts)
		if !IsKind(err, KindValidation) {
			t.Errorf("opts %+v: want validation error, got %v", opts, err)
		}
	}
	if len(rt.createCalls) != 0 {
		t.Errorf("validation failures must not reach the runtime, got %d creates", len(rt.createCalls))
	}
}

func TestCreateSandbox_NoAutoStart(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)

	info, err := e.CreateSandbox(context.Background(), CreateOptions{
		Name: "demo", UserID: "u1", AutoStart: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if info.Sandbox.Status != store.StatusStopped {
		t.Errorf("status: got %q", info.Sandbox.Status)
	}
	if len(rt.startCalls) != 0 {
		t.Errorf("start should not be called, got %d", len(rt.startCalls))
	}
	if info.Sandbox.OpencodeURL.Valid {
		t.Error("URLs should not be set before the first start")
	}
	if !info.Sandbox.ContainerID.Valid {
		t.Error("container should exist even without auto-start")
	}
}

func TestCreateSandbox_ContainerCreateFails(t *testing.T) {
	e, st, _, git := newTestEngine(t)
	ctx := context.Background()

	e.runtime.(*mockRuntime).createErr = errors.New("daemon down")

	_, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if !IsKind(err, KindRuntime) {
		t.Fatalf("want runtime error, got %v", err)
	}
	if len(git.created) != 0 {
		t.Errorf("repo should not be created, got %v", git.created)
	}

	sandboxes, err := st.ListSandboxes(ctx, store.SandboxFilter{})
	if err != nil {
		t.Fatalf("ListSandboxes: %v", err)
	}
	if len(sandboxes) != 0 {
		t.Errorf("record should be rolled back, got %d records", len(sandboxes))
	}
}

func TestCreateSandbox_RepoCreateFails(t *testing.T) {
	e, st, rt, git := newTestEngine(t)
	ctx := context.Background()

	git.createErr = errors.New("disk full")

	_, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if !IsKind(err, KindGit) {
		t.Fatalf("want git error, got %v", err)
	}

	// The already-created container is compensated away and no record survives
	if len(rt.removeCalls) != 1 || rt.removeCalls[0].containerID != "ctr-1" {
		t.Errorf("container not removed: %v", rt.removeCalls)
	}
	sandboxes, err := st.ListSandboxes(ctx, store.SandboxFilter{})
	if err != nil {
		t.Fatalf("ListSandboxes: %v", err)
	}
	if len(sandboxes) != 0 {
		t.Errorf("record should be rolled back, got %d records", len(sandboxes))
	}
}

func TestCreateSandbox_StartFails(t *testing.T) {
	e, st, rt, _ := newTestEngine(t)
	ctx := context.Background()

	rt.startErr = errors.New("oom")

	_, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if !IsKind(err, KindRuntime) {
		t.Fatalf("want runtime error, got %v", err)
	}

	// Container and repo survive a start failure; the record marks the error
	sandboxes, err := st.ListSandboxes(ctx, store.SandboxFilter{})
	if err != nil {
		t.Fatalf("ListSandboxes: %v", err)
	}
	if len(sandboxes) != 1 {
		t.Fatalf("expected surviving record, got %d", len(sandboxes))
	}
	sb := sandboxes[0]
	if sb.Status != store.StatusError {
		t.Errorf("status: got %q", sb.Status)
	}
	if !sb.ErrorMessage.Valid || !strings.Contains(sb.ErrorMessage.String, "oom") {
		t.Errorf("error message: got %+v", sb.ErrorMessage)
	}
	if !sb.ContainerID.Valid {
		t.Error("container ref should be recorded for later recovery")
	}

	// The error state is recoverable: a later start brings it to running
	rt.startErr = nil
	updated, err := e.StartSandbox(ctx, sb.ID)
	if err != nil {
		t.Fatalf("StartSandbox after failure: %v", err)
	}
	if updated.Status != store.StatusRunning {
		t.Errorf("recovered status: got %q", updated.Status)
	}
	if updated.ErrorMessage.Valid && updated.ErrorMessage.String != "" {
		t.Errorf("error message not cleared: %+v", updated.ErrorMessage)
	}
}

func TestStartSandbox(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{
		Name: "demo", UserID: "u1", AutoStart: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	id := info.Sandbox.ID

	sb, err := e.StartSandbox(ctx, id)
	if err != nil {
		t.Fatalf("StartSandbox: %v", err)
	}
	if sb.Status != store.StatusRunning {
		t.Errorf("status: got %q", sb.Status)
	}
	if !sb.OpencodeURL.Valid {
		t.Error("URLs should be set on first start")
	}

	// Starting a running sandbox is a precondition failure, not a no-op
	if _, err := e.StartSandbox(ctx, id); !IsKind(err, KindPrecondition) {
		t.Errorf("start on running: want precondition error, got %v", err)
	}
	if len(rt.startCalls) != 1 {
		t.Errorf("runtime start called %d times, want 1", len(rt.startCalls))
	}
}

func TestStopSandbox_TimeoutPassthrough(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	id := info.Sandbox.ID

	sb, err := e.StopSandbox(ctx, id, intPtr(15))
	if err != nil {
		t.Fatalf("StopSandbox: %v", err)
	}
	if sb.Status != store.StatusStopped {
		t.Errorf("status: got %q", sb.Status)
	}
	if got := rt.stopCalls[0].timeoutSeconds; got == nil || *got != 15 {
		t.Errorf("timeout not forwarded unchanged: got %v", got)
	}

	// Stopping a stopped sandbox fails the precondition and leaves it stopped
	if _, err := e.StopSandbox(ctx, id, nil); !IsKind(err, KindPrecondition) {
		t.Errorf("stop on stopped: want precondition error, got %v", err)
	}
	if len(rt.stopCalls) != 1 {
		t.Errorf("runtime stop called %d times, want 1", len(rt.stopCalls))
	}

	// nil timeout is forwarded as nil
	if _, err := e.StartSandbox(ctx, id); err != nil {
		t.Fatalf("StartSandbox: %v", err)
	}
	if _, err := e.StopSandbox(ctx, id, nil); err != nil {
		t.Fatalf("StopSandbox: %v", err)
	}
	if got := rt.stopCalls[1].timeoutSeconds; got != nil {
		t.Errorf("nil timeout not forwarded: got %v", *got)
	}
}

func TestRestartSandbox(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	sb, err := e.RestartSandbox(ctx, info.Sandbox.ID, intPtr(30))
	if err != nil {
		t.Fatalf("RestartSandbox: %v", err)
	}
	if sb.Status != store.StatusRunning {
		t.Errorf("status: got %q", sb.Status)
	}
	if got := rt.restartCalls[0].timeoutSeconds; got == nil || *got != 30 {
		t.Errorf("timeout not forwarded: got %v", got)
	}
}

func TestPauseRecordsStopped(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	id := info.Sandbox.ID

	sb, err := e.PauseSandbox(ctx, id)
	if err != nil {
		t.Fatalf("PauseSandbox: %v", err)
	}
	// Pause suspends at the runtime level but records "stopped"
	if sb.Status != store.StatusStopped {
		t.Errorf("status after pause: got %q", sb.Status)
	}
	if len(rt.pauseCalls) != 1 {
		t.Errorf("pause calls: got %d", len(rt.pauseCalls))
	}

	sb, err = e.UnpauseSandbox(ctx, id)
	if err != nil {
		t.Fatalf("UnpauseSandbox: %v", err)
	}
	if sb.Status != store.StatusRunning {
		t.Errorf("status after unpause: got %q", sb.Status)
	}
}

func TestPauseOnCreated_Precondition(t *testing.T) {
	e, st, rt, _ := newTestEngine(t)
	ctx := context.Background()

	// Seed a record that never got past provisioning
	seed := &store.Sandbox{
		ID: "sb-created", UserID: "u1", Name: "demo", Slug: "demo",
		RepoName: "demo-12345678", Status: store.StatusCreated,
		TierID: "starter", FlavorID: "js",
	}
	if err := st.InsertSandbox(ctx, seed); err != nil {
		t.Fatalf("InsertSandbox: %v", err)
	}

	_, err := e.PauseSandbox(ctx, "sb-created")
	if !IsKind(err, KindPrecondition) {
		t.Fatalf("want precondition error, got %v", err)
	}
	if len(rt.pauseCalls) != 0 {
		t.Error("runtime pause should not be reached")
	}

	sb, _, err := st.GetSandbox(ctx, "sb-created")
	if err != nil {
		t.Fatalf("GetSandbox: %v", err)
	}
	if sb.Status != store.StatusCreated {
		t.Errorf("status changed on failed pause: got %q", sb.Status)
	}
}

func TestDeleteSandbox(t *testing.T) {
	e, st, rt, git := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	id := info.Sandbox.ID

	err = e.DeleteSandbox(ctx, id, DeleteOptions{DeleteRepo: true, RemoveVolumes: true})
	if err != nil {
		t.Fatalf("DeleteSandbox: %v", err)
	}
	if len(rt.removeCalls) != 1 || !rt.removeCalls[0].removeVolumes {
		t.Errorf("removeVolumes not forwarded: %v", rt.removeCalls)
	}
	if len(git.deleted) != 1 || git.deleted[0] != info.Sandbox.RepoName {
		t.Errorf("repo not deleted: %v", git.deleted)
	}
	if _, ok, _ := st.GetSandbox(ctx, id); ok {
		t.Error("record should be gone")
	}

	// Deleting again is NotFound with no further side effects
	err = e.DeleteSandbox(ctx, id, DeleteOptions{DeleteRepo: true})
	if !IsKind(err, KindNotFound) {
		t.Errorf("second delete: want not-found error, got %v", err)
	}
	if len(rt.removeCalls) != 1 || len(git.deleted) != 1 {
		t.Error("second delete must not touch the adapters")
	}
}

func TestDeleteSandbox_KeepRepo(t *testing.T) {
	e, _, _, git := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	if err := e.DeleteSandbox(ctx, info.Sandbox.ID, DeleteOptions{}); err != nil {
		t.Fatalf("DeleteSandbox: %v", err)
	}
	if len(git.deleted) != 0 {
		t.Errorf("repo should be kept, got deletions %v", git.deleted)
	}
}

func TestDeleteSandbox_RuntimeFailureKeepsRecord(t *testing.T) {
	e, st, rt, git := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	rt.removeErr = errors.New("daemon down")
	err = e.DeleteSandbox(ctx, info.Sandbox.ID, DeleteOptions{DeleteRepo: true})
	if !IsKind(err, KindRuntime) {
		t.Fatalf("want runtime error, got %v", err)
	}
	if len(git.deleted) != 0 {
		t.Error("repo must not be deleted when container removal failed")
	}
	if _, ok, _ := st.GetSandbox(ctx, info.Sandbox.ID); !ok {
		t.Error("record must survive a failed delete so it can be retried")
	}

	// Retry succeeds once the runtime recovers
	rt.removeErr = nil
	if err := e.DeleteSandbox(ctx, info.Sandbox.ID, DeleteOptions{DeleteRepo: true}); err != nil {
		t.Fatalf("retried delete: %v", err)
	}
}

func TestExec(t *testing.T) {
	e, _, rt, _ := newTestEngine(t)
	ctx := context.Background()

	// An empty command is rejected before anything else happens
	_, err := e.Exec(ctx, "whatever", nil, runtime.ExecOptions{})
	if !IsKind(err, KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	if len(rt.execCalls) != 0 {
		t.Fatal("empty command must not reach the runtime")
	}

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	result, err := e.Exec(ctx, info.Sandbox.ID, []string{"ls", "-la"}, runtime.ExecOptions{WorkingDir: "/workspace"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code: got %d", result.ExitCode)
	}
	call := rt.execCalls[0]
	if call.cmd[0] != "ls" || call.opts.WorkingDir != "/workspace" {
		t.Errorf("exec call not forwarded unchanged: %+v", call)
	}
}

func TestGitOpsWithoutRepo(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	seed := &store.Sandbox{
		ID: "sb-norepo", UserID: "u1", Name: "demo", Slug: "demo",
		Status: store.StatusRunning, TierID: "starter", FlavorID: "js",
	}
	if err := st.InsertSandbox(ctx, seed); err != nil {
		t.Fatalf("InsertSandbox: %v", err)
	}

	if _, err := e.CommitChanges(ctx, "sb-norepo", gitserver.CommitOptions{Message: "m"}); !IsKind(err, KindPrecondition) {
		t.Errorf("commit: want precondition error, got %v", err)
	}
	if _, err := e.GitStatus(ctx, "sb-norepo"); !IsKind(err, KindPrecondition) {
		t.Errorf("status: want precondition error, got %v", err)
	}
	if _, err := e.GitLog(ctx, "sb-norepo", 5); !IsKind(err, KindPrecondition) {
		t.Errorf("log: want precondition error, got %v", err)
	}
}

func TestCommitChanges(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	commit, err := e.CommitChanges(ctx, info.Sandbox.ID, gitserver.CommitOptions{Message: "wip"})
	if err != nil {
		t.Fatalf("CommitChanges: %v", err)
	}
	if commit.SHA == "" || commit.Message != "wip" {
		t.Errorf("commit: %+v", commit)
	}
}

func TestListSandboxes_FilterAND(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateSandbox(ctx, CreateOptions{Name: "a", UserID: "u1"}); err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	stopped, err := e.CreateSandbox(ctx, CreateOptions{Name: "b", UserID: "u1", AutoStart: boolPtr(false)})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if _, err := e.CreateSandbox(ctx, CreateOptions{Name: "c", UserID: "u2"}); err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	got, err := e.ListSandboxes(ctx, store.SandboxFilter{
		UserID:   "u1",
		Statuses: []string{store.StatusStopped},
	})
	if err != nil {
		t.Fatalf("ListSandboxes: %v", err)
	}
	if len(got) != 1 || got[0].ID != stopped.Sandbox.ID {
		t.Errorf("filter result: %v", got)
	}
}

func TestGetSandbox_NotFound(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	if _, err := e.GetSandbox(context.Background(), "nope"); !IsKind(err, KindNotFound) {
		t.Errorf("want not-found error, got %v", err)
	}
	if _, err := e.GetSandboxStatus(context.Background(), "nope"); !IsKind(err, KindNotFound) {
		t.Errorf("status: want not-found error, got %v", err)
	}
}

func TestGetSandboxLogsAndStats(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	lines, err := e.GetSandboxLogs(ctx, info.Sandbox.ID, 50)
	if err != nil {
		t.Fatalf("GetSandboxLogs: %v", err)
	}
	if len(lines) != 1 {
		t.Errorf("log lines: %v", lines)
	}

	stats, err := e.GetSandboxStats(ctx, info.Sandbox.ID)
	if err != nil {
		t.Fatalf("GetSandboxStats: %v", err)
	}
	if stats.CPUPercent != 1.5 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestMutatingOpsWriteAudit(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := e.CreateSandbox(ctx, CreateOptions{Name: "demo", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if err := e.DeleteSandbox(ctx, info.Sandbox.ID, DeleteOptions{DeleteRepo: true}); err != nil {
		t.Fatalf("DeleteSandbox: %v", err)
	}

	entries, err := st.GetAuditLog(ctx, 10)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	ops := map[string]bool{}
	for _, entry := range entries {
		ops[entry.Operation] = true
		if entry.TraceID == "" {
			t.Errorf("audit entry without trace id: %+v", entry)
		}
	}
	if !ops["sandbox.create"] || !ops["sandbox.delete"] {
		t.Errorf("audit operations: %v", ops)
	}
}
