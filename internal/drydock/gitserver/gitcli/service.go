// Package gitcli implements the git backend port by driving the git CLI
// over a root directory of repositories, one subdirectory per repo.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/drydock-dev/drydock/internal/drydock/gitserver"
)

// repoNamePattern guards against path traversal in repository names.
var repoNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

const (
	defaultAuthorName  = "drydock"
	defaultAuthorEmail = "drydock@localhost"
	defaultLogLimit    = 20
)

// Service implements gitserver.Client with local repositories under a root
// directory, shelling out to the git binary.
type Service struct {
	root        string
	authorName  string
	authorEmail string
}

// New creates a Service rooted at the given directory, creating it if needed.
// Fails when the git binary is not on PATH.
func New(root string) (*Service, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git binary not found: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create repos root: %w", err)
	}
	return &Service{
		root:        root,
		authorName:  defaultAuthorName,
		authorEmail: defaultAuthorEmail,
	}, nil
}

// CreateRepo initializes a repository and seeds it with an initial commit so
// that log and status work immediately.
func (s *Service) CreateRepo(ctx context.Context, name string) (gitserver.Repo, error) {
	dir, err := s.repoPath(name)
	if err != nil {
		return gitserver.Repo{}, err
	}
	if _, err := os.Stat(dir); err == nil {
		return gitserver.Repo{}, fmt.Errorf("repository %q already exists", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return gitserver.Repo{}, fmt.Errorf("create repository dir: %w", err)
	}

	if _, err := s.git(ctx, dir, "init", "--initial-branch=main"); err != nil {
		os.RemoveAll(dir)
		return gitserver.Repo{}, fmt.Errorf("git init %q: %w", name, err)
	}

	args := append(s.identityArgs("", ""), "commit", "--allow-empty", "-m", "Initial commit")
	if _, err := s.git(ctx, dir, args...); err != nil {
		os.RemoveAll(dir)
		return gitserver.Repo{}, fmt.Errorf("initial commit for %q: %w", name, err)
	}

	return gitserver.Repo{Name: name, Path: dir}, nil
}

// DeleteRepo removes the repository directory. Missing repositories are a no-op.
func (s *Service) DeleteRepo(ctx context.Context, name string) error {
	dir, err := s.repoPath(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete repository %q: %w", name, err)
	}
	return nil
}

// Commit stages everything and commits it with the given message.
func (s *Service) Commit(ctx context.Context, name string, opts gitserver.CommitOptions) (gitserver.Commit, error) {
	dir, err := s.existingRepoPath(name)
	if err != nil {
		return gitserver.Commit{}, err
	}
	if strings.TrimSpace(opts.Message) == "" {
		return gitserver.Commit{}, fmt.Errorf("commit message must not be empty")
	}

	if _, err := s.git(ctx, dir, "add", "-A"); err != nil {
		return gitserver.Commit{}, fmt.Errorf("git add in %q: %w", name, err)
	}

	args := append(s.identityArgs(opts.AuthorName, opts.AuthorEmail), "commit", "-m", opts.Message)
	if opts.AuthorName != "" {
		args = append(args, "--author", fmt.Sprintf("%s <%s>", opts.AuthorName, orDefault(opts.AuthorEmail, defaultAuthorEmail)))
	}
	if _, err := s.git(ctx, dir, args...); err != nil {
		return gitserver.Commit{}, fmt.Errorf("git commit in %q: %w", name, err)
	}

	commits, err := s.Log(ctx, name, 1)
	if err != nil {
		return gitserver.Commit{}, err
	}
	if len(commits) == 0 {
		return gitserver.Commit{}, fmt.Errorf("commit in %q produced no history entry", name)
	}
	return commits[0], nil
}

// Status returns the repository's pending changes.
func (s *Service) Status(ctx context.Context, name string) (gitserver.RepoStatus, error) {
	dir, err := s.existingRepoPath(name)
	if err != nil {
		return gitserver.RepoStatus{}, err
	}

	out, err := s.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return gitserver.RepoStatus{}, fmt.Errorf("git status in %q: %w", name, err)
	}

	return gitserver.RepoStatus{Files: parsePorcelain(out)}, nil
}

// Log returns the most recent commits, newest first.
func (s *Service) Log(ctx context.Context, name string, limit int) ([]gitserver.Commit, error) {
	dir, err := s.existingRepoPath(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}

	// Unit separator between fields keeps subjects with spaces intact.
	out, err := s.git(ctx, dir, "log", "-n", fmt.Sprintf("%d", limit),
		"--pretty=format:%H%x1f%an%x1f%ae%x1f%aI%x1f%s")
	if err != nil {
		return nil, fmt.Errorf("git log in %q: %w", name, err)
	}

	return parseLog(out), nil
}

// --- helpers ---

func (s *Service) repoPath(name string) (string, error) {
	if !repoNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid repository name %q", name)
	}
	return filepath.Join(s.root, name), nil
}

func (s *Service) existingRepoPath(name string) (string, error) {
	dir, err := s.repoPath(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", fmt.Errorf("repository %q does not exist", name)
	}
	return dir, nil
}

// identityArgs returns -c user.name/-c user.email flags so commits work
// without global git config in the service environment.
func (s *Service) identityArgs(name, email string) []string {
	return []string{
		"-c", "user.name=" + orDefault(name, s.authorName),
		"-c", "user.email=" + orDefault(email, s.authorEmail),
	}
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func (s *Service) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("git: %s: %w", msg, err)
	}
	return stdout.String(), nil
}

func parsePorcelain(out string) []gitserver.FileStatus {
	var files []gitserver.FileStatus
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		files = append(files, gitserver.FileStatus{
			State: line[:2],
			Path:  strings.TrimSpace(line[3:]),
		})
	}
	return files
}

func parseLog(out string) []gitserver.Commit {
	var commits []gitserver.Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 5 {
			continue
		}
		when, _ := time.Parse(time.RFC3339, parts[3])
		commits = append(commits, gitserver.Commit{
			SHA:     parts[0],
			Author:  parts[1],
			Email:   parts[2],
			When:    when,
			Message: parts[4],
		})
	}
	return commits
}
