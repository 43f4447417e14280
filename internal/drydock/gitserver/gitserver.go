// Package gitserver defines the git backend port: the narrow interface the
// orchestration engine uses to manage each sandbox's paired repository.
package gitserver

import (
	"context"
	"time"
)

// Client abstracts the git-hosting backend. The engine only ever sees this
// interface, so the backend can be swapped for a fake in tests.
type Client interface {
	// CreateRepo creates and initializes a repository with the given name.
	CreateRepo(ctx context.Context, name string) (Repo, error)

	// DeleteRepo removes the repository. Deleting a repository that does not
	// exist is not an error.
	DeleteRepo(ctx context.Context, name string) error

	// Commit stages all pending changes in the repository and commits them.
	Commit(ctx context.Context, name string, opts CommitOptions) (Commit, error)

	// Status returns the repository's pending (uncommitted) changes.
	Status(ctx context.Context, name string) (RepoStatus, error)

	// Log returns the most recent commits, newest first. limit <= 0 means
	// a backend-chosen default.
	Log(ctx context.Context, name string, limit int) ([]Commit, error)
}

// Repo describes a repository managed by the backend.
type Repo struct {
	// Name is the backend-unique repository identifier.
	Name string
	// Path is where the backend keeps the repository (clone target).
	Path string
}

// CommitOptions parameterizes a commit. Empty author fields fall back to the
// backend's configured identity.
type CommitOptions struct {
	Message     string
	AuthorName  string
	AuthorEmail string
}

// Commit is one entry of a repository's history.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Email   string
	When    time.Time
}

// FileStatus is one pending change in a repository worktree.
type FileStatus struct {
	// Path is the file path relative to the repository root.
	Path string
	// State is the two-letter porcelain status code (e.g. " M", "??").
	State string
}

// RepoStatus is the set of pending changes in a repository.
type RepoStatus struct {
	Files []FileStatus
}

// Clean reports whether the worktree has no pending changes.
func (s RepoStatus) Clean() bool {
	return len(s.Files) == 0
}
