// Package app wires the drydock components together: the SQLite store, the
// resource catalog, the Docker runtime adapter, the git backend and the
// orchestration engine on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/drydock-dev/drydock/common/retry"
	"github.com/drydock-dev/drydock/internal/drydock/catalog"
	"github.com/drydock-dev/drydock/internal/drydock/engine"
	"github.com/drydock-dev/drydock/internal/drydock/gitserver/gitcli"
	"github.com/drydock-dev/drydock/internal/drydock/runtime"
	"github.com/drydock-dev/drydock/internal/drydock/runtime/docker"
	"github.com/drydock-dev/drydock/internal/drydock/store"
)

// Config holds the runtime configuration, typically sourced from the
// environment by the caller.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string
	// ReposRoot is the directory the git backend keeps repositories under.
	ReposRoot string
	// DockerNetwork is the shared network sandbox containers attach to.
	DockerNetwork string
}

// App is the assembled drydock application.
type App struct {
	Engine  *engine.Engine
	Store   *store.Store
	Catalog *catalog.Catalog
	Docker  *docker.Adapter
	Git     *gitcli.Service
}

// New assembles the application and verifies its external dependencies: the
// Docker daemon must answer a health check (retried, since drydock often
// races the daemon at boot) and the sandbox network must exist.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.DockerNetwork == "" {
		cfg.DockerNetwork = runtime.DefaultNetwork
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	dockerRT, err := docker.NewWithNetwork(cfg.DockerNetwork)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("docker adapter: %w", err)
	}

	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}, func() error {
		return dockerRT.HealthCheck(ctx)
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}

	if err := dockerRT.EnsureNetwork(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ensure network: %w", err)
	}

	git, err := gitcli.New(cfg.ReposRoot)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("git backend: %w", err)
	}

	// Prime the adapter's container cache and report what is already running
	// from a previous process life.
	refs, err := dockerRT.List(ctx)
	if err != nil {
		slog.Warn("could not list existing sandbox containers", "err", err)
	} else {
		slog.Info("sandbox containers discovered", "count", len(refs))
	}

	info, err := dockerRT.Info(ctx)
	if err == nil {
		slog.Info("docker daemon connected",
			"version", info.Version, "api_version", info.APIVersion, "os", info.OS)
	}

	return &App{
		Engine:  engine.New(st, dockerRT, git, cat),
		Store:   st,
		Catalog: cat,
		Docker:  dockerRT,
		Git:     git,
	}, nil
}

// Close releases the application's resources.
func (a *App) Close() error {
	return a.Store.Close()
}
