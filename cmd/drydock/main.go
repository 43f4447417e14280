// Drydock is the sandbox orchestrator CLI.
//
// All configuration is loaded from environment variables:
//
//	DRYDOCK_DB             - path to the SQLite database (default: ./drydock.db)
//	DRYDOCK_REPOS_ROOT     - directory for sandbox git repositories (default: ./repos)
//	DRYDOCK_DOCKER_NETWORK - shared Docker network name (default: "drydock")
//	LOG_LEVEL              - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT             - "text" or "json" (default: "text")
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/drydock-dev/drydock/common/version"
	"github.com/drydock-dev/drydock/internal/drydock/app"
	"github.com/drydock-dev/drydock/internal/drydock/engine"
	"github.com/drydock-dev/drydock/internal/drydock/gitserver"
	"github.com/drydock-dev/drydock/internal/drydock/runtime"
	"github.com/drydock-dev/drydock/internal/drydock/store"
)

func main() {
	setupLogging()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "version" {
		fmt.Println("drydock", version.Info())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drydock, err := app.New(ctx, app.Config{
		DBPath:        envOr("DRYDOCK_DB", "./drydock.db"),
		ReposRoot:     envOr("DRYDOCK_REPOS_ROOT", "./repos"),
		DockerNetwork: os.Getenv("DRYDOCK_DOCKER_NETWORK"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	defer drydock.Close()

	if err := run(ctx, drydock.Engine, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, e *engine.Engine, cmd string, args []string) error {
	switch cmd {
	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		name := fs.String("name", "", "sandbox name (required)")
		user := fs.String("user", "", "owning user ID (required)")
		desc := fs.String("description", "", "sandbox description")
		flavor := fs.String("flavor", "", "container flavor ID (default: catalog default)")
		tier := fs.String("tier", "", "resource tier ID (default: catalog default)")
		addons := fs.String("addons", "", "comma-separated addon IDs")
		noStart := fs.Bool("no-start", false, "create without starting the container")
		fs.Parse(args)

		autoStart := !*noStart
		info, err := e.CreateSandbox(ctx, engine.CreateOptions{
			Name:         *name,
			UserID:       *user,
			Description:  *desc,
			Flavor:       *flavor,
			ResourceTier: *tier,
			Addons:       splitList(*addons),
			AutoStart:    &autoStart,
		})
		if err != nil {
			return err
		}
		printSandbox(info.Sandbox)
		fmt.Printf("repo:      %s\n", info.Repository.Path)
		return nil

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		user := fs.String("user", "", "filter by owning user ID")
		statuses := fs.String("status", "", "comma-separated status filter")
		fs.Parse(args)

		sandboxes, err := e.ListSandboxes(ctx, store.SandboxFilter{
			UserID:   *user,
			Statuses: splitList(*statuses),
		})
		if err != nil {
			return err
		}
		for _, sb := range sandboxes {
			fmt.Printf("%s  %-10s %-20s %s\n", sb.ID, sb.Status, sb.Slug, sb.UserID)
		}
		return nil

	case "info":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		info, err := e.GetSandboxInfo(ctx, id)
		if err != nil {
			return err
		}
		printSandbox(info.Sandbox)
		return nil

	case "start":
		return transition(ctx, args, cmd, func(id string) (*store.Sandbox, error) {
			return e.StartSandbox(ctx, id)
		})

	case "stop":
		fs := flag.NewFlagSet("stop", flag.ExitOnError)
		timeout := fs.Int("timeout", -1, "graceful stop timeout in seconds (-1: runtime default)")
		fs.Parse(args)
		id, err := oneArg(cmd, fs.Args())
		if err != nil {
			return err
		}
		sb, err := e.StopSandbox(ctx, id, optTimeout(*timeout))
		if err != nil {
			return err
		}
		fmt.Println(sb.Status)
		return nil

	case "restart":
		fs := flag.NewFlagSet("restart", flag.ExitOnError)
		timeout := fs.Int("timeout", -1, "graceful stop timeout in seconds (-1: runtime default)")
		fs.Parse(args)
		id, err := oneArg(cmd, fs.Args())
		if err != nil {
			return err
		}
		sb, err := e.RestartSandbox(ctx, id, optTimeout(*timeout))
		if err != nil {
			return err
		}
		fmt.Println(sb.Status)
		return nil

	case "pause":
		return transition(ctx, args, cmd, func(id string) (*store.Sandbox, error) {
			return e.PauseSandbox(ctx, id)
		})

	case "unpause":
		return transition(ctx, args, cmd, func(id string) (*store.Sandbox, error) {
			return e.UnpauseSandbox(ctx, id)
		})

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ExitOnError)
		keepRepo := fs.Bool("keep-repo", false, "keep the sandbox's git repository")
		volumes := fs.Bool("volumes", false, "also remove the container's volumes")
		fs.Parse(args)
		id, err := oneArg(cmd, fs.Args())
		if err != nil {
			return err
		}
		return e.DeleteSandbox(ctx, id, engine.DeleteOptions{
			DeleteRepo:    !*keepRepo,
			RemoveVolumes: *volumes,
		})

	case "exec":
		fs := flag.NewFlagSet("exec", flag.ExitOnError)
		workdir := fs.String("workdir", "", "working directory inside the container")
		fs.Parse(args)
		rest := fs.Args()
		if len(rest) < 2 {
			return fmt.Errorf("usage: drydock exec [-workdir DIR] <id> <command...>")
		}
		result, err := e.Exec(ctx, rest[0], rest[1:], runtime.ExecOptions{WorkingDir: *workdir})
		if err != nil {
			return err
		}
		fmt.Print(result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		if result.ExitCode != 0 {
			return fmt.Errorf("command exited with code %d", result.ExitCode)
		}
		return nil

	case "logs":
		fs := flag.NewFlagSet("logs", flag.ExitOnError)
		tail := fs.Int("tail", 100, "number of log lines")
		fs.Parse(args)
		id, err := oneArg(cmd, fs.Args())
		if err != nil {
			return err
		}
		lines, err := e.GetSandboxLogs(ctx, id, *tail)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil

	case "stats":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		stats, err := e.GetSandboxStats(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("cpu:    %.2f%%\n", stats.CPUPercent)
		fmt.Printf("memory: %d / %d bytes\n", stats.MemoryUsage, stats.MemoryLimit)
		fmt.Printf("net:    rx %d tx %d bytes\n", stats.NetworkRx, stats.NetworkTx)
		return nil

	case "commit":
		fs := flag.NewFlagSet("commit", flag.ExitOnError)
		message := fs.String("m", "", "commit message (required)")
		author := fs.String("author", "", "author name")
		email := fs.String("email", "", "author email")
		fs.Parse(args)
		id, err := oneArg(cmd, fs.Args())
		if err != nil {
			return err
		}
		commit, err := e.CommitChanges(ctx, id, gitserver.CommitOptions{
			Message:     *message,
			AuthorName:  *author,
			AuthorEmail: *email,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", commit.SHA, commit.Message)
		return nil

	case "git-status":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		status, err := e.GitStatus(ctx, id)
		if err != nil {
			return err
		}
		if status.Clean() {
			fmt.Println("clean")
			return nil
		}
		for _, f := range status.Files {
			fmt.Printf("%s %s\n", f.State, f.Path)
		}
		return nil

	case "git-log":
		fs := flag.NewFlagSet("git-log", flag.ExitOnError)
		limit := fs.Int("n", 20, "number of commits")
		fs.Parse(args)
		id, err := oneArg(cmd, fs.Args())
		if err != nil {
			return err
		}
		commits, err := e.GitLog(ctx, id, *limit)
		if err != nil {
			return err
		}
		for _, c := range commits {
			fmt.Printf("%s %s (%s, %s)\n", c.SHA[:minInt(8, len(c.SHA))], c.Message, c.Author, c.When.Format("2006-01-02 15:04"))
		}
		return nil

	case "daemon-info":
		info, err := e.DockerInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("version:     %s (api %s)\n", info.Version, info.APIVersion)
		fmt.Printf("platform:    %s/%s\n", info.OS, info.Architecture)
		fmt.Printf("containers:  %d (%d running)\n", info.Containers, info.ContainersRun)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func transition(ctx context.Context, args []string, cmd string, fn func(id string) (*store.Sandbox, error)) error {
	id, err := oneArg(cmd, args)
	if err != nil {
		return err
	}
	sb, err := fn(id)
	if err != nil {
		return err
	}
	fmt.Println(sb.Status)
	return nil
}

func printSandbox(sb *store.Sandbox) {
	fmt.Printf("id:        %s\n", sb.ID)
	fmt.Printf("name:      %s (%s)\n", sb.Name, sb.Slug)
	fmt.Printf("user:      %s\n", sb.UserID)
	fmt.Printf("status:    %s\n", sb.Status)
	fmt.Printf("flavor:    %s, tier: %s\n", sb.FlavorID, sb.TierID)
	if len(sb.AddonIDs) > 0 {
		fmt.Printf("addons:    %s\n", strings.Join(sb.AddonIDs, ", "))
	}
	fmt.Printf("repo name: %s\n", sb.RepoName)
	if sb.ContainerName.Valid {
		fmt.Printf("container: %s\n", sb.ContainerName.String)
	}
	if sb.OpencodeURL.Valid {
		fmt.Printf("opencode:  %s\n", sb.OpencodeURL.String)
		fmt.Printf("vnc:       %s\n", sb.VNCURL.String)
		fmt.Printf("code:      %s\n", sb.CodeServerURL.String)
	}
	if sb.ErrorMessage.Valid && sb.ErrorMessage.String != "" {
		fmt.Printf("error:     %s\n", sb.ErrorMessage.String)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: drydock <command> [flags] [args]

Commands:
  create       create a sandbox (-name, -user, -flavor, -tier, -addons, -no-start)
  list         list sandboxes (-user, -status)
  info         show one sandbox
  start        start a stopped sandbox
  stop         stop a running sandbox (-timeout)
  restart      restart a sandbox (-timeout)
  pause        pause a running sandbox
  unpause      resume a paused sandbox
  delete       delete a sandbox (-keep-repo, -volumes)
  exec         run a command inside a sandbox (-workdir)
  logs         show container logs (-tail)
  stats        show container resource usage
  commit       commit pending repo changes (-m, -author, -email)
  git-status   show pending repo changes
  git-log      show repo history (-n)
  daemon-info  show Docker daemon information
  version      print version and exit
`)
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: drydock %s <sandbox-id>", cmd)
	}
	return args[0], nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func optTimeout(seconds int) *int {
	if seconds < 0 {
		return nil
	}
	return &seconds
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func setupLogging() {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
