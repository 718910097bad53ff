// Seneschal is a host daemon for external MCP tool providers.
//
// It spawns and supervises the providers named in its configuration,
// guarantees each one is initialized exactly once no matter how many
// concurrent callers need it, and exposes the merged tool set plus
// per-provider health over a small HTTP API for agent frontends.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	seneschal serve              Start the host daemon
//	seneschal tools              Bootstrap all providers and print the merged tool set
//	seneschal init [dir]         Initialize a working directory with a default config
//	seneschal version            Print version and build information
//	seneschal -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/parlane/seneschal/internal/api"
	"github.com/parlane/seneschal/internal/bootstrap"
	"github.com/parlane/seneschal/internal/buildinfo"
	"github.com/parlane/seneschal/internal/config"
	"github.com/parlane/seneschal/internal/connwatch"
	"github.com/parlane/seneschal/internal/journal"
	"github.com/parlane/seneschal/internal/mcp"
	"github.com/parlane/seneschal/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the seneschal command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process (cancelling it triggers graceful shutdown), stdout and
// stderr receive all program output, and args is os.Args[1:].
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call
	// run() concurrently from tests. Our argument surface is small
	// enough that manual parsing is clearer than a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "", "serve":
		return runServe(ctx, stdout, configPath)
	case "tools":
		return runTools(ctx, stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s (try -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, `seneschal - host daemon for external MCP tool providers

Usage:
  seneschal [flags] <command>

Commands:
  serve          Start the host daemon (default)
  tools          Bootstrap all providers and print the merged tool set
  init [dir]     Initialize a working directory with a default config
  version        Print version and build information

Flags:
  -config <path>     Explicit config file path
  -o, --output fmt   Output format: text (default) or json`)
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(w).Encode(buildinfo.Info())
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

// loadConfig resolves and reads the config file exactly once. Callers
// pass the resulting Config to setup so that a file edit between
// process start and setup cannot produce a split view.
func loadConfig(configPath string) (*config.Config, string, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// setup builds the logger and constructs the provider managers and
// registry shared by serve and tools from an already-loaded config.
func setup(stdout io.Writer, cfg *config.Config, path string, rec bootstrap.Recorder) (*slog.Logger, *bootstrap.Registry, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String(), "config", path)

	registry := bootstrap.NewRegistry(logger)
	for _, p := range cfg.Providers {
		spec, err := bootstrap.NewSpec(p)
		if err != nil {
			return nil, nil, err
		}

		var opts []bootstrap.Option
		if rec != nil {
			opts = append(opts, bootstrap.WithRecorder(rec))
		}
		if err := registry.Register(bootstrap.NewManager(spec, logger, opts...)); err != nil {
			return nil, nil, err
		}
	}

	return logger, registry, nil
}

// runServe starts the host: bootstrap every provider, bridge the merged
// tool set into the agent-facing registry, start the API server, and
// block until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. Health probing stops
//  3. All providers are shut down concurrently (subprocesses terminated)
//  4. The API server drains and exits
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// The journal lives under the config's data_dir and doubles as the
	// lifecycle recorder wired into every manager.
	var rec bootstrap.Recorder
	var store *journal.Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		store, err = journal.NewStore(filepath.Join(cfg.DataDir, "journal.db"), nil)
		if err != nil {
			return err
		}
		defer store.Close()
		rec = store
	}

	logger, registry, err := setup(stdout, cfg, path, rec)
	if err != nil {
		return err
	}

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancel everything downstream.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Bootstrap ---
	// All providers come up concurrently. A required provider's failure
	// aborts startup here; optional failures only shrink the tool set.
	if err := registry.BootstrapAll(ctx); err != nil {
		registry.ShutdownAll()
		return fmt.Errorf("bootstrap providers: %w", err)
	}

	// --- Bridge tools ---
	// Register every available provider's catalog under namespaced
	// names for the agent frontend.
	toolReg := tools.NewRegistry()
	connMgr := connwatch.NewManager(logger)
	for _, m := range registry.Managers() {
		client, err := m.Client(ctx)
		if err != nil {
			// Unavailable optional provider; its tools are omitted.
			continue
		}

		spec := m.Spec()
		count := mcp.BridgeTools(client, spec.Name, toolReg, spec.IncludeTools, spec.ExcludeTools, logger)
		logger.Info("provider tools bridged", "provider", spec.Name, "tools", count)

		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name: spec.Name,
			Probe: func(pCtx context.Context) error {
				c, err := m.Client(pCtx)
				if err != nil {
					return err
				}
				return c.Ping(pCtx)
			},
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  logger,
		})
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, registry, toolReg, logger)
	if store != nil {
		server.SetJournal(store)
	}
	server.SetWatch(connMgr)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		registry.ShutdownAll()
		return fmt.Errorf("API server: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	connMgr.Stop()
	registry.ShutdownAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// runTools bootstraps every provider once, prints the merged tool set,
// and tears everything back down. Useful for verifying a config without
// starting the daemon.
func runTools(ctx context.Context, stdout io.Writer, configPath string, outputFmt string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, registry, err := setup(stdout, cfg, path, nil)
	if err != nil {
		return err
	}
	defer registry.ShutdownAll()

	if err := registry.BootstrapAll(ctx); err != nil {
		return fmt.Errorf("bootstrap providers: %w", err)
	}

	merged, err := registry.MergedTools(ctx)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(merged)
	}

	logger.Info("merged tool set assembled", "tools", len(merged))
	for _, td := range merged {
		fmt.Fprintf(stdout, "%-40s %s\n", td.Name, td.Description)
	}
	return nil
}
