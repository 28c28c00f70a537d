// Package cmd provides the CLI commands for barqctl.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/internal/config"
	engineerrors "github.com/barqdb/barq/internal/errors"
	"github.com/barqdb/barq/internal/logging"
	"github.com/barqdb/barq/internal/storage"
	"github.com/barqdb/barq/pkg/version"
)

// Shared state wired up by PersistentPreRunE and torn down by
// PersistentPostRunE, the way the teacher's root.go wires profiling and
// debug logging around every subcommand.
var (
	configDir string
	debugMode bool
	quietMode bool

	cfg            *config.Config
	engine         *storage.Engine
	loggingCleanup func()
)

// NewRootCmd creates the root command for barqctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "barqctl",
		Short:         "Administrative CLI for the barq vector database engine",
		Long: `barqctl drives the barq core engine in-process: create and drop
collections, insert and search documents, compact storage, inspect
tenant usage, and resolve cluster shard routing.

It is a thin administrative surface, not a server — there is no
network listener. Point it at a directory containing barq.yaml with
--config-dir; the engine's data directory comes from that config.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			teardown()
			return nil
		},
	}
	cmd.SetVersionTemplate("barqctl version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory to load barq.yaml from")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.barq/logs/")
	cmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "log only to file, never stderr, for scripted/headless use (always at debug level)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newCollectionCmd())
	cmd.AddCommand(newInsertCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newTenantCmd())
	cmd.AddCommand(newClusterCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

// commandsNeedingEngine lists the Use names of subcommands that open
// the storage engine; "version" and "cluster route" only need config.
var commandsNeedingEngine = map[string]bool{
	"collection": true,
	"insert":     true,
	"search":     true,
	"compact":    true,
	"tenant":     true,
}

func setup(cmd *cobra.Command, args []string) error {
	switch {
	case debugMode && quietMode:
		// --debug --quiet: full diagnostics, but file-only — a scripted
		// caller's stdout/stderr must stay clean even while debugging.
		cleanup, err := logging.SetupQuietModeWithLevel("debug")
		if err != nil {
			return fmt.Errorf("failed to setup quiet debug logging: %w", err)
		}
		loggingCleanup = cleanup
	case quietMode:
		// --quiet alone: headless/daemon operation, always at debug level
		// so a postmortem has full diagnostics, per logging.SetupQuietMode.
		cleanup, err := logging.SetupQuietMode()
		if err != nil {
			return fmt.Errorf("failed to setup quiet logging: %w", err)
		}
		loggingCleanup = cleanup
	case debugMode:
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	}

	loaded, err := config.Load(configDir)
	if err != nil {
		return err
	}
	cfg = loaded

	if needsEngine(cmd) {
		eng, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		engine = eng
	}

	return nil
}

// needsEngine walks up from cmd to find whether any ancestor (down to
// the root's immediate child) is one of the engine-backed commands.
func needsEngine(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if commandsNeedingEngine[c.Name()] {
			return true
		}
	}
	return false
}

func teardown() {
	if engine != nil {
		if err := engine.Close(); err != nil {
			slog.Error("failed to close engine", slog.String("error", err.Error()))
		}
		engine = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command and returns the process exit code,
// mapping any EngineError category to the exit codes from §6: 0
// success, 1 usage error, 2 config error (quota), 3 IO/storage error,
// 4 cluster/remote error.
func Execute() int {
	err := NewRootCmd().Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	if ee, ok := err.(*engineerrors.EngineError); ok {
		return engineerrors.ExitCode(ee.Category)
	}
	return 1
}
