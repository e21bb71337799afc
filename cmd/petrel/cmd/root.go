// Package cmd provides the CLI commands for petrel.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/logging"
	"github.com/petrel-search/petrel/internal/profiling"
	"github.com/petrel-search/petrel/pkg/version"
)

// Profiling flags.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profSession  *profiling.Session
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// serverAddr overrides the API endpoint for client commands. Empty
// resolves from configuration.
var serverAddr string

// NewRootCmd creates the root command for the petrel CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "petrel",
		Short: "Self-hosted multimodal document search",
		Long: `Petrel indexes documents as late-interaction multi-vector embeddings
and serves hybrid visual+text search over them.

Drop files into the upload directory (or POST them to the API) and they
are parsed, embedded page-by-page and chunk-by-chunk, and stored in two
vector collections. Queries run two-stage retrieval: fast ANN recall on
representative vectors, then MaxSim rerank over the full tensors.

Start with 'petrel serve', then 'petrel search "your query"'.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("petrel version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&serverAddr, "server", "", "API server address (default from config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.petrel/logs/")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startInstrumentation
	cmd.PersistentPostRunE = stopInstrumentation

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startInstrumentation starts debug logging and profiling if the flags
// are set. Runs before every command.
func startInstrumentation(_ *cobra.Command, _ []string) error {
	if debugMode {
		if err := logging.EnsureLogDir(); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		cfg := logging.DefaultConfig()
		cfg.Level = "debug"
		cfg.FilePath = logging.DefaultLogPath()
		cfg.WriteToStderr = false
		logger, cleanup, err := logging.Setup(cfg)
		if err != nil {
			return fmt.Errorf("setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		logger.Debug("debug logging enabled", "log_file", logging.DefaultLogPath())
	}

	session, err := profiling.Start(profiling.Options{
		CPUPath:   profileCPU,
		HeapPath:  profileMem,
		TracePath: profileTrace,
	})
	if err != nil {
		return fmt.Errorf("start profiling: %w", err)
	}
	profSession = session
	return nil
}

// stopInstrumentation flushes profiles and closes the debug log.
func stopInstrumentation(_ *cobra.Command, _ []string) error {
	profSession.Stop()
	profSession = nil

	if loggingCleanup != nil {
		slog.Debug("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
