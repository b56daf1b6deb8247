/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fulmenhq/metakernel/pkg/buildinfo"
	"github.com/fulmenhq/metakernel/pkg/catalog"
	"github.com/fulmenhq/metakernel/pkg/exitcode"
	"github.com/fulmenhq/metakernel/pkg/logger"
	"github.com/fulmenhq/metakernel/pkg/manifest"
)

// errNoKernels marks a run that obtained no kernel files and had no manifest
// to fall back on.
var errNoKernels = errors.New("no kernels obtained and no existing manifest; no manifest was produced")

// newRootCommand creates a fresh root command instance.
// This factory pattern allows tests to create isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metakernel",
		Short: "Provision SPICE kernels and write a metakernel for a spacecraft",
		Long: `Metakernel downloads the generic and mission SPICE kernels a spacecraft needs
from the NAIF archive, keeps them current, and writes a metakernel that loads them.

Examples:
   metakernel build juno               # Provision Juno under ./SPICE
   metakernel build "Voyager 1" -d ~/  # Names are case and space insensitive
   metakernel spacecraft               # List known spacecraft
   metakernel version                  # Show version`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
	}

	// Add global flags
	cmd.PersistentFlags().String("log-level", "info", "Set log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().String("config", "", "Config file (default: ./metakernel.yaml or ~/.metakernel/metakernel.yaml)")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("metakernel {{.Version}}\n")

	return cmd
}

// registerSubcommands adds all subcommands to the root command.
// This is called from init() for production and can be called explicitly in tests.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newBuildCommand())
	cmd.AddCommand(newSpacecraftCommand())
	cmd.AddCommand(newVersionCommand())
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		code := exitCodeFor(err)
		logger.Error("Command execution failed", logger.Err(err))
		stop()
		os.Exit(code)
	}
}

func init() {
	// Register all subcommands with the production rootCmd
	registerSubcommands(rootCmd)
}

// exitCodeFor maps a command error onto the process exit status.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitcode.Success
	case catalog.IsConfigurationError(err):
		return exitcode.ConfigError
	case manifest.IsWriteError(err):
		return exitcode.FileSystemError
	case errors.Is(err, errNoKernels):
		return exitcode.NetworkError
	case errors.Is(err, context.Canceled):
		return exitcode.Canceled
	default:
		return exitcode.GeneralError
	}
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")

	config := logger.Config{
		Level:     logger.ParseLevel(logLevelStr),
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "metakernel",
	}

	if err := logger.Initialize(config); err != nil {
		// Fallback to stderr
		_, _ = os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(exitcode.ConfigError)
	}
}
