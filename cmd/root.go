package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/logging"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	configPath string
	verbose    bool
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "testwatch",
	Short:         "Rerun tests on file changes with an interactive watch mode",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}

		var project *config.Config
		if configPath != "" {
			project, err = config.LoadFile(configPath)
		} else {
			var cwd string
			if cwd, err = os.Getwd(); err == nil {
				project, err = config.LoadProject(cwd)
			}
		}
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}

		cfg = config.Merge(global, project)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logCloser, err = logging.Setup(cfg, verbose)
		if err != nil {
			// Logging is best effort; the session works without it.
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
			logCloser = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .testwatch.{json,yaml,toml} in the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}
