package cmd

import (
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/logger"
	"github.com/opas-200/opas-build/internal/version"
)

var (
	// settingsPath to the build settings YAML file (empty uses defaults + env).
	settingsPath string

	// logLevel for toolchain output.
	logLevel string

	// rootCmd represents the base command of the packaging toolchain.
	rootCmd = &cobra.Command{
		Use:   "opas-build",
		Short: "Package the OPAS-200 application for the Raspberry Pi 5 target",
		Long: "opas-build stages the native runtime (shared libraries, GStreamer plugins, typelibs), " +
			"drives the packaging tool from the bundle manifest and places a single distributable " +
			"executable at the canonical dist path.",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if lvl, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(lvl)
			}
		},
	}
)

// loadSettings reads the layered build settings for a subcommand run.
func loadSettings() (*config.Settings, error) {
	return config.Load(settingsPath)
}

// Execute runs the opas-build CLI and exits with non-zero status on error.
// Subprocess exit codes propagate unchanged; everything else maps to 1.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			os.Exit(exitErr.ExitCode())
		}

		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "path to build settings file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}
