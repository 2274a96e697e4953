package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opas-200/opas-build/internal/service/collector"
)

// collectCmd stages the native runtime bundle without packaging.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Stage shared libraries, plugins and typelibs into the bundle",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		settings, err := loadSettings()
		if err != nil {
			return err
		}

		_, err = collector.Run(ctx, &collector.Options{Settings: settings})

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(collectCmd)
}
