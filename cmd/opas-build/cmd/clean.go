package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opas-200/opas-build/internal/service/builder"
)

// cleanCmd removes staging and output artifacts.
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the staged bundle, the work directory and dist",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		settings, err := loadSettings()
		if err != nil {
			return err
		}

		return builder.Clean(ctx, settings)
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(cleanCmd)
}
