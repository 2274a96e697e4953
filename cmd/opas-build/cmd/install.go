package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opas-200/opas-build/internal/service/installer"
)

// installCmd deploys the released executable onto the device.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Deploy the released executable onto the device",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		settings, err := loadSettings()
		if err != nil {
			return err
		}

		return installer.Run(ctx, &installer.Options{Settings: settings})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(installCmd)
}
