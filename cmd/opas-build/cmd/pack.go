package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opas-200/opas-build/internal/service/packer"
)

// packCmd invokes the packaging tool against an already staged bundle.
var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Invoke the packaging tool using the bundle manifest",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		settings, err := loadSettings()
		if err != nil {
			return err
		}

		return packer.Run(ctx, &packer.Options{Settings: settings})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(packCmd)
}
