package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opas-200/opas-build/internal/service/builder"
)

var (
	// skipCollect reuses an existing staged bundle.
	skipCollect bool

	// watchSources keeps rebuilding on source changes.
	watchSources bool

	// buildCmd runs the full packaging pipeline.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Run the full pipeline: collect, pack, relocate",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			settings, err := loadSettings()
			if err != nil {
				return err
			}

			return builder.Run(ctx, &builder.Options{
				Settings:    settings,
				SkipCollect: skipCollect,
				Watch:       watchSources,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	buildCmd.Flags().BoolVar(&skipCollect, "skip-collect", false, "reuse the existing staged bundle")
	buildCmd.Flags().BoolVarP(&watchSources, "watch", "w", false, "rebuild whenever the source tree changes")
	rootCmd.AddCommand(buildCmd)
}
