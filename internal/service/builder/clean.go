package builder

import (
	"context"
	"fmt"
	"os"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/logger"
)

// Clean removes the staged bundle, the packaging scratch directory and the
// dist output, returning the tree to its pre-build state.
func Clean(ctx context.Context, cfg *config.Settings) error {
	ctx = logger.WithName(ctx, "builder")

	if cfg == nil {
		return errSettingsNotSet
	}

	for _, dir := range []string{cfg.BundlePath(), cfg.WorkPath(), cfg.DistPath()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}

		logger.InfoKV(ctx, "Removed", "dir", dir)
	}

	return nil
}
