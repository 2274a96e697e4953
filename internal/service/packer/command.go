package packer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/logger"
	"github.com/opas-200/opas-build/internal/manifest"
)

// Options contains inputs for the packer entry point.
type Options struct {
	// Settings describe paths and the packaging tool to invoke.
	Settings *config.Settings
	// Manifest overrides loading from Settings.ManifestFile when non-nil.
	Manifest *manifest.Manifest
}

var errSettingsNotSet = errors.New("settings are not set")

// Run generates the runtime hooks and invokes the packaging tool with flags
// derived from the bundle manifest, including the hook registration. The
// tool's exit status propagates unchanged through the returned error
// (fail-fast contract).
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "packer")

	if opts == nil || opts.Settings == nil {
		return errSettingsNotSet
	}

	cfg := opts.Settings

	m := opts.Manifest
	if m == nil {
		var err error

		m, err = manifest.Load(cfg.ManifestFile())
		if err != nil {
			return err
		}
	}

	if err := manifest.Validate(m); err != nil {
		return err
	}

	if err := WriteRuntimeEnv(cfg.BundlePath()); err != nil {
		return fmt.Errorf("write runtime env script: %w", err)
	}

	if err := os.MkdirAll(cfg.WorkPath(), 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	// The hook must exist before the tool is invoked: BuildArgs points the
	// tool at it and the tool embeds it into the executable.
	if _, err := WriteRuntimeHook(cfg.WorkPath(), filepath.Base(cfg.BundlePath())); err != nil {
		return fmt.Errorf("write runtime hook: %w", err)
	}

	args := BuildArgs(cfg, m)

	logger.InfoKV(ctx, "Invoking packaging tool",
		"command", cfg.BundlerCommand,
		"app", m.AppName,
		"excludes", len(m.Excludes))

	cmd := exec.CommandContext(ctx, cfg.BundlerCommand, args...)
	cmd.Dir = cfg.ProjectRoot

	// Stream the tool's chatter into our log at the appropriate levels.
	toolLog := logger.FromContext(ctx).Desugar()
	stdout := &zapio.Writer{Log: toolLog, Level: zap.InfoLevel}
	stderr := &zapio.Writer{Log: toolLog, Level: zap.WarnLevel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	_ = stdout.Close()
	_ = stderr.Close()

	if err != nil {
		return fmt.Errorf("packaging tool: %w", err)
	}

	logger.Info(ctx, "Packaging tool completed")

	return nil
}
