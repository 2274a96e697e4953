package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/google/uuid"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/domain/bundle"
	"github.com/opas-200/opas-build/internal/logger"
	"github.com/opas-200/opas-build/internal/manifest"
	"github.com/opas-200/opas-build/internal/service/collector"
	"github.com/opas-200/opas-build/internal/service/common"
	"github.com/opas-200/opas-build/internal/service/packer"
)

// Options are inputs accepted by the build orchestrator entry point.
type Options struct {
	// Settings describe the project tree and the tools involved.
	Settings *config.Settings
	// SkipCollect reuses an existing staged bundle instead of rebuilding it.
	SkipCollect bool
	// Watch keeps rebuilding whenever the source tree changes.
	Watch bool
}

var (
	// ErrArtifactMissing is the designated diagnostic for a packaging run that
	// finished without leaving the expected output behind.
	ErrArtifactMissing = errors.New("packaging finished but the expected artifact is missing")

	errSettingsNotSet = errors.New("settings are not set")
	errEntryMissing   = errors.New("entry point not found")
	errDataMissing    = errors.New("embedded data source not found")
)

// builder holds the state for one or more pipeline executions.
// It is intentionally unexported—call Run(ctx, Options) from callers.
type builder struct {
	cfg         *config.Settings
	skipCollect bool
}

// Run executes the build pipeline and is the public entry point for the CLI.
// In watch mode it reruns the pipeline on source changes until the context is
// cancelled; otherwise it runs exactly once, fail-fast.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "builder")

	if opts == nil || opts.Settings == nil {
		return errSettingsNotSet
	}

	b := &builder{
		cfg:         opts.Settings,
		skipCollect: opts.SkipCollect,
	}

	if opts.Watch {
		return b.watch(ctx)
	}

	return b.runOnce(ctx)
}

// runOnce drives one strictly ordered pipeline pass: preflight, stale-output
// cleanup, collection, packaging, artifact relocation, summary.
func (b *builder) runOnce(ctx context.Context) error {
	started := time.Now()
	buildID := uuid.NewString()
	ctx = logger.WithKV(ctx, "build_id", buildID)

	m, err := manifest.Load(b.cfg.ManifestFile())
	if err != nil {
		return err
	}

	if err = b.preflight(m); err != nil {
		return err
	}

	canonical := filepath.Join(b.cfg.DistPath(), m.AppName)

	// Stale output from a previous run must never survive into this one.
	if err = removeIfPresent(canonical); err != nil {
		return err
	}

	if b.skipCollect {
		logger.Info(ctx, "Skipping dependency collection, reusing staged bundle")
	} else {
		if _, err = collector.Run(ctx, &collector.Options{Settings: b.cfg}); err != nil {
			return err
		}
	}

	if err = b.checkDataSources(m); err != nil {
		return err
	}

	if err = packer.Run(ctx, &packer.Options{Settings: b.cfg, Manifest: m}); err != nil {
		return err
	}

	produced := filepath.Join(packer.ToolDistPath(b.cfg), m.AppName)
	if _, err = os.Stat(produced); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.ErrorKV(ctx, "Expected output artifact is missing", "path", produced)
			return fmt.Errorf("%s: %w", produced, ErrArtifactMissing)
		}

		return fmt.Errorf("stat produced artifact: %w", err)
	}

	artifact, err := b.relocate(ctx, produced, canonical)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Build finished",
		"artifact", artifact.Path,
		"size_mb", fmt.Sprintf("%.2f", float64(artifact.Size)/1024/1024),
		"duration", time.Since(started).Round(time.Millisecond).String())

	return nil
}

// preflight validates the inputs the pipeline cannot create itself.
func (b *builder) preflight(m *manifest.Manifest) error {
	entry := b.cfg.ResolvePath(m.Entry)
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("%s: %w", entry, errEntryMissing)
	}

	return nil
}

// checkDataSources runs after collection so the staged bundle counts as present.
func (b *builder) checkDataSources(m *manifest.Manifest) error {
	for _, d := range m.Datas {
		src := b.cfg.ResolvePath(d.Source)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%s: %w", src, errDataMissing)
		}
	}

	return nil
}

// relocate moves the produced executable to the canonical output path with
// checksum verification; a corrupted copy rolls back instead of landing in dist.
func (b *builder) relocate(ctx context.Context, produced, canonical string) (*bundle.Artifact, error) {
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return nil, fmt.Errorf("create dist dir: %w", err)
	}

	checksum, err := common.GetFileChecksum(produced)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Clean(produced))
	if err != nil {
		return nil, err
	}

	if _, err = os.Stat(canonical); err != nil && errors.Is(err, os.ErrNotExist) {
		if _, err = os.Create(canonical); err != nil {
			return nil, err
		}
	}

	options := goupdate.Options{
		TargetPath: canonical,
		TargetMode: common.DefaultExecutableMode,
		Checksum:   checksum,
		Hash:       common.DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return nil, fmt.Errorf("relocate artifact: %w", err)
	}

	// Apply keeps a .old copy next to the target; one canonical binary is enough.
	_ = os.Remove(canonical + ".old")
	_ = os.Remove(produced)

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Artifact relocated", "from", produced, "to", canonical)

	return &bundle.Artifact{Path: canonical, Size: info.Size(), Checksum: checksum}, nil
}

// removeIfPresent deletes path, tolerating its absence.
func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale output: %w", err)
	}

	return nil
}
