package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/logger"
	"github.com/opas-200/opas-build/internal/manifest"
	"github.com/opas-200/opas-build/internal/service/common"
	"github.com/opas-200/opas-build/internal/version"
)

// DescriptionFilename is written next to the canonical artifact and consumed
// by the installer.
const DescriptionFilename = "opas-release.yaml"

// Options contains inputs for the release entry point.
type Options struct {
	// Settings describe the project tree holding the built artifact.
	Settings *config.Settings
	// Manifest overrides loading from Settings.ManifestFile when non-nil.
	Manifest *manifest.Manifest
}

// Description contains metadata about a packaged build ready for distribution.
type Description struct {
	// ReleaseID uniquely identifies this packaging run.
	ReleaseID string `yaml:"release_id"`
	// VersionNumber is the toolchain version that produced the artifact.
	VersionNumber string `yaml:"version"`
	// AppName is the executable the description belongs to.
	AppName string `yaml:"app_name"`
	// CreatedAt is the UTC timestamp of the release.
	CreatedAt time.Time `yaml:"created_at"`
	// Files maps artifact names to their base64-encoded checksums.
	Files map[string]string `yaml:"files"`
}

var errSettingsNotSet = errors.New("settings are not set")

// NewDescription produces a Description initialized with defaults.
func NewDescription(appName string) *Description {
	return &Description{
		ReleaseID:     uuid.NewString(),
		VersionNumber: version.Short(),
		AppName:       appName,
		CreatedAt:     time.Now().UTC(),
		Files:         make(map[string]string, 4),
	}
}

// Run computes checksums for the distributable files and writes the release
// description into the dist directory.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "release")

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

	desc := NewDescription(m.AppName)

	if err := fillDescription(desc, cfg, m); err != nil {
		return err
	}

	path := filepath.Join(cfg.DistPath(), DescriptionFilename)

	logger.InfoKV(ctx, "Saving release description", "path", path, "release_id", desc.ReleaseID)

	if err := saveDescription(path, desc); err != nil {
		return err
	}

	printNextSteps(ctx, cfg, desc)

	return nil
}

// fillDescription hashes the canonical artifact and every regular-file data
// source shipped alongside it.
func fillDescription(desc *Description, cfg *config.Settings, m *manifest.Manifest) error {
	targets := []string{filepath.Join(cfg.DistPath(), m.AppName)}

	for _, d := range m.Datas {
		src := cfg.ResolvePath(d.Source)

		info, err := os.Stat(src)
		if err != nil || info.IsDir() {
			// Directories ride inside the executable; only loose files are
			// distributed next to it.
			continue
		}

		targets = append(targets, src)
	}

	for _, target := range targets {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", target, os.ErrNotExist)
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", target, err)
		}

		checksum, err := common.GetFileChecksum(target)
		if err != nil {
			return err
		}

		desc.Files[filepath.Base(target)] = common.EncodeChecksum(checksum)
	}

	return nil
}

// saveDescription writes the description as YAML.
func saveDescription(path string, desc *Description) error {
	contents, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}

	return os.WriteFile(path, contents, 0o644)
}

// LoadDescription reads a release description back from disk.
func LoadDescription(path string) (*Description, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read release description: %w", err)
	}

	var desc Description
	if err := yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal release description: %w", err)
	}

	return &desc, nil
}

// printNextSteps logs human-readable guidance for distributing the release.
func printNextSteps(ctx context.Context, cfg *config.Settings, desc *Description) {
	files := make([]string, 0, len(desc.Files)+1)
	for name := range desc.Files {
		files = append(files, name)
	}

	files = append(files, DescriptionFilename)
	sort.Strings(files)

	var builder strings.Builder

	builder.WriteString("Copy the following files from ")
	builder.WriteString(cfg.DistPath())
	builder.WriteString(" to the target device:\n")
	builder.WriteString(strings.Join(files, ",\n"))
	builder.WriteString("\nThen run: opas-build install")

	logger.Info(ctx, builder.String())
}
