package verifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/logger"
	"github.com/opas-200/opas-build/internal/manifest"
)

// Options contains inputs for the verifier entry point.
type Options struct {
	// Settings describe the project tree to inspect.
	Settings *config.Settings
	// Manifest overrides loading from Settings.ManifestFile when non-nil.
	Manifest *manifest.Manifest
}

var (
	errSettingsNotSet     = errors.New("settings are not set")
	errArtifactNotFound   = errors.New("canonical artifact not found")
	errArtifactNotRegular = errors.New("canonical artifact is not a regular file")
	errArtifactNotExec    = errors.New("canonical artifact is not executable")
	errExcludedEmbedded   = errors.New("excluded modules found in the packaged tree")
)

// Run checks the two post-build consistency properties: the canonical artifact
// is a real executable, and nothing from the manifest's exclude list made it
// into the packaged tree or the tool's collected-imports listings.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "verifier")

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

	if err := checkArtifact(filepath.Join(cfg.DistPath(), m.AppName)); err != nil {
		return err
	}

	violations, err := scanForExcluded(m.Excludes, cfg.WorkPath(), cfg.BundlePath())
	if err != nil {
		return err
	}

	listed, err := scanImportListings(m.Excludes, cfg.WorkPath())
	if err != nil {
		return err
	}

	violations = mergeUnique(violations, listed)

	if len(violations) > 0 {
		sort.Strings(violations)
		return fmt.Errorf("%w: %s", errExcludedEmbedded, strings.Join(violations, ", "))
	}

	logger.InfoKV(ctx, "Verification passed", "app", m.AppName, "excludes_checked", len(m.Excludes))

	return nil
}

// checkArtifact confirms the output exists, is regular and carries an
// executable bit.
func checkArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, errArtifactNotFound)
		}

		return err
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, errArtifactNotRegular)
	}

	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s: %w", path, errArtifactNotExec)
	}

	return nil
}

// scanForExcluded walks the packaged trees and reports any path that embeds a
// denied module, either as a nested directory (PySide6/QtWebEngineCore) or as
// a flat file named after the module's last component.
func scanForExcluded(excludes []string, roots ...string) ([]string, error) {
	var violations []string

	seen := make(map[string]struct{})

	for _, root := range roots {
		if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
			continue
		}

		err := filepath.WalkDir(root, func(path string, entry os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}

			for _, name := range excludes {
				if !pathEmbedsModule(rel, entry.Name(), name) {
					continue
				}

				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					violations = append(violations, name)
				}
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}

	return violations, nil
}

// scanImportListings reads the collected-imports listings the packaging tool
// leaves in the work tree (.toc files) and reports every denied module named
// in them. The warn listing is deliberately not read: it names modules the
// tool did NOT collect, so a hit there means the exclusion worked.
func scanImportListings(excludes []string, workPath string) ([]string, error) {
	var violations []string

	seen := make(map[string]struct{})

	if _, err := os.Stat(workPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	err := filepath.WalkDir(workPath, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		// Analysis tocs restate the exclude arguments themselves; only the
		// collected listings (PYZ/PKG/EXE) prove a module was embedded.
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toc" ||
			strings.HasPrefix(entry.Name(), "Analysis") {
			return nil
		}

		content, readErr := os.ReadFile(filepath.Clean(path))
		if readErr != nil {
			return readErr
		}

		for _, name := range excludes {
			if !containsModuleToken(string(content), name) {
				continue
			}

			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				violations = append(violations, name)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan listings %s: %w", workPath, err)
	}

	return violations, nil
}

// containsModuleToken reports whether the dotted module name appears in the
// listing as a whole token. A trailing dot still counts: a collected submodule
// implies its parent was collected too.
func containsModuleToken(content, module string) bool {
	for start := 0; ; {
		idx := strings.Index(content[start:], module)
		if idx < 0 {
			return false
		}

		idx += start

		before := idx == 0 || !isModuleChar(content[idx-1])
		afterIdx := idx + len(module)
		after := afterIdx == len(content) || !isIdentChar(content[afterIdx])

		if before && after {
			return true
		}

		start = idx + 1
	}
}

// isModuleChar covers characters legal inside a dotted module path.
func isModuleChar(c byte) bool {
	return isIdentChar(c) || c == '.'
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// mergeUnique appends extra entries not already present in base.
func mergeUnique(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, name := range base {
		seen[name] = struct{}{}
	}

	for _, name := range extra {
		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}
		base = append(base, name)
	}

	return base
}

// pathEmbedsModule matches a denied dotted module name against a tree entry.
func pathEmbedsModule(relPath, baseName, module string) bool {
	asPath := strings.ReplaceAll(module, ".", string(filepath.Separator))
	if strings.Contains(relPath, asPath) {
		return true
	}

	parts := strings.Split(module, ".")
	last := parts[len(parts)-1]
	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	return stem == last
}
