package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DataSpec embeds a file or directory from the project tree into the bundle.
type DataSpec struct {
	// Source is the path to embed, relative to the project root.
	Source string `yaml:"source"`
	// Dest is the directory inside the bundle the source lands in.
	Dest string `yaml:"dest"`
}

// Output holds the metadata of the produced executable.
type Output struct {
	// Console keeps the controlling terminal attached when true.
	Console bool `yaml:"console"`
	// Strip removes symbol tables from bundled binaries.
	Strip bool `yaml:"strip"`
	// UPX compresses the produced executable.
	UPX bool `yaml:"upx"`
}

// Manifest is the declarative input consumed by the packaging step: what to
// embed, which imports to force, which framework sub-modules to drop, and how
// the output executable should look.
type Manifest struct {
	// AppName is the output executable name.
	AppName string `yaml:"app_name"`
	// Entry is the application entry point, relative to the project root.
	Entry string `yaml:"entry"`
	// Datas are files and directories embedded into the executable.
	Datas []DataSpec `yaml:"datas"`
	// HiddenImports are module dependencies the tool's static analysis misses.
	HiddenImports []string `yaml:"hidden_imports"`
	// Excludes is the denylist of unused framework sub-modules; dropping them
	// trades completeness for binary size.
	Excludes []string `yaml:"excludes"`
	// Output describes the produced executable.
	Output Output `yaml:"output"`
}

const (
	// DefaultFilePermissions is used when persisting the manifest.
	DefaultFilePermissions = 0o600
)

var (
	// errManifestIsNotSet is returned when a nil manifest is provided.
	errManifestIsNotSet = errors.New("manifest is not set")
	// errAppNameRequired is returned when the output executable name is missing.
	errAppNameRequired = errors.New("app name must be provided")
	// errEntryRequired is returned when the entry point is missing.
	errEntryRequired = errors.New("entry point must be provided")
	// errAbsoluteDest is returned when a data destination escapes the bundle.
	errAbsoluteDest = errors.New("data destination must be relative")
	// errHiddenAndExcluded is returned when a module is both forced and denied.
	errHiddenAndExcluded = errors.New("module is both hidden-imported and excluded")
)

// Default returns the OPAS-200 bundle manifest used when none exists on disk.
func Default() *Manifest {
	return &Manifest{
		AppName: "OPAS-200",
		Entry:   "main.py",
		Datas: []DataSpec{
			{Source: "config.ini", Dest: "defaults"},
			{Source: "build_bundle", Dest: "build_bundle"},
		},
		HiddenImports: []string{
			"PySide6.QtCore",
			"PySide6.QtGui",
			"PySide6.QtWidgets",
			"PySide6.QtNetwork",
		},
		Excludes: []string{
			"PySide6.QtWebEngineCore",
			"PySide6.QtWebEngineWidgets",
			"PySide6.QtQml",
			"PySide6.QtQuick",
			"PySide6.Qt3DCore",
			"PySide6.Qt3DRender",
			"PySide6.QtCharts",
			"PySide6.QtMultimedia",
			"PySide6.QtPdf",
			"PySide6.QtSql",
			"PySide6.QtTest",
		},
		Output: Output{
			Console: false,
			Strip:   true,
			UPX:     false,
		},
	}
}

// Load reads a manifest from the provided path and validates it.
func Load(path string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(contents, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

// Save writes the manifest to the provided path.
func Save(path string, m *Manifest) error {
	if m == nil {
		return errManifestIsNotSet
	}

	if err := Validate(m); err != nil {
		return err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Validate checks the manifest for required fields and internal consistency.
func Validate(m *Manifest) error {
	if m == nil {
		return errManifestIsNotSet
	}

	if strings.TrimSpace(m.AppName) == "" {
		return errAppNameRequired
	}

	if strings.TrimSpace(m.Entry) == "" {
		return errEntryRequired
	}

	for _, d := range m.Datas {
		if filepath.IsAbs(d.Dest) {
			return fmt.Errorf("%s: %w", d.Dest, errAbsoluteDest)
		}
	}

	excluded := make(map[string]struct{}, len(m.Excludes))
	for _, name := range m.Excludes {
		excluded[name] = struct{}{}
	}

	for _, name := range m.HiddenImports {
		if _, found := excluded[name]; found {
			return fmt.Errorf("%s: %w", name, errHiddenAndExcluded)
		}
	}

	return nil
}
