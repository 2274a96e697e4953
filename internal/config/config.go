package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Settings holds everything the toolchain needs to know about the build host
// and the target device. Values are layered: built-in defaults, then an
// optional settings file, then OPAS_BUILD_* environment variables.
type Settings struct {
	// ProjectRoot is the OPAS-200 source tree being packaged.
	ProjectRoot string `mapstructure:"project_root"`
	// ManifestPath is the bundle manifest location, relative to ProjectRoot unless absolute.
	ManifestPath string `mapstructure:"manifest"`
	// DistDir receives the canonical output executable.
	DistDir string `mapstructure:"dist_dir"`
	// WorkDir is the packaging tool's scratch directory.
	WorkDir string `mapstructure:"work_dir"`
	// BundleDir is the staged runtime bundle (shared libraries, plugins, typelibs).
	BundleDir string `mapstructure:"bundle_dir"`
	// BundlerCommand is the external packaging tool invoked as a subprocess.
	BundlerCommand string `mapstructure:"bundler_command"`
	// SystemLibDirs are searched, in order, when resolving shared library names.
	SystemLibDirs []string `mapstructure:"system_lib_dirs"`
	// PluginDir is the system GStreamer plugin directory.
	PluginDir string `mapstructure:"plugin_dir"`
	// TypelibDir is the system GObject-introspection typelib directory.
	TypelibDir string `mapstructure:"typelib_dir"`
	// ScannerCandidates are probed, in order, for the gst-plugin-scanner binary.
	ScannerCandidates []string `mapstructure:"scanner_candidates"`
	// BaseLibs are never bundled; the target OS is expected to provide them.
	BaseLibs []string `mapstructure:"base_libs"`
	// Parallelism bounds concurrent dependency scans.
	Parallelism int `mapstructure:"parallelism"`
	// InstallDir is where the installer places the executable on the device.
	InstallDir string `mapstructure:"install_dir"`
	// DataRootName is the device-side data directory created next to the executable.
	DataRootName string `mapstructure:"data_root_name"`
	// LogLevel is the minimum level for toolchain logs.
	LogLevel string `mapstructure:"log_level"`
}

const (
	// DefaultSettingsFilename is looked up in the project root when no
	// explicit settings path is given.
	DefaultSettingsFilename = "opas-build.yaml"

	// DefaultManifestFilename is the default bundle manifest name.
	DefaultManifestFilename = "opas-bundle.yaml"

	// envPrefix namespaces environment overrides (OPAS_BUILD_DIST_DIR, ...).
	envPrefix = "OPAS_BUILD"

	// defaultParallelism bounds concurrent ldd scans when unset.
	defaultParallelism = 4
)

var (
	// errBundlerCommandRequired is returned when the packaging tool command is empty.
	errBundlerCommandRequired = errors.New("bundler command must be provided")
	// errNoSystemLibDirs is returned when the library search path is empty.
	errNoSystemLibDirs = errors.New("at least one system library directory must be provided")
)

// Load reads settings from the provided path (or the default location when
// empty), applies environment overrides and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultSettingsFilename, filepath.Ext(DefaultSettingsFilename)))
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("project_root"))

		// A missing default settings file is fine: defaults + env are enough.
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			if _, statErr := os.Stat(filepath.Join(v.GetString("project_root"), DefaultSettingsFilename)); statErr == nil {
				return nil, fmt.Errorf("read settings: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&s); err != nil {
		return nil, err
	}

	return &s, nil
}

// setDefaults seeds viper with the Raspberry Pi 5 target defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("project_root", ".")
	v.SetDefault("manifest", DefaultManifestFilename)
	v.SetDefault("dist_dir", "dist")
	v.SetDefault("work_dir", "build")
	v.SetDefault("bundle_dir", "build_bundle")
	v.SetDefault("bundler_command", "pyinstaller")
	v.SetDefault("system_lib_dirs", []string{
		"/usr/lib/aarch64-linux-gnu",
		"/lib/aarch64-linux-gnu",
		"/usr/lib",
		"/lib",
	})
	v.SetDefault("plugin_dir", "/usr/lib/aarch64-linux-gnu/gstreamer-1.0")
	v.SetDefault("typelib_dir", "/usr/lib/aarch64-linux-gnu/girepository-1.0")
	v.SetDefault("scanner_candidates", []string{
		"/usr/lib/aarch64-linux-gnu/gstreamer1.0/gstreamer-1.0/gst-plugin-scanner",
		"/usr/lib/aarch64-linux-gnu/gstreamer-1.0/gst-plugin-scanner",
		"/usr/libexec/gstreamer-1.0/gst-plugin-scanner",
	})
	// glibc and friends stay on the device to avoid version skew.
	v.SetDefault("base_libs", []string{
		"libc.so.6", "libm.so.6", "libpthread.so.0", "libdl.so.2", "librt.so.1",
		"libresolv.so.2", "libutil.so.1", "ld-linux-aarch64.so.1",
		"libstdc++.so.6", "libgcc_s.so.1",
	})
	v.SetDefault("parallelism", defaultParallelism)
	v.SetDefault("install_dir", "/home/admin/Desktop")
	v.SetDefault("data_root_name", "OPAS-200_data")
	v.SetDefault("log_level", "info")
}

// Validate checks required fields and fills derived defaults.
func Validate(s *Settings) error {
	if strings.TrimSpace(s.BundlerCommand) == "" {
		return errBundlerCommandRequired
	}

	if len(s.SystemLibDirs) == 0 {
		return errNoSystemLibDirs
	}

	if s.Parallelism < 1 {
		s.Parallelism = defaultParallelism
	}

	root, err := filepath.Abs(s.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	s.ProjectRoot = root

	if s.ManifestPath == "" {
		s.ManifestPath = DefaultManifestFilename
	}

	return nil
}

// ResolvePath returns p anchored at the project root unless already absolute.
func (s *Settings) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(s.ProjectRoot, p)
}

// ManifestFile returns the absolute bundle manifest path.
func (s *Settings) ManifestFile() string {
	return s.ResolvePath(s.ManifestPath)
}

// DistPath returns the absolute canonical output directory.
func (s *Settings) DistPath() string {
	return s.ResolvePath(s.DistDir)
}

// WorkPath returns the absolute packaging scratch directory.
func (s *Settings) WorkPath() string {
	return s.ResolvePath(s.WorkDir)
}

// BundlePath returns the absolute staged bundle directory.
func (s *Settings) BundlePath() string {
	return s.ResolvePath(s.BundleDir)
}
