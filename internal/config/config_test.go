package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and default filling.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing bundler command.
	s := &Settings{
		SystemLibDirs: []string{"/usr/lib"},
	}

	err := Validate(s)
	require.Error(t, err)

	// Missing library search path.
	s = &Settings{
		BundlerCommand: "pyinstaller",
	}

	err = Validate(s)
	require.Error(t, err)

	// Okay; derived defaults are filled.
	s = &Settings{
		BundlerCommand: "pyinstaller",
		SystemLibDirs:  []string{"/usr/lib"},
		ProjectRoot:    ".",
	}

	err = Validate(s)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(s.ProjectRoot))
	require.Equal(t, DefaultManifestFilename, s.ManifestPath)
	require.Positive(t, s.Parallelism)
}

// TestLoad_Defaults ensures defaults apply when no settings file exists.
func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "pyinstaller", s.BundlerCommand)
	require.Equal(t, "dist", s.DistDir)
	require.NotEmpty(t, s.SystemLibDirs)
	require.NotEmpty(t, s.BaseLibs)
}

// TestLoad_FileAndPaths ensures an explicit settings file wins over defaults
// and relative paths resolve against the project root.
func TestLoad_FileAndPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	contents := "project_root: " + dir + "\ndist_dir: out\nbundler_command: bundler\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bundler", s.BundlerCommand)
	require.Equal(t, filepath.Join(dir, "out"), s.DistPath())
	require.Equal(t, filepath.Join(dir, DefaultManifestFilename), s.ManifestFile())
}

// TestLoad_EnvOverride ensures OPAS_BUILD_* variables take precedence over defaults.
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OPAS_BUILD_BUNDLER_COMMAND", "custom-bundler")

	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "custom-bundler", s.BundlerCommand)
}
