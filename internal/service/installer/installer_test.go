package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/manifest"
	"github.com/opas-200/opas-build/internal/service/release"
)

// testRelease prepares a dist directory with an artifact and a matching
// release description, plus an install target directory.
func testRelease(t *testing.T) (*config.Settings, *manifest.Manifest) {
	t.Helper()

	root := t.TempDir()
	s := &config.Settings{
		ProjectRoot:    root,
		DistDir:        "dist",
		InstallDir:     filepath.Join(root, "device"),
		DataRootName:   "OPAS-200_data",
		BundlerCommand: "true",
		SystemLibDirs:  []string{"/usr/lib"},
		Parallelism:    1,
	}
	require.NoError(t, config.Validate(s))

	m := manifest.Default()

	require.NoError(t, os.MkdirAll(s.DistPath(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.DistPath(), m.AppName), []byte("payload-v1"), 0o755))
	require.NoError(t, release.Run(context.Background(), &release.Options{Settings: s, Manifest: m}))

	return s, m
}

// TestRun_InstallsArtifact places the executable and data directories on the device.
func TestRun_InstallsArtifact(t *testing.T) {
	t.Parallel()

	s, m := testRelease(t)

	require.NoError(t, Run(context.Background(), &Options{Settings: s, Manifest: m}))

	installed := filepath.Join(s.InstallDir, m.AppName)
	contents, err := os.ReadFile(installed)
	require.NoError(t, err)
	require.Equal(t, "payload-v1", string(contents))

	info, err := os.Stat(installed)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o111)

	for _, dir := range []string{"data", "logs"} {
		_, err = os.Stat(filepath.Join(s.InstallDir, s.DataRootName, dir))
		require.NoError(t, err)
	}

	// The concurrency marker is gone after the run.
	_, err = os.Stat(filepath.Join(s.DistPath(), MarkerFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_ChecksumMismatch rolls back when the artifact was tampered with
// after the release description was produced.
func TestRun_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	s, m := testRelease(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.DistPath(), m.AppName), []byte("tampered"), 0o755))

	err := Run(context.Background(), &Options{Settings: s, Manifest: m})
	require.Error(t, err)

	// Nothing usable landed on the device.
	contents, readErr := os.ReadFile(filepath.Join(s.InstallDir, m.AppName))
	if readErr == nil {
		require.NotEqual(t, "tampered", string(contents))
	}
}

// TestRun_ConcurrentGuard refuses to start while a fresh marker exists and
// recovers from a stale one.
func TestRun_ConcurrentGuard(t *testing.T) {
	t.Parallel()

	s, m := testRelease(t)
	marker := filepath.Join(s.DistPath(), MarkerFilename)
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	err := Run(context.Background(), &Options{Settings: s, Manifest: m})
	require.ErrorIs(t, err, errInstallerRunning)

	// Age the marker beyond its lifetime: the install proceeds.
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(marker, old, old))
	require.NoError(t, Run(context.Background(), &Options{Settings: s, Manifest: m}))
}

// TestRun_MissingRelease requires a release description before installing.
func TestRun_MissingRelease(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s := &config.Settings{
		ProjectRoot:    root,
		DistDir:        "dist",
		InstallDir:     filepath.Join(root, "device"),
		DataRootName:   "OPAS-200_data",
		BundlerCommand: "true",
		SystemLibDirs:  []string{"/usr/lib"},
		Parallelism:    1,
	}
	require.NoError(t, config.Validate(s))
	require.NoError(t, os.MkdirAll(s.DistPath(), 0o755))

	err := Run(context.Background(), &Options{Settings: s, Manifest: manifest.Default()})
	require.Error(t, err)
	require.NotErrorIs(t, err, errInstallerRunning)

	// The failed attempt released its marker, so a retry is not locked out
	// for the staleness window.
	_, err = os.Stat(filepath.Join(s.DistPath(), MarkerFilename))
	require.ErrorIs(t, err, os.ErrNotExist)

	err = Run(context.Background(), &Options{Settings: s, Manifest: manifest.Default()})
	require.Error(t, err)
	require.NotErrorIs(t, err, errInstallerRunning)
}
