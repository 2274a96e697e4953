package verifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/manifest"
)

func testSettings(t *testing.T) (*config.Settings, *manifest.Manifest) {
	t.Helper()

	s := &config.Settings{
		ProjectRoot:    t.TempDir(),
		DistDir:        "dist",
		WorkDir:        "build",
		BundleDir:      "build_bundle",
		BundlerCommand: "true",
		SystemLibDirs:  []string{"/usr/lib"},
		Parallelism:    1,
	}
	require.NoError(t, config.Validate(s))

	return s, manifest.Default()
}

func writeArtifact(t *testing.T, s *config.Settings, name string, mode os.FileMode) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(s.DistPath(), 0o755))

	path := filepath.Join(s.DistPath(), name)
	require.NoError(t, os.WriteFile(path, []byte("bin"), mode))

	return path
}

// TestRun_CleanTree passes when the artifact exists and no excluded module is embedded.
func TestRun_CleanTree(t *testing.T) {
	t.Parallel()

	s, m := testSettings(t)
	writeArtifact(t, s, m.AppName, 0o755)

	libDir := filepath.Join(s.BundlePath(), "lib")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "libglib-2.0.so.0"), []byte("so"), 0o644))

	require.NoError(t, Run(context.Background(), &Options{Settings: s, Manifest: m}))
}

// TestRun_ArtifactProblems covers the missing and non-executable artifact cases.
func TestRun_ArtifactProblems(t *testing.T) {
	t.Parallel()

	s, m := testSettings(t)

	err := Run(context.Background(), &Options{Settings: s, Manifest: m})
	require.ErrorIs(t, err, errArtifactNotFound)

	writeArtifact(t, s, m.AppName, 0o644)
	err = Run(context.Background(), &Options{Settings: s, Manifest: m})
	require.ErrorIs(t, err, errArtifactNotExec)
}

// TestRun_ExcludedEmbedded flags a denied module found in the packaged tree,
// both in nested and flat form.
func TestRun_ExcludedEmbedded(t *testing.T) {
	t.Parallel()

	s, m := testSettings(t)
	writeArtifact(t, s, m.AppName, 0o755)

	nested := filepath.Join(s.WorkPath(), "PySide6", "QtWebEngineCore")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "core.so"), []byte("so"), 0o644))

	flat := filepath.Join(s.BundlePath(), "lib")
	require.NoError(t, os.MkdirAll(flat, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(flat, "QtQuick.so"), []byte("so"), 0o644))

	err := Run(context.Background(), &Options{Settings: s, Manifest: m})
	require.ErrorIs(t, err, errExcludedEmbedded)
	require.Contains(t, err.Error(), "PySide6.QtWebEngineCore")
	require.Contains(t, err.Error(), "PySide6.QtQuick")
}

// TestRun_ExcludedInImportListing flags a denied module named in the tool's
// collected-imports listing even when no tree entry carries its name.
func TestRun_ExcludedInImportListing(t *testing.T) {
	t.Parallel()

	s, m := testSettings(t)
	writeArtifact(t, s, m.AppName, 0o755)

	tocDir := filepath.Join(s.WorkPath(), m.AppName)
	require.NoError(t, os.MkdirAll(tocDir, 0o755))

	toc := "('PySide6.QtWebEngineCore', '/usr/lib/python3/dist-packages/PySide6/QtWebEngineCore.abi3.so', 'EXTENSION'),\n" +
		"('PySide6.QtWidgets', '/usr/lib/python3/dist-packages/PySide6/QtWidgets.abi3.so', 'EXTENSION'),\n"
	require.NoError(t, os.WriteFile(filepath.Join(tocDir, "PYZ-00.toc"), []byte(toc), 0o644))

	err := Run(context.Background(), &Options{Settings: s, Manifest: m})
	require.ErrorIs(t, err, errExcludedEmbedded)
	require.Contains(t, err.Error(), "PySide6.QtWebEngineCore")
	require.NotContains(t, err.Error(), "PySide6.QtWidgets")
}

// TestRun_AnalysisListingIgnored does not treat the tool's restated exclude
// arguments as embedded modules.
func TestRun_AnalysisListingIgnored(t *testing.T) {
	t.Parallel()

	s, m := testSettings(t)
	writeArtifact(t, s, m.AppName, 0o755)

	tocDir := filepath.Join(s.WorkPath(), m.AppName)
	require.NoError(t, os.MkdirAll(tocDir, 0o755))

	toc := "excludes = ['PySide6.QtWebEngineCore', 'PySide6.QtQml'],\n"
	require.NoError(t, os.WriteFile(filepath.Join(tocDir, "Analysis-00.toc"), []byte(toc), 0o644))

	require.NoError(t, Run(context.Background(), &Options{Settings: s, Manifest: m}))
}

// TestContainsModuleToken checks the token-boundary rules in isolation.
func TestContainsModuleToken(t *testing.T) {
	t.Parallel()

	require.True(t, containsModuleToken("('PySide6.QtSql', 'x'),", "PySide6.QtSql"))
	require.True(t, containsModuleToken("PySide6.QtSql.models imported", "PySide6.QtSql"))
	require.False(t, containsModuleToken("MyPySide6.QtSql", "PySide6.QtSql"))
	require.False(t, containsModuleToken("PySide6.QtSqlWidgets", "PySide6.QtSql"))
	require.False(t, containsModuleToken("", "PySide6.QtSql"))
}

// TestPathEmbedsModule checks the matching rules in isolation.
func TestPathEmbedsModule(t *testing.T) {
	t.Parallel()

	require.True(t, pathEmbedsModule(filepath.Join("PySide6", "QtSql", "plugin.so"), "plugin.so", "PySide6.QtSql"))
	require.True(t, pathEmbedsModule("QtSql.pyd", "QtSql.pyd", "PySide6.QtSql"))
	require.False(t, pathEmbedsModule(filepath.Join("lib", "libgstsql-helper.so"), "libgstsql-helper.so", "PySide6.QtSql"))
}
