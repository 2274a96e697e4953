package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate covers required fields and consistency rules.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Missing name.
	m := &Manifest{Entry: "main.py"}
	require.Error(t, Validate(m))

	// Missing entry.
	m = &Manifest{AppName: "OPAS-200"}
	require.Error(t, Validate(m))

	// Absolute data destination.
	m = &Manifest{
		AppName: "OPAS-200",
		Entry:   "main.py",
		Datas:   []DataSpec{{Source: "config.ini", Dest: "/etc"}},
	}
	require.Error(t, Validate(m))

	// A module cannot be both forced and denied.
	m = &Manifest{
		AppName:       "OPAS-200",
		Entry:         "main.py",
		HiddenImports: []string{"PySide6.QtSql"},
		Excludes:      []string{"PySide6.QtSql"},
	}
	require.Error(t, Validate(m))

	require.NoError(t, Validate(Default()))
}

// TestSaveLoadRoundtrip ensures the manifest is persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bundle.yaml")
	want := Default()

	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want.AppName, got.AppName)
	require.Equal(t, want.Entry, got.Entry)
	require.Equal(t, want.Datas, got.Datas)
	require.Equal(t, want.HiddenImports, got.HiddenImports)
	require.Equal(t, want.Excludes, got.Excludes)
	require.Equal(t, want.Output, got.Output)
}

// TestDefault_ExcludesStayExcluded guards the size/completeness trade-off:
// nothing on the denylist may sneak into the hidden-import hints.
func TestDefault_ExcludesStayExcluded(t *testing.T) {
	t.Parallel()

	m := Default()
	for _, hidden := range m.HiddenImports {
		require.NotContains(t, m.Excludes, hidden)
	}
}
