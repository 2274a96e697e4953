package packer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/manifest"
)

func testSettings(t *testing.T) *config.Settings {
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

	return s
}

// TestBuildArgs checks the manifest-to-argv translation, including the
// console/compression toggles and the trailing entry point.
func TestBuildArgs(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	m := manifest.Default()

	args := BuildArgs(cfg, m)
	joined := strings.Join(args, " ")

	require.Contains(t, joined, "--name OPAS-200")
	require.Contains(t, joined, "--onefile")
	require.Contains(t, joined, "--noconsole")
	require.Contains(t, joined, "--strip")
	require.Contains(t, joined, "--noupx")
	require.Contains(t, joined, "--hidden-import PySide6.QtCore")
	require.Contains(t, joined, "--exclude-module PySide6.QtWebEngineCore")
	require.Contains(t, joined, "--add-data "+filepath.Join(cfg.ProjectRoot, "config.ini")+":defaults")
	require.Contains(t, joined, "--runtime-hook "+RuntimeHookPath(cfg))
	require.Equal(t, filepath.Join(cfg.ProjectRoot, "main.py"), args[len(args)-1])

	// Console build keeps the terminal and allows compression.
	m.Output.Console = true
	m.Output.UPX = true
	joined = strings.Join(BuildArgs(cfg, m), " ")
	require.Contains(t, joined, "--console")
	require.NotContains(t, joined, "--noupx")
}

// TestRenderRuntimeEnv guards the isolation invariants of the hook: bundled
// plugins only, private registry, tracer variables scrubbed.
func TestRenderRuntimeEnv(t *testing.T) {
	t.Parallel()

	script := RenderRuntimeEnv()

	require.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	require.Contains(t, script, `export GST_PLUGIN_SYSTEM_PATH=""`)
	require.Contains(t, script, `export GST_PLUGIN_SYSTEM_PATH_1_0=""`)
	require.Contains(t, script, "gst_registry.bin")
	require.Contains(t, script, "GST_REGISTRY_REUSE_PLUGIN_SCANNER=no")
	require.Contains(t, script, "unset GST_TRACERS")
	require.Contains(t, script, "GSTSHARK")
}

// TestRenderRuntimeHook guards the startup-time isolation: the hook anchors
// everything under the unpacked bundle and scrubs the tracer variables.
func TestRenderRuntimeHook(t *testing.T) {
	t.Parallel()

	hook := RenderRuntimeHook("build_bundle")

	require.Contains(t, hook, `"_MEIPASS"`)
	require.Contains(t, hook, `os.path.join(_app_dir, "build_bundle")`)
	require.Contains(t, hook, `_prepend("LD_LIBRARY_PATH", os.path.join(_base, "lib"))`)
	require.Contains(t, hook, `os.environ["GST_PLUGIN_SYSTEM_PATH"] = ""`)
	require.Contains(t, hook, `os.environ["GST_REGISTRY_REUSE_PLUGIN_SCANNER"] = "no"`)
	require.Contains(t, hook, `"GST_TRACERS"`)
	require.Contains(t, hook, `"GSTSHARK"`)
	require.Contains(t, hook, "os.environ.pop(_name, None)")
}

// TestRun_InvokesTool runs the pipeline against a stub tool and verifies both
// hook renditions land where the tool and the bundle expect them, and that
// tool failures propagate.
func TestRun_InvokesTool(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	m := manifest.Default()

	require.NoError(t, Run(context.Background(), &Options{Settings: cfg, Manifest: m}))

	hook, err := os.ReadFile(filepath.Join(cfg.BundlePath(), RuntimeEnvFilename))
	require.NoError(t, err)
	require.Contains(t, string(hook), "GST_PLUGIN_SCANNER")

	// The Python hook is in place at the path the argv hands to the tool.
	pyHook, err := os.ReadFile(RuntimeHookPath(cfg))
	require.NoError(t, err)
	require.Contains(t, string(pyHook), "GST_PLUGIN_SCANNER")
	require.Contains(t, strings.Join(BuildArgs(cfg, m), " "), "--runtime-hook "+RuntimeHookPath(cfg))

	// A failing tool aborts the step with its exit status wrapped.
	cfg.BundlerCommand = "false"
	err = Run(context.Background(), &Options{Settings: cfg, Manifest: m})
	require.Error(t, err)
}

// TestRun_InvalidManifest rejects a manifest that fails validation.
func TestRun_InvalidManifest(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	err := Run(context.Background(), &Options{
		Settings: cfg,
		Manifest: &manifest.Manifest{AppName: "OPAS-200"},
	})
	require.Error(t, err)
}
