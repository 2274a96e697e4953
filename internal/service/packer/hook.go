package packer

import (
	"os"
	"path/filepath"
	"strings"
)

// RuntimeHookFilename is the hook the packaging tool registers and executes
// inside the frozen application before any application code runs. It is what
// makes the environment isolation take effect in the shipped executable.
const RuntimeHookFilename = "runtime_hook.py"

// RuntimeEnvFilename is the shell rendition of the same environment, shipped
// at the bundle root. Device-side shells source it when running bundle
// helpers (the plugin scanner) outside the packaged application.
const RuntimeEnvFilename = "runtime_env.sh"

// scrubbedVariables are tracer/debug knobs that must not leak into the
// isolated runtime: leftover tracer settings crash the plugin registry and
// litter the device with dump directories.
var scrubbedVariables = []string{
	"GST_TRACERS",
	"GST_DEBUG",
	"GST_DEBUG_DUMP_DOT_DIR",
	"GST_DEBUG_FILE",
	"GST_SHARK_CTF_PATH",
	"GST_SHARK_LOCATION",
	"GSTSHARK",
}

// RenderRuntimeHook produces the Python runtime hook executed at application
// startup: it anchors the bundled libraries, plugins and typelibs relative to
// the unpacked bundle directory and isolates the GStreamer registry from the
// host system.
func RenderRuntimeHook(bundleDirName string) string {
	var b strings.Builder

	b.WriteString("# Runtime environment for the packaged OPAS-200 executable.\n")
	b.WriteString("# Registered with the packaging tool; runs before application code.\n")
	b.WriteString("import os\n")
	b.WriteString("import sys\n\n")

	b.WriteString(`_app_dir = getattr(sys, "_MEIPASS", os.path.dirname(os.path.abspath(sys.executable)))` + "\n")
	b.WriteString(`_base = os.path.join(_app_dir, ` + pyQuote(bundleDirName) + ")\n\n")

	b.WriteString("def _prepend(name, value):\n")
	b.WriteString(`    current = os.environ.get(name, "")` + "\n")
	b.WriteString("    os.environ[name] = value + (os.pathsep + current if current else \"\")\n\n")

	// Bundled libraries take precedence over whatever the device carries.
	b.WriteString(`_prepend("LD_LIBRARY_PATH", os.path.join(_base, "lib"))` + "\n")
	b.WriteString(`_prepend("GI_TYPELIB_PATH", os.path.join(_base, "gi_typelib"))` + "\n\n")

	// Only bundled plugins are visible: scanning system plugins on the target
	// has produced illegal-instruction crashes.
	b.WriteString(`os.environ["GST_PLUGIN_PATH"] = os.path.join(_base, "gst_plugins")` + "\n")
	b.WriteString(`os.environ["GST_PLUGIN_PATH_1_0"] = os.path.join(_base, "gst_plugins")` + "\n")
	b.WriteString(`os.environ["GST_PLUGIN_SYSTEM_PATH"] = ""` + "\n")
	b.WriteString(`os.environ["GST_PLUGIN_SYSTEM_PATH_1_0"] = ""` + "\n")
	b.WriteString(`os.environ["GST_PLUGIN_SCANNER"] = os.path.join(_base, "bin", "gst-plugin-scanner")` + "\n\n")

	// Keep the registry private so it never mixes with the system one.
	b.WriteString(`os.environ["GST_REGISTRY"] = os.path.join(_base, "gst_registry.bin")` + "\n")
	b.WriteString(`os.environ["GST_REGISTRY_1_0"] = os.path.join(_base, "gst_registry.bin")` + "\n")
	b.WriteString(`os.environ["GST_REGISTRY_REUSE_PLUGIN_SCANNER"] = "no"` + "\n\n")

	b.WriteString("for _name in (" + pyTuple(scrubbedVariables) + "):\n")
	b.WriteString("    os.environ.pop(_name, None)\n")

	return b.String()
}

// WriteRuntimeHook places the Python hook into the work directory where the
// packaging tool picks it up via its hook flag.
func WriteRuntimeHook(workDir, bundleDirName string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(workDir, RuntimeHookFilename)

	return path, os.WriteFile(path, []byte(RenderRuntimeHook(bundleDirName)), 0o644)
}

// pyQuote renders a Go string as a double-quoted Python literal.
func pyQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// pyTuple renders names as a Python tuple body.
func pyTuple(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, pyQuote(name))
	}

	return strings.Join(quoted, ", ")
}

// RenderRuntimeEnv produces the POSIX environment hook that points the
// packaged application at the bundled libraries, plugins and typelibs and
// isolates the GStreamer registry from the host system.
func RenderRuntimeEnv() string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Runtime environment for the packaged OPAS-200 executable.\n")
	b.WriteString("# Sourced from the bundle root before the application starts.\n")
	b.WriteString(`BASE_DIR="$(cd "$(dirname "$0")" && pwd)"` + "\n\n")

	// Bundled libraries take precedence over whatever the device carries.
	b.WriteString(`export LD_LIBRARY_PATH="$BASE_DIR/lib${LD_LIBRARY_PATH:+:$LD_LIBRARY_PATH}"` + "\n")

	// Only bundled plugins are visible: scanning system plugins on the target
	// has produced illegal-instruction crashes.
	b.WriteString(`export GST_PLUGIN_PATH="$BASE_DIR/gst_plugins"` + "\n")
	b.WriteString(`export GST_PLUGIN_PATH_1_0="$BASE_DIR/gst_plugins"` + "\n")
	b.WriteString(`export GST_PLUGIN_SYSTEM_PATH=""` + "\n")
	b.WriteString(`export GST_PLUGIN_SYSTEM_PATH_1_0=""` + "\n")
	b.WriteString(`export GST_PLUGIN_SCANNER="$BASE_DIR/bin/gst-plugin-scanner"` + "\n")
	b.WriteString(`export GI_TYPELIB_PATH="$BASE_DIR/gi_typelib${GI_TYPELIB_PATH:+:$GI_TYPELIB_PATH}"` + "\n")

	// Keep the registry private so it never mixes with the system one.
	b.WriteString(`export GST_REGISTRY="$BASE_DIR/gst_registry.bin"` + "\n")
	b.WriteString(`export GST_REGISTRY_1_0="$BASE_DIR/gst_registry.bin"` + "\n")
	b.WriteString(`export GST_REGISTRY_REUSE_PLUGIN_SCANNER=no` + "\n")

	b.WriteString("unset " + strings.Join(scrubbedVariables, " ") + "\n")

	return b.String()
}

// WriteRuntimeEnv places the environment hook at the bundle root so the data
// embedding step ships it with the rest of the bundle.
func WriteRuntimeEnv(bundleDir string) error {
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(bundleDir, RuntimeEnvFilename), []byte(RenderRuntimeEnv()), 0o755)
}
