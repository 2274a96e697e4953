package packer

import (
	"path/filepath"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/manifest"
)

// ToolDistPath is where the packaging tool drops its output before the
// orchestrator relocates it to the canonical dist directory.
func ToolDistPath(cfg *config.Settings) string {
	return filepath.Join(cfg.WorkPath(), "dist")
}

// RuntimeHookPath is where Run writes the Python runtime hook before the tool
// embeds it into the executable.
func RuntimeHookPath(cfg *config.Settings) string {
	return filepath.Join(cfg.WorkPath(), RuntimeHookFilename)
}

// BuildArgs translates the bundle manifest into the packaging tool's argv.
// The entry point comes last; everything else is declarative flags.
func BuildArgs(cfg *config.Settings, m *manifest.Manifest) []string {
	args := []string{
		"--noconfirm",
		"--onefile",
		"--name", m.AppName,
		"--distpath", ToolDistPath(cfg),
		"--workpath", cfg.WorkPath(),
		"--specpath", cfg.WorkPath(),
		"--runtime-hook", RuntimeHookPath(cfg),
	}

	if m.Output.Console {
		args = append(args, "--console")
	} else {
		args = append(args, "--noconsole")
	}

	if m.Output.Strip {
		args = append(args, "--strip")
	}

	if !m.Output.UPX {
		args = append(args, "--noupx")
	}

	for _, d := range m.Datas {
		args = append(args, "--add-data", cfg.ResolvePath(d.Source)+":"+d.Dest)
	}

	for _, name := range m.HiddenImports {
		args = append(args, "--hidden-import", name)
	}

	for _, name := range m.Excludes {
		args = append(args, "--exclude-module", name)
	}

	return append(args, cfg.ResolvePath(m.Entry))
}
