package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/logger"
	"github.com/opas-200/opas-build/internal/manifest"
	"github.com/opas-200/opas-build/internal/service/common"
	"github.com/opas-200/opas-build/internal/service/release"
)

// MarkerFilename marks that an install is running right now to avoid parallel
// execution.
const MarkerFilename = ".opas-install-marker"

// markerLifetime is the period after which a stale install marker is ignored.
const markerLifetime = 30 * time.Second

// Options contains inputs for the installer entry point.
type Options struct {
	// Settings describe the dist directory and the device-side locations.
	Settings *config.Settings
	// Manifest overrides loading from Settings.ManifestFile when non-nil.
	Manifest *manifest.Manifest
}

var (
	errSettingsNotSet      = errors.New("settings are not set")
	errInstallerRunning    = errors.New("an install is already running")
	errNoArtifactChecksum  = errors.New("release description has no checksum for the artifact")
	errArtifactNotReleased = errors.New("artifact not found in dist, run a build and a release first")
)

// installer applies a packaged build onto the device.
// It is intentionally unexported—call Run(ctx, Options) from callers.
type installer struct {
	cfg  *config.Settings
	m    *manifest.Manifest
	desc *release.Description
}

// Run deploys the canonical artifact to the device install directory:
// it stops running instances, verifies the release checksum, applies the
// binary atomically and prepares the data directories.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "installer")

	if opts == nil || opts.Settings == nil {
		return errSettingsNotSet
	}

	inst, err := newInstaller(ctx, opts)
	if err != nil {
		return err
	}

	defer inst.cleanup(ctx)

	if err = inst.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Install failed", "error", err)
		return err
	}

	logger.Info(ctx, "Install completed")

	return nil
}

// newInstaller loads the release description and writes the concurrency marker.
func newInstaller(ctx context.Context, opts *Options) (*installer, error) {
	inst := &installer{cfg: opts.Settings}

	if isInstallerRunningNow(ctx, inst.markerPath()) {
		return inst, errInstallerRunning
	}

	marker, err := os.Create(inst.markerPath())
	if err != nil {
		return inst, err
	}

	if err = marker.Close(); err != nil {
		return inst, err
	}

	// From here the marker exists: failing out must not leave it behind for
	// the staleness window to clear.
	inst.m = opts.Manifest
	if inst.m == nil {
		inst.m, err = manifest.Load(inst.cfg.ManifestFile())
		if err != nil {
			inst.removeMarker()
			return inst, err
		}
	}

	inst.desc, err = release.LoadDescription(filepath.Join(inst.cfg.DistPath(), release.DescriptionFilename))
	if err != nil {
		inst.removeMarker()
		return inst, err
	}

	return inst, nil
}

// Run executes the install workflow for this instance.
func (inst *installer) Run(ctx context.Context) error {
	artifact := filepath.Join(inst.cfg.DistPath(), inst.m.AppName)
	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("%s: %w", artifact, errArtifactNotReleased)
	}

	logger.InfoKV(ctx, "Stopping running instances", "executable", inst.m.AppName)

	if err := terminateProcessByName(inst.m.AppName); err != nil {
		return fmt.Errorf("terminate running instances: %w", err)
	}

	if err := inst.ensureDataDirs(); err != nil {
		return err
	}

	return inst.applyArtifact(ctx, artifact)
}

// ensureDataDirs creates the device-side data root next to the executable.
func (inst *installer) ensureDataDirs() error {
	dataRoot := filepath.Join(inst.cfg.InstallDir, inst.cfg.DataRootName)

	for _, dir := range []string{filepath.Join(dataRoot, "data"), filepath.Join(dataRoot, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// applyArtifact replaces the installed executable atomically, verifying the
// release checksum; a mismatch rolls the target back.
func (inst *installer) applyArtifact(ctx context.Context, artifact string) error {
	encoded, ok := inst.desc.Files[inst.m.AppName]
	if !ok {
		return fmt.Errorf("%s: %w", inst.m.AppName, errNoArtifactChecksum)
	}

	checksum, err := common.DecodeChecksum(encoded)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(artifact))
	if err != nil {
		return err
	}

	target := filepath.Join(inst.cfg.InstallDir, inst.m.AppName)

	if err = os.MkdirAll(inst.cfg.InstallDir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	if _, err = os.Stat(target); err != nil && errors.Is(err, os.ErrNotExist) {
		if _, err = os.Create(target); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: common.DefaultExecutableMode,
		Checksum:   checksum,
		Hash:       common.DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply artifact: %w", err)
	}

	_ = os.Remove(target + ".old")

	logger.InfoKV(ctx, "Executable installed", "path", target, "release_id", inst.desc.ReleaseID)

	return nil
}

// markerPath anchors the concurrency marker at the dist directory.
func (inst *installer) markerPath() string {
	return filepath.Join(inst.cfg.DistPath(), MarkerFilename)
}

// removeMarker deletes the concurrency marker if it exists.
func (inst *installer) removeMarker() {
	if _, err := os.Stat(inst.markerPath()); err == nil {
		_ = os.Remove(inst.markerPath())
	}
}

// cleanup removes the concurrency marker.
func (inst *installer) cleanup(ctx context.Context) {
	inst.removeMarker()

	logger.Debug(ctx, "Installer stopped")
}

// isInstallerRunningNow checks presence of a marker file and ignores it when
// it looks stale.
func isInstallerRunningNow(ctx context.Context, markerPath string) bool {
	info, err := os.Stat(markerPath)
	if err != nil {
		return false
	}

	if time.Since(info.ModTime()) <= markerLifetime {
		return true
	}

	logger.Info(ctx, "Stale install marker found, removing")

	return os.Remove(markerPath) != nil
}

// terminateProcessByName kills processes with the provided executable name.
func terminateProcessByName(processName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != processName {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}
