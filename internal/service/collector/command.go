package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opas-200/opas-build/internal/config"
	"github.com/opas-200/opas-build/internal/domain/bundle"
	"github.com/opas-200/opas-build/internal/ldd"
	"github.com/opas-200/opas-build/internal/logger"
)

// Options contains inputs for the collector entry point.
type Options struct {
	// Settings describe the build host, the target layout and parallelism.
	Settings *config.Settings
}

// Summary reports what ended up in the staged bundle.
type Summary struct {
	// Plugins is the number of GStreamer plugins copied.
	Plugins int
	// Typelibs is the number of introspection typelibs copied.
	Typelibs int
	// Libraries is the number of transitive shared libraries copied.
	Libraries int
	// ScannerFound indicates the plugin scanner binary was located.
	ScannerFound bool
	// TotalBytes is the size of the staged bundle tree.
	TotalBytes int64
}

// collector walks the shared-library closure of the application's runtime
// stack and stages it into the bundle layout.
// It is unexported—callers should use Run, which encapsulates setup.
type collector struct {
	cfg      *config.Settings
	layout   bundle.Layout
	resolver *ldd.Resolver

	// baseLibs are provided by the target OS and never bundled.
	baseLibs map[string]struct{}
	// scannerPath is the resolved gst-plugin-scanner location, if any.
	scannerPath string

	// mu guards seen and copied across concurrent dependency scans.
	mu sync.Mutex
	// seen holds every source path already scheduled for scanning.
	seen map[string]struct{}
	// copied holds destination file names already staged into lib/.
	copied map[string]struct{}

	summary Summary
}

var errSettingsNotSet = errors.New("settings are not set")

// coreLibraries seed the dependency closure: the GStreamer/GLib runtime the
// video pipeline loads dynamically, which never shows up in ldd output of the
// plugins alone.
var coreLibraries = []string{
	"libgstreamer-1.0.so.0",
	"libgstbase-1.0.so.0",
	"libgstvideo-1.0.so.0",
	"libgstapp-1.0.so.0",
	"libgstpbutils-1.0.so.0",
	"libgobject-2.0.so.0",
	"libglib-2.0.so.0",
	"libgio-2.0.so.0",
	"libgmodule-2.0.so.0",
	"libgirepository-1.0.so.1",
	"libcairo.so.2",
	"libcairo-gobject.so.2",
}

// Run executes the dependency-collection workflow.
func Run(ctx context.Context, opts *Options) (*Summary, error) {
	ctx = logger.WithName(ctx, "collector")

	if opts == nil || opts.Settings == nil {
		return nil, errSettingsNotSet
	}

	c := newCollector(opts.Settings)

	if err := c.Run(ctx); err != nil {
		return nil, fmt.Errorf("collector failed: %w", err)
	}

	logger.InfoKV(ctx, "Collection complete",
		"plugins", c.summary.Plugins,
		"typelibs", c.summary.Typelibs,
		"libraries", c.summary.Libraries,
		"bundle_size_mb", fmt.Sprintf("%.2f", float64(c.summary.TotalBytes)/1024/1024))

	return &c.summary, nil
}

// newCollector creates a collector over the configured layout and search paths.
func newCollector(cfg *config.Settings) *collector {
	baseLibs := make(map[string]struct{}, len(cfg.BaseLibs))
	for _, name := range cfg.BaseLibs {
		baseLibs[name] = struct{}{}
	}

	return &collector{
		cfg:      cfg,
		layout:   bundle.NewLayout(cfg.BundlePath()),
		resolver: ldd.NewResolver(cfg.SystemLibDirs),
		baseLibs: baseLibs,
		seen:     make(map[string]struct{}),
		copied:   make(map[string]struct{}),
	}
}

// Run stages plugins, typelibs, the scanner and the transitive library closure.
func (c *collector) Run(ctx context.Context) error {
	if err := c.resetLayout(); err != nil {
		return err
	}

	queue := make([]string, 0, 64)

	logger.InfoKV(ctx, "Collecting GStreamer plugins", "dir", c.cfg.PluginDir)

	plugins, err := c.collectPlugins()
	if err != nil {
		return err
	}

	queue = append(queue, plugins...)

	logger.InfoKV(ctx, "Collecting GI typelibs", "dir", c.cfg.TypelibDir)

	if err = c.collectTypelibs(); err != nil {
		return err
	}

	if scanner := c.collectScanner(ctx); scanner != "" {
		queue = append(queue, scanner)
	}

	queue = append(queue, c.seedCoreLibraries(ctx)...)

	logger.Info(ctx, "Processing dependency closure")

	if err = c.processClosure(ctx, queue); err != nil {
		return err
	}

	return c.summarize()
}

// resetLayout removes any previous staging tree and recreates the layout.
func (c *collector) resetLayout() error {
	if err := os.RemoveAll(c.layout.Root); err != nil {
		return fmt.Errorf("reset bundle dir: %w", err)
	}

	for _, dir := range c.layout.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// collectPlugins copies GStreamer plugins into the bundle, skipping tracer
// plugins that crash the isolated registry on the target.
func (c *collector) collectPlugins() ([]string, error) {
	entries, err := os.ReadDir(c.cfg.PluginDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	var sources []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".so") {
			continue
		}

		lower := strings.ToLower(name)
		if strings.Contains(lower, "shark") || strings.Contains(lower, "tracer") {
			continue
		}

		src := filepath.Join(c.cfg.PluginDir, name)
		if err = copyFile(src, filepath.Join(c.layout.PluginDir(), name)); err != nil {
			return nil, err
		}

		sources = append(sources, src)
		c.summary.Plugins++
	}

	return sources, nil
}

// collectTypelibs copies GObject-introspection typelibs into the bundle.
func (c *collector) collectTypelibs() error {
	entries, err := os.ReadDir(c.cfg.TypelibDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read typelib dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".typelib") {
			continue
		}

		if err = copyFile(filepath.Join(c.cfg.TypelibDir, name), filepath.Join(c.layout.TypelibDir(), name)); err != nil {
			return err
		}

		c.summary.Typelibs++
	}

	return nil
}

// collectScanner probes the known locations for gst-plugin-scanner and stages
// it under bin/. Missing scanner is only a warning: video may still work when
// the registry cache is usable.
func (c *collector) collectScanner(ctx context.Context) string {
	for _, candidate := range c.cfg.ScannerCandidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}

		dest := filepath.Join(c.layout.BinDir(), "gst-plugin-scanner")
		if err = copyFile(candidate, dest); err != nil {
			logger.WarnKV(ctx, "Unable to stage plugin scanner", "path", candidate, "error", err)
			return ""
		}

		logger.InfoKV(ctx, "Found gst-plugin-scanner", "path", candidate)

		c.scannerPath = candidate
		c.summary.ScannerFound = true

		return candidate
	}

	logger.Warn(ctx, "gst-plugin-scanner not found, video might fail on the target")

	return ""
}

// seedCoreLibraries resolves the core runtime libraries by name.
func (c *collector) seedCoreLibraries(ctx context.Context) []string {
	seeds := make([]string, 0, len(coreLibraries))

	for _, name := range coreLibraries {
		so, err := c.resolver.Find(name)
		if err != nil {
			logger.WarnKV(ctx, "Core library not found", "library", name)
			continue
		}

		seeds = append(seeds, so.Path)
	}

	return seeds
}

// processClosure walks the transitive ldd closure of the queued libraries.
// Scans of distinct libraries are independent, so each wave runs on a bounded
// worker pool; the staging maps are guarded by the collector mutex.
func (c *collector) processClosure(ctx context.Context, queue []string) error {
	wave := c.markUnseen(queue)

	for len(wave) > 0 {
		var (
			nextMu sync.Mutex
			next   []string
		)

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(c.cfg.Parallelism)

		for _, libPath := range wave {
			group.Go(func() error {
				if err := c.stageLibrary(libPath); err != nil {
					return err
				}

				deps, err := c.resolver.Dependencies(groupCtx, libPath)
				if err != nil {
					// Mirror ldd behavior on data files: skip, don't abort.
					logger.WarnKV(groupCtx, "Dependency scan failed", "library", libPath, "error", err)
					return nil
				}

				fresh := c.markUnseen(deps)
				if len(fresh) > 0 {
					nextMu.Lock()
					next = append(next, fresh...)
					nextMu.Unlock()
				}

				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return err
		}

		wave = next
	}

	return nil
}

// markUnseen records the provided paths and returns those not seen before,
// dropping base libraries the target OS provides.
func (c *collector) markUnseen(paths []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make([]string, 0, len(paths))

	for _, p := range paths {
		if _, excluded := c.baseLibs[filepath.Base(p)]; excluded {
			continue
		}

		if _, found := c.seen[p]; found {
			continue
		}

		c.seen[p] = struct{}{}
		fresh = append(fresh, p)
	}

	return fresh
}

// stageLibrary copies a closure member into lib/ unless it is a plugin or the
// scanner (already staged in their own directories) or already present.
func (c *collector) stageLibrary(path string) error {
	if filepath.Dir(path) == c.cfg.PluginDir || path == c.scannerPath {
		return nil
	}

	name := filepath.Base(path)

	c.mu.Lock()

	if _, found := c.copied[name]; found {
		c.mu.Unlock()
		return nil
	}

	c.copied[name] = struct{}{}
	c.mu.Unlock()

	if err := copyFile(path, filepath.Join(c.layout.LibDir(), name)); err != nil {
		return err
	}

	c.summaryAddLibrary()

	return nil
}

// summaryAddLibrary bumps the library counter under the collector mutex.
func (c *collector) summaryAddLibrary() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.Libraries++
}

// summarize walks the staged tree and records its total size.
func (c *collector) summarize() error {
	return filepath.WalkDir(c.layout.Root, func(_ string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		c.summary.TotalBytes += info.Size()

		return nil
	})
}

// copyFile copies src to dest following symlinks and preserving the mode of
// the resolved source.
func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dest), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("copy %s: %w", src, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}

	return nil
}
