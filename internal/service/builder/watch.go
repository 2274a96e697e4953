package builder

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opas-200/opas-build/internal/logger"
)

// debounceWindow batches bursts of editor/filesystem events into one rebuild.
const debounceWindow = 500 * time.Millisecond

// watch reruns the pipeline whenever the source tree changes. A failed build
// is logged and the watcher keeps waiting for the next change; it never masks
// the failure by pretending the artifact is current.
func (b *builder) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	defer func() {
		_ = watcher.Close()
	}()

	if err = watcher.Add(b.cfg.ProjectRoot); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Watching for source changes", "dir", b.cfg.ProjectRoot)

	if err = b.runOnce(ctx); err != nil {
		logger.ErrorKV(ctx, "Build failed, waiting for changes", "error", err)
	}

	var (
		timer   = time.NewTimer(debounceWindow)
		pending bool
	)

	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if b.shouldIgnore(event) {
				continue
			}

			logger.DebugKV(ctx, "Source change detected", "path", event.Name, "op", event.Op.String())

			if pending {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}

			timer.Reset(debounceWindow)
			pending = true

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.WarnKV(ctx, "Watcher error", "error", watchErr)

		case <-timer.C:
			pending = false

			if err = b.runOnce(ctx); err != nil {
				logger.ErrorKV(ctx, "Build failed, waiting for changes", "error", err)
			}
		}
	}
}

// shouldIgnore filters events produced by the pipeline itself: anything under
// the dist, work or bundle directories would otherwise retrigger forever.
func (b *builder) shouldIgnore(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}

	for _, dir := range []string{b.cfg.DistPath(), b.cfg.WorkPath(), b.cfg.BundlePath()} {
		if isWithin(dir, event.Name) {
			return true
		}
	}

	return false
}

// isWithin reports whether path sits inside dir.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel == "." || !strings.HasPrefix(rel, "..")
}
