package ldd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/opas-200/opas-build/internal/domain/bundle"
)

// Resolver locates shared libraries on the build host and extracts their
// direct dependencies via the system ldd binary.
type Resolver struct {
	// LibDirs are searched in order when resolving a library name to a path.
	LibDirs []string
	// Timeout bounds a single ldd invocation.
	Timeout time.Duration
}

const defaultTimeout = 10 * time.Second

// ErrLibraryNotFound is returned when a library name resolves to no path.
var ErrLibraryNotFound = errors.New("library not found")

var (
	// resolvedLineRe matches "libfoo.so.1 => /usr/lib/libfoo.so.1 (0x...)".
	resolvedLineRe = regexp.MustCompile(`^(.+?) => (.+) \(0x`)
	// directLineRe matches "/lib/ld-linux-aarch64.so.1 (0x...)".
	directLineRe = regexp.MustCompile(`^(.+) \(0x`)
)

// NewResolver creates a resolver over the provided search directories.
func NewResolver(libDirs []string) *Resolver {
	return &Resolver{
		LibDirs: libDirs,
		Timeout: defaultTimeout,
	}
}

// Dependencies returns the direct shared-library dependencies of the binary
// or library at path, as absolute paths. Entries ldd reports as "not found"
// are skipped.
func (r *Resolver) Dependencies(ctx context.Context, path string) ([]string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, "ldd", path).Output()
	if err != nil {
		return nil, fmt.Errorf("ldd %s: %w", path, err)
	}

	return ParseOutput(string(output)), nil
}

// ParseOutput extracts dependency paths from raw ldd output.
func ParseOutput(output string) []string {
	seen := make(map[string]struct{})

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := resolvedLineRe.FindStringSubmatch(line); m != nil {
			target := strings.TrimSpace(m[2])
			if target != "" && target != "not found" {
				seen[target] = struct{}{}
			}

			continue
		}

		if m := directLineRe.FindStringSubmatch(line); m != nil {
			target := strings.TrimSpace(m[1])
			if filepath.IsAbs(target) {
				seen[target] = struct{}{}
			}
		}
	}

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}

	sort.Strings(deps)

	return deps
}

// Find resolves a library name on the build host. An exact name match in a
// search directory wins; otherwise the shortest versioned match
// (libfoo.so -> libfoo.so.0) is used, mirroring how symlinked sonames are
// laid out on Debian-based systems.
func (r *Resolver) Find(name string) (bundle.SharedObject, error) {
	for _, dir := range r.LibDirs {
		exact := filepath.Join(dir, name)
		if fileExists(exact) {
			return bundle.SharedObject{Name: name, Path: exact}, nil
		}

		matches, err := filepath.Glob(filepath.Join(dir, name+"*"))
		if err != nil || len(matches) == 0 {
			continue
		}

		sort.Slice(matches, func(i, j int) bool {
			return len(matches[i]) < len(matches[j])
		})

		return bundle.SharedObject{Name: name, Path: matches[0]}, nil
	}

	return bundle.SharedObject{}, fmt.Errorf("%s: %w", name, ErrLibraryNotFound)
}

// fileExists reports whether path exists and is a regular file or symlink target.
func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
