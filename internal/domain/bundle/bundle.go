package bundle

import "path/filepath"

// Layout describes the staged runtime bundle tree shipped next to the
// packaged application.
type Layout struct {
	// Root is the bundle directory (usually build_bundle).
	Root string
}

// NewLayout creates a layout anchored at the provided root.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// LibDir holds transitive shared-library dependencies.
func (l Layout) LibDir() string {
	return filepath.Join(l.Root, "lib")
}

// PluginDir holds the GStreamer plugins.
func (l Layout) PluginDir() string {
	return filepath.Join(l.Root, "gst_plugins")
}

// TypelibDir holds the GObject-introspection typelibs.
func (l Layout) TypelibDir() string {
	return filepath.Join(l.Root, "gi_typelib")
}

// BinDir holds helper executables (the plugin scanner).
func (l Layout) BinDir() string {
	return filepath.Join(l.Root, "bin")
}

// Dirs returns every directory of the layout, in creation order.
func (l Layout) Dirs() []string {
	return []string{l.LibDir(), l.PluginDir(), l.TypelibDir(), l.BinDir()}
}

// SharedObject is a shared library resolved on the build host.
type SharedObject struct {
	// Name is the library file name (libglib-2.0.so.0).
	Name string
	// Path is the absolute location it was resolved to.
	Path string
}

// Artifact describes a produced or relocated executable.
type Artifact struct {
	// Path is the absolute location of the executable.
	Path string
	// Size is the executable size in bytes.
	Size int64
	// Checksum is the raw SHA-512 digest of the executable contents.
	Checksum []byte
}
