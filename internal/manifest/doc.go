// Package manifest defines the declarative bundle manifest consumed by the
// packaging step and provides helpers to load, validate and save it in YAML
// format.
//
// The manifest enumerates the entry point, embedded data files, hidden-import
// hints, the excluded framework sub-modules, and the output executable
// metadata (name, console visibility, compression).
package manifest
