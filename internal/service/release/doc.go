// Package release prepares the distribution metadata for a packaged build.
//
// It computes checksums for the canonical artifact and the loose files
// shipped next to it, and persists them with a release identifier. The
// resulting YAML is consumed by the installer on the target device.
package release
