// Package installer deploys a released build onto the target device.
//
// It refuses concurrent runs via a marker file, stops running instances of
// the application, verifies the artifact against the release description
// checksum, applies it atomically and prepares the data directories.
package installer
