// Package builder orchestrates the packaging pipeline: preflight checks,
// stale-output cleanup, dependency collection, the packaging-tool run,
// checksum-verified relocation of the produced executable to the canonical
// dist path, and a human-readable summary.
//
// Every step is fail-fast: the first failing step aborts the pipeline. The
// one distinct diagnostic is ErrArtifactMissing, raised when the tool exits
// cleanly but leaves no output behind.
package builder
