// Package verifier checks the produced build against the bundle manifest:
// the canonical artifact must be a real executable and no module from the
// exclude list may appear anywhere in the packaged tree.
package verifier
