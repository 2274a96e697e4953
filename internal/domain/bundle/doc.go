// Package bundle contains core domain types for the packaging pipeline.
//
// It defines the staged bundle Layout, SharedObject (a resolved library on
// the build host) and Artifact (a produced executable).
package bundle
