// Package packer drives the third-party packaging tool: it renders the
// runtime environment hook into the staged bundle, translates the bundle
// manifest into the tool's command line, and runs the tool as a subprocess,
// propagating its exit status.
package packer
