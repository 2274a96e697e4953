// Package collector stages the application's native runtime into the bundle
// layout: GStreamer plugins, introspection typelibs, the plugin scanner and
// the transitive shared-library closure of all of them.
//
// Base system libraries (glibc and friends) are deliberately left out; the
// target OS provides them and bundling them invites version skew.
package collector
