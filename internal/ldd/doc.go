// Package ldd resolves shared libraries on the build host and extracts their
// dependencies by invoking the system ldd binary as a subprocess.
package ldd
