// Package config defines the build-host settings used by every subcommand and
// provides layered loading: built-in Raspberry Pi 5 defaults, an optional
// opas-build.yaml in the project root, and OPAS_BUILD_* environment overrides.
package config
