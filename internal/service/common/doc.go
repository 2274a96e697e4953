// Package common holds helpers shared by the pipeline services: artifact
// checksum calculation and the file modes used for distributed executables.
package common
