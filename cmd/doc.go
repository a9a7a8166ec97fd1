// Package cmd implements the command-line interface for mailgate.
//
// This package provides the following commands:
//   - serve: Sign in with the device code flow and start the HTTP API
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
