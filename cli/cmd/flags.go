// Package cmd provides CLI commands for the tollgate binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for report and history.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (report, history only)",
	}

	// ConfigFlag points at a tollgate.yaml. Without it, ./tollgate.yaml is
	// used when present.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to tollgate.yaml (default ./tollgate.yaml when present)",
	}

	// LockDirFlag overrides the marker directory.
	LockDirFlag = &cli.StringFlag{
		Name:  "lock-dir",
		Usage: "Directory holding lock markers",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// lockFlags are the read-only flags plus config and lock directory.
func lockFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(ReadOnlyFlags(), ConfigFlag, LockDirFlag)
	return append(flags, extra...)
}
