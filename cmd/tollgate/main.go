// Package main provides the tollgate CLI entrypoint.
//
// `review` is the only command that runs work; every other command reads
// lock, report or history state.
//
// Usage:
//
//	tollgate <command> [subcommand] [options]
//
// Exit codes for `review`:
//   - 0: completed, including batches where some files failed
//   - 1: unexpected error or invalid configuration
//   - 2: another invocation holds the resource lock
//   - 3: the lock marker could not be managed
//   - 4: the batch could not start
//   - 5: changed files could not be enumerated
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/cli/cmd"
	"github.com/pithecene-io/tollgate/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "tollgate",
		Usage:          "Serialized per-file review pipelines",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ReviewCommand(),
			cmd.LockCommand(),
			cmd.ReportCommand(),
			cmd.HistoryCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps an error to the process exit code and the message worth
// printing. cli.Exit("", N) prints nothing.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
