// Package main provides the setscout CLI entrypoint.
//
// Usage:
//
//	setscout <command> [subcommand] [options]
//
// Exit codes for `run`:
//   - 0: stream ended or session interrupted
//   - 1: unexpected failure or invalid configuration
//   - 2: target collection could not be loaded
//   - 3: event stream broken or interceptor crashed
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/cmd"
	"github.com/justapithecus/setscout/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "setscout",
		Usage:          "Find long sets in a SoundCloud stream",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.MembershipCommand(),
			cmd.ReplayCommand(),
			cmd.InspectCommand(),
			cmd.ListCommand(),
			cmd.StatsCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit so `run` outcomes
// reach the shell.
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

// exitStatus returns the process exit code for err and the message worth
// printing. cli.Exit("", N) carries no message.
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
