package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/reader"
	"github.com/justapithecus/setscout/cli/render"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single recorded entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a recorded session",
		Subcommands: []*cli.Command{
			inspectSessionCommand(),
		},
	}
}

func inspectSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Inspect a session by ID",
		ArgsUsage: "<session-id>",
		Flags:     append(ReadOnlyFlags(), StorageFlags()...),
		Action:    inspectSessionAction,
	}
}

func inspectSessionAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session-id required", 1)
	}
	sessionID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rd, err := openReader(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open decision log: %v", err), 1)
	}

	resp, err := rd.InspectSession(c.Context, sessionID)
	if errors.Is(err, reader.ErrSessionNotFound) {
		return cli.Exit(fmt.Sprintf("session %s not found", sessionID), 1)
	}
	if err != nil {
		return err
	}
	return r.Render(resp)
}
