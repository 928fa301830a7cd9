package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/reader"
	"github.com/justapithecus/setscout/cli/render"
	"github.com/justapithecus/setscout/iox"
)

// ReplayCommand returns the replay command.
// Replay decodes a captured interceptor stream without running the engine.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Decode a captured frame file and summarize its events",
		ArgsUsage: "<file|->",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "List every envelope header",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("frame file required (use - for stdin)", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path := c.Args().First(); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open frame file: %v", err), 1)
		}
		defer iox.DiscardClose(f)
		in = f
	}

	resp, err := reader.Replay(in, c.Bool("verbose"))
	if err != nil {
		return err
	}
	return r.Render(resp)
}
