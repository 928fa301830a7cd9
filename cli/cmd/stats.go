package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/render"
)

// StatsCommand returns the stats command.
// Stats returns aggregated, derived facts over stored decisions.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show decision statistics",
		Flags:  append(append(ReadOnlyFlags(), StorageFlags()...), DecisionFilterFlags()...),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	filter, err := decisionFilter(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	rd, err := openReader(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open decision log: %v", err), 1)
	}
	stats, err := rd.Stats(c.Context, filter)
	if err != nil {
		return err
	}
	return r.Render(stats)
}
