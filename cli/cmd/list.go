package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/reader"
	"github.com/justapithecus/setscout/cli/render"
	"github.com/justapithecus/setscout/lode"
	"github.com/justapithecus/setscout/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
// List returns thin slices, not inspect-level detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recorded sessions and decisions",
		Subcommands: []*cli.Command{
			listSessionsCommand(),
			listDecisionsCommand(),
		},
	}
}

func listSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List sessions, newest first",
		Flags: append(append(ReadOnlyFlags(), StorageFlags()...),
			&cli.StringFlag{
				Name:  "day",
				Usage: "Filter by day (YYYY-MM-DD, UTC)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions to return (0 = no limit)",
			},
		),
		Action: listSessionsAction,
	}
}

func listSessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rd, err := openReader(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open decision log: %v", err), 1)
	}

	opts := reader.ListSessionsOptions{
		Day:   c.String("day"),
		Limit: c.Int("limit"),
	}
	results, err := rd.ListSessions(c.Context, opts)
	if err != nil {
		return err
	}
	warnLarge(len(results), opts.Limit)
	return r.Render(results)
}

// DecisionFilterFlags narrow decision queries.
func DecisionFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "session",
			Usage: "Filter by session ID",
		},
		&cli.StringFlag{
			Name:  "disposition",
			Usage: "Filter by disposition: match or skip",
		},
		&cli.StringFlag{
			Name:  "day",
			Usage: "Filter by day (YYYY-MM-DD, UTC)",
		},
	}
}

func decisionFilter(c *cli.Context) (lode.DecisionFilter, error) {
	f := lode.DecisionFilter{
		SessionID:   c.String("session"),
		Disposition: c.String("disposition"),
		Day:         c.String("day"),
	}
	switch types.Disposition(f.Disposition) {
	case "", types.DispositionMatch, types.DispositionSkip:
	default:
		return f, fmt.Errorf("invalid disposition %q (must be match or skip)", f.Disposition)
	}
	return f, nil
}

func listDecisionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "decisions",
		Usage: "List stored decisions in decision order",
		Flags: append(append(append(ReadOnlyFlags(), StorageFlags()...), DecisionFilterFlags()...),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Return only the newest N decisions (0 = no limit)",
			},
		),
		Action: listDecisionsAction,
	}
}

func listDecisionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	filter, err := decisionFilter(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	filter.Limit = c.Int("limit")

	rd, err := openReader(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open decision log: %v", err), 1)
	}
	results, err := rd.ListDecisions(c.Context, filter)
	if err != nil {
		return err
	}
	warnLarge(len(results), filter.Limit)
	return r.Render(results)
}

// warnLarge suggests --limit for large unbounded output (TTY only to avoid noise in pipelines).
func warnLarge(n, limit int) {
	if n > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", n)
	}
}
