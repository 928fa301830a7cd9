package cmd

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/render"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/membership"
	"github.com/justapithecus/setscout/soundcloud"
)

// MemberItem is one resolved track of the target collection.
type MemberItem struct {
	ID        string        `json:"id"`
	Permalink string        `json:"permalink"`
	Duration  time.Duration `json:"duration"`
	Qualifies bool          `json:"qualifies"`
}

// MembershipCommand returns the membership command.
// It loads the target collection the way a run does and prints it.
func MembershipCommand() *cli.Command {
	return &cli.Command{
		Name:  "membership",
		Usage: "Load and show the target collection",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "playlist",
				Usage: "Target playlist ID",
			},
			&cli.StringFlag{
				Name:    "client-id",
				Usage:   "API client id (required outside a run)",
				EnvVars: []string{"SETSCOUT_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:  "api-base-url",
				Usage: "API base URL",
			},
			&cli.IntFlag{
				Name:  "threshold",
				Usage: "Minimum match duration in minutes",
			},
		),
		Action: membershipAction,
	}
}

func membershipAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg.PlaylistID = resolveString(c, "playlist", cfg.PlaylistID)
	cfg.ClientID = resolveString(c, "client-id", cfg.ClientID)
	cfg.APIBaseURL = resolveString(c, "api-base-url", cfg.APIBaseURL)
	cfg.ThresholdMinutes = resolveIntPtr(c, "threshold", cfg.ThresholdMinutes)
	full := cfg.WithDefaults()
	if err := full.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), 1)
	}
	if full.ClientID == "" {
		return cli.Exit("--client-id is required (or set client_id in the config file)", 1)
	}

	client, err := soundcloud.New(soundcloud.Config{
		BaseURL:  full.APIBaseURL,
		ClientID: func() string { return full.ClientID },
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	threshold := full.Threshold()
	var items []MemberItem
	loader := &membership.Loader{
		Source: client,
		Logger: log.NewNop(),
		OnTracks: func(tracks []membership.Track) {
			for _, t := range tracks {
				items = append(items, MemberItem{
					ID:        t.ID,
					Permalink: t.Permalink.String(),
					Duration:  t.Duration,
					Qualifies: t.Duration >= threshold,
				})
			}
		},
	}
	snap, err := loader.Load(c.Context, full.PlaylistID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("membership load failed: %v", err), 2)
	}

	slices.SortFunc(items, func(a, b MemberItem) int { return cmp.Compare(a.Permalink, b.Permalink) })
	if unresolved := snap.Len() - len(items); unresolved > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d tracks could not be resolved\n", unresolved)
	}
	return r.Render(items)
}
