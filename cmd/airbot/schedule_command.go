package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"airbot/internal/app"
	"airbot/internal/schedule"
)

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	var tz string
	var limit int

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the upcoming release schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(strings.TrimSpace(tz))
			if err != nil {
				return fmt.Errorf("--tz: %w", err)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			off, err := app.NewOffline(cfg, opts.logger(cmd))
			if err != nil {
				return err
			}
			cal, err := off.Feed.Calendar(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now()
			cache, skipped := schedule.Build(cal, now, off.Grace)
			rels := schedule.Upcoming(cache, now, limit, loc)

			out := cmd.OutOrStdout()
			if len(rels) == 0 {
				fmt.Fprintln(out, "Nothing scheduled.")
				return nil
			}
			rows := make([][]string, 0, len(rels))
			for _, r := range rels {
				rows = append(rows, []string{r.At.Format("Mon 15:04"), r.Title})
			}
			fmt.Fprintln(out, renderTable([]string{"Dispatch (" + loc.String() + ")", "Title"}, rows, nil))
			if skipped > 0 {
				fmt.Fprintf(out, "%d calendar entries skipped (bad time)\n", skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone for the dispatch times")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows (0 for all)")
	return cmd
}
