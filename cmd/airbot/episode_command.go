package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"airbot/internal/app"
	"airbot/internal/dispatch"
	"airbot/internal/feed"
)

func newEpisodeCommand(opts *rootOptions) *cobra.Command {
	var sourceID int
	var asHTML bool

	cmd := &cobra.Command{
		Use:   "episode <quality> <title...>",
		Short: "Look up the latest pack of a title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			off, err := app.NewOffline(cfg, opts.logger(cmd))
			if err != nil {
				return err
			}
			src := off.Catalog.Default()
			if sourceID != 0 {
				s, ok := off.Catalog.Get(sourceID)
				if !ok {
					return fmt.Errorf("--source: unknown source id %d", sourceID)
				}
				src = s
			}

			title := strings.Join(args[1:], " ")
			res, err := off.Dispatcher.QuerySource(cmd.Context(), src, title, args[0])
			if errors.Is(err, feed.ErrPackNotFound) {
				return fmt.Errorf("no pack for %q at %s on %s (titles are case-sensitive)", title, args[0], src.Name)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asHTML {
				fmt.Fprintln(out, res.Text)
				return nil
			}
			released := res.Release.ReleaseDate
			if released == "" {
				released = "Unknown"
			}
			p := res.Pack
			rows := [][]string{
				{"Source", fmt.Sprintf("%d (%s)", src.ID, src.Name)},
				{"Pack", "#" + p.Number},
				{"Released by", p.Releaser},
				{"Episode", p.Episode},
				{"Quality", p.Quality},
				{"Size", p.Size},
				{"Released on", released},
				{"Command", fmt.Sprintf("/msg %s|NEW xdcc send #%s", dispatch.BotName(src.Name), p.Number)},
			}
			fmt.Fprintln(out, renderTable([]string{"Field", title}, rows, nil))
			return nil
		},
	}
	cmd.Flags().IntVar(&sourceID, "source", 0, "Source id (default: dispatch.default_source)")
	cmd.Flags().BoolVar(&asHTML, "html", false, "Print the Telegram message instead of a table")
	return cmd
}
