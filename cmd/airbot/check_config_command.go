package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"airbot/internal/app"
)

func newCheckConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			off, err := app.NewOffline(cfg, opts.logger(cmd))
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK: %s\n", opts.configPath)
			def := off.Catalog.Default().ID
			rows := [][]string{}
			for _, s := range off.Catalog.All() {
				mark := ""
				if s.ID == def {
					mark = "default"
				}
				rows = append(rows, []string{strconv.Itoa(s.ID), s.Name, s.ListingURL, mark})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Listing", ""}, rows, []columnAlignment{alignRight}))
			return nil
		},
	}
}
