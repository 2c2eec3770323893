package main

import (
	"github.com/spf13/cobra"

	"airbot/internal/config"
	logx "airbot/pkg/logx"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

// loadConfig parses the file without committing it to a manager.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.NewConfigManager(o.configPath).Parse()
}

func (o *rootOptions) logger(cmd *cobra.Command) logx.Logger {
	return logx.NewWriter(cmd.ErrOrStderr(), o.logLevel)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "airbot",
		Short:         "Telegram notifier for new anime episodes on XDCC",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotenv(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.json", "Configuration file (json, yaml or toml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for one-shot commands")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newScheduleCommand(opts))
	rootCmd.AddCommand(newEpisodeCommand(opts))
	rootCmd.AddCommand(newCheckConfigCommand(opts))
	return rootCmd
}
