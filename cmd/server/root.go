package main

import (
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatdrop/internal/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	global := &globalFlags{}
	serve := &serveFlags{}

	cmd := &cobra.Command{
		Use:           "chatdrop",
		Short:         "Self-hosted group chat with persistent history and file drops",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, global, serve)
		},
	}

	cmd.PersistentFlags().StringVar(&global.configPath, "config", "", "path to a TOML config file (default "+config.DefaultConfigFile+" if present)")
	cmd.PersistentFlags().StringVar(&global.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&global.logFormat, "log-format", "", "log format: text or json")
	serve.register(cmd)

	cmd.AddCommand(
		newServeCmd(global),
		newHistoryCmd(global),
	)
	return cmd
}

// loadConfig layers the persistent flags, plus any command-specific
// override, over file and environment configuration.
func loadConfig(cmd *cobra.Command, global *globalFlags, override func(*config.Config)) (config.Config, error) {
	return config.Load(config.Options{
		ConfigPath: global.configPath,
		Override: func(c *config.Config) {
			if cmd.Flags().Changed("log-level") {
				c.LogLevel = global.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				c.LogFormat = global.logFormat
			}
			if override != nil {
				override(c)
			}
		},
	})
}
