package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/history"
)

func newHistoryCmd(global *globalFlags) *cobra.Command {
	var historyPath string

	load := func(cmd *cobra.Command) (config.Config, error) {
		cfg, err := loadConfig(cmd, global, func(c *config.Config) {
			if cmd.Flags().Changed("history") {
				c.HistoryPath = historyPath
			}
		})
		if err != nil {
			return config.Config{}, err
		}
		return cfg, configureLogging(cfg.LogLevel, cfg.LogFormat)
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the persisted chat history",
	}
	cmd.PersistentFlags().StringVar(&historyPath, "history", "", "chat history file (default "+config.DefaultHistoryPath+")")

	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the history as newline-delimited JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return history.Dump(cfg.HistoryPath, cmd.OutOrStdout())
		},
	}

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			log, err := history.Open(cfg.HistoryPath, nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), log.Len())
			return err
		},
	}

	cmd.AddCommand(dump, count)
	return cmd
}
