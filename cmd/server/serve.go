package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/server"
	"github.com/Tyrowin/chatdrop/internal/tracing"
)

type serveFlags struct {
	addr        string
	historyPath string
	publicDir   string
}

func (f *serveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (default "+config.DefaultAddr+")")
	cmd.Flags().StringVar(&f.historyPath, "history", "", "chat history file (default "+config.DefaultHistoryPath+")")
	cmd.Flags().StringVar(&f.publicDir, "public", "", "static asset directory (default "+config.DefaultPublicDir+")")
}

func (f *serveFlags) apply(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("addr") {
		c.Addr = f.addr
	}
	if cmd.Flags().Changed("history") {
		c.HistoryPath = f.historyPath
	}
	if cmd.Flags().Changed("public") {
		c.PublicDir = f.publicDir
	}
}

func newServeCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, global, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, global *globalFlags, flags *serveFlags) error {
	cfg, err := loadConfig(cmd, global, func(c *config.Config) { flags.apply(cmd, c) })
	if err != nil {
		return err
	}
	if err := configureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logrus.WithError(err).Warn("Failed to flush traces")
		}
	}()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"addr":    cfg.Addr,
		"tls":     cfg.TLS.Enabled(),
		"version": version,
	}).Info("Starting chatdrop")
	return srv.Run(ctx)
}
