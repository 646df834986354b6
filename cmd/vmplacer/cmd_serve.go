package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/server"
)

type cmdServe struct {
	global *cmdGlobal
}

func (c *cmdServe) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "serve"
	cmd.Short = "Run the placement API server"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	return cmd
}

func (c *cmdServe) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := c.global.logger

	logger.Info("Starting vmplacer",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	a, err := newApp(ctx, c.global.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.logout(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to log out of vCenter", zap.Error(err))
		}
	}()

	// The server closes the backends on shutdown.
	srv := server.New(c.global.cfg, a.planner, logger, a.serverOptions()...)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Goodbye!")
	return nil
}
