package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cmdWait struct {
	global *cmdGlobal

	flagOutput string
}

func (c *cmdWait) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "wait <run-id>"
	cmd.Short = "Power on the VMs of a placement run and wait until they have an IP"
	cmd.Args = cobra.ExactArgs(1)
	cmd.RunE = c.Run

	cmd.Flags().StringVarP(&c.flagOutput, "output", "o", "json", "Output format (json, yaml)")

	return cmd
}

func (c *cmdWait) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, c.global.cfg, c.global.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			c.global.logger.Warn("Failed to close backends", zap.Error(err))
		}
	}()

	report, err := a.planner.WaitReady(ctx, args[0])
	if report == nil {
		return err
	}
	if perr := printValue(cmd.OutOrStdout(), c.flagOutput, report); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d vm(s) did not become ready", len(report.Failed))
	}
	return nil
}
