package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/inventory/file"
	"github.com/limiquantix/vmplacer/internal/inventory/vsphere"
)

type cmdSnapshot struct {
	global *cmdGlobal

	flagOutput string
}

func (c *cmdSnapshot) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "snapshot"
	cmd.Short = "Write the vCenter inventory to a snapshot file"
	cmd.Long = `Read the configured vCenter datacenter and write it in the snapshot file
format used by the file inventory.`
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	cmd.Flags().StringVarP(&c.flagOutput, "output", "o", "", "Output file (default stdout)")

	return cmd
}

func (c *cmdSnapshot) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := c.global.cfg.VSphere
	logger := c.global.logger

	if cfg.URL == "" {
		return fmt.Errorf("vsphere.url is required")
	}
	client, err := vsphere.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Logout(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to log out of vCenter", zap.Error(err))
		}
	}()

	dc, err := vsphere.NewCollector(client.Client, cfg.Datacenter, logger).Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := file.Encode(dc)
	if err != nil {
		return err
	}

	if c.flagOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(c.flagOutput, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	logger.Info("Wrote inventory snapshot", zap.String("path", c.flagOutput), zap.String("datacenter", dc.Name))
	return nil
}
