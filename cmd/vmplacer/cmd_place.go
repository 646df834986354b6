package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/limiquantix/vmplacer/internal/groups"
	"github.com/limiquantix/vmplacer/internal/services/planner"
)

type cmdPlace struct {
	global *cmdGlobal

	flagSpec    string
	flagRefresh bool
	flagWait    bool
	flagOutput  string
}

func (c *cmdPlace) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "place --spec <file>"
	cmd.Short = "Place the groups of a cluster spec"
	cmd.Long = `Place the groups of a cluster spec on the current inventory and print the
placement run. With --wait the placed VMs are then powered on and awaited.`
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	cmd.Flags().StringVarP(&c.flagSpec, "spec", "s", "", "Cluster spec file (YAML or JSON)")
	cmd.Flags().BoolVar(&c.flagRefresh, "refresh", false, "Bypass the snapshot cache")
	cmd.Flags().BoolVar(&c.flagWait, "wait", false, "Wait until the placed VMs are ready")
	cmd.Flags().StringVarP(&c.flagOutput, "output", "o", "json", "Output format (json, yaml)")
	_ = cmd.MarkFlagRequired("spec")

	return cmd
}

func (c *cmdPlace) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	spec, err := groups.LoadClusterSpec(c.flagSpec)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, c.global.cfg, c.global.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			c.global.logger.Warn("Failed to close backends", zap.Error(err))
		}
	}()

	run, err := a.planner.Plan(ctx, planner.Request{Spec: spec, Refresh: c.flagRefresh})
	if err != nil {
		return err
	}
	if err := printValue(cmd.OutOrStdout(), c.flagOutput, run); err != nil {
		return err
	}
	if !run.Result.Succeeded() {
		return fmt.Errorf("%d group(s) could not be placed", run.Result.FailedCount)
	}

	if !c.flagWait {
		return nil
	}
	report, err := a.planner.WaitReady(ctx, run.ID)
	if report != nil {
		if perr := printValue(cmd.OutOrStdout(), c.flagOutput, report); perr != nil {
			return perr
		}
	}
	return err
}

// printValue writes v to w in the requested format.
func printValue(w io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
