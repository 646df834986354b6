package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdVersion struct{}

func (c *cmdVersion) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "version"
	cmd.Short = "Show version information"
	cmd.Args = cobra.NoArgs
	// No config is needed to print the version.
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	cmd.RunE = c.Run

	return cmd
}

func (c *cmdVersion) Run(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "vmplacer")
	fmt.Fprintln(out, "Version:", version)
	fmt.Fprintln(out, "Commit:", commit)
	fmt.Fprintln(out, "Build Date:", buildDate)
	return nil
}
