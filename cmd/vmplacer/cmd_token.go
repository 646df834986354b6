package main

import (
	"github.com/spf13/cobra"

	"github.com/limiquantix/vmplacer/internal/auth"
)

type cmdToken struct {
	global *cmdGlobal

	flagSubject string
	flagScopes  []string
}

func (c *cmdToken) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "token"
	cmd.Short = "Issue an API token"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	cmd.Flags().StringVar(&c.flagSubject, "subject", "admin", "Token subject")
	cmd.Flags().StringSliceVar(&c.flagScopes, "scope", []string{auth.ScopeRead}, "Granted scopes")

	return cmd
}

func (c *cmdToken) Run(cmd *cobra.Command, args []string) error {
	token, err := auth.NewJWTManager(c.global.cfg.Auth).Generate(c.flagSubject, c.flagScopes)
	if err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), "json", token)
}
