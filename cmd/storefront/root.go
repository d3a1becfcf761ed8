package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command of the storefront CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront authentication service",
		Long: `Storefront authentication service: registration, password login
and the refresh-token session lifecycle. Configuration is read from the
environment.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
