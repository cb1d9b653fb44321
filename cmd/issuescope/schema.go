package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/issuescope/engine/domain"
)

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema import rows are validated against",
		Args:  cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), domain.ImportSchema())
			return err
		},
	}
}
