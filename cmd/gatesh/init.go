package main

import (
	"github.com/spf13/cobra"

	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/wizard"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up gatesh for first use",
		Long: `Run the interactive setup wizard.

The wizard picks your AI provider, stores your API key securely, and
checks that the sandbox shell is available.`,
		Example: `  gatesh init
  gatesh init --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			return wizard.New(out, force).Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing credentials")

	return cmd
}
