package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/pkg/typevault"
)

const modulePath = "github.com/mesh-intelligence/typevault"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the typevault version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "typevault v%s\nmodule: %s\n", typevault.Version, modulePath)
			return nil
		},
	}
}
