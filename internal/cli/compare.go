package cli

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/internal/typespec"
)

func (a *app) newCompareCmd() *cobra.Command {
	var superset, explain bool
	cmd := &cobra.Command{
		Use:   "compare <a.yaml> <b.yaml>",
		Short: "Compare two datatype definitions",
		Long: `Compare prints -1, 0 or 1 as the first type orders before, equal to or
after the second. With --superset the second type may carry compound or
enum members the first lacks.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := typespec.Load(args[0])
			if err != nil {
				return classify(err)
			}
			y, err := typespec.Load(args[1])
			if err != nil {
				return classify(err)
			}

			result := a.lib.CompareTypes(x, y, superset)
			if a.flags.jsonMode {
				return printJSON(cmd, map[string]any{"a": x.String(), "b": y.String(), "superset": superset, "result": result})
			}
			if explain {
				cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true}
				fmt.Fprintf(cmd.OutOrStdout(), "a: %s\nb: %s\n", cfg.Sdump(x), cfg.Sdump(y))
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&superset, "superset", false, "allow the second type to hold extra members")
	cmd.Flags().BoolVar(&explain, "explain", false, "dump both decoded descriptors")
	return cmd
}
