package cli

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/internal/typespec"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

func (a *app) newShowCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Display a committed datatype",
		Long: `Show prints the definition of the named datatype at path in the same
YAML form commit reads. With --raw it dumps the decoded descriptor instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runShow(cmd, tree.Clean(args[0]), raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "dump the decoded descriptor")
	return cmd
}

func (a *app) runShow(cmd *cobra.Command, p string, raw bool) error {
	return a.withContainer("", func(c types.Container) error {
		dt, err := a.lib.OpenTypeByPath(c, p)
		if err != nil {
			return err
		}
		defer a.lib.CloseType(dt)

		h, err := c.ReadObjectHeader(dt.Location().Addr)
		if err != nil {
			return err
		}

		switch {
		case a.flags.jsonMode:
			return printJSON(cmd, map[string]any{
				"path":       p,
				"addr":       dt.Location().Addr.String(),
				"ref_count":  h.RefCount,
				"type":       dt.String(),
				"definition": typespec.Describe(dt),
			})
		case raw:
			fmt.Fprint(cmd.OutOrStdout(), spew.Sdump(dt))
			return nil
		}

		def, err := typespec.Marshal(dt)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s %s refs=%d size=%d\n", p, dt.Location().Addr, h.RefCount, dt.Size())
		fmt.Fprint(out, string(def))
		return nil
	})
}
