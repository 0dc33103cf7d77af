package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/internal/typespec"
)

func (a *app) newConversionsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "conversions",
		Short: "List conversion functions or resolve one conversion",
		Long: `Conversions lists the registered soft conversion functions and the
cached conversion paths. With --from and --to it resolves the path between
two datatype definitions and reports the function chosen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" || to != "" {
				return a.resolveConversion(cmd, from, to)
			}
			return a.listConversions(cmd)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source type definition (YAML file)")
	cmd.Flags().StringVar(&to, "to", "", "destination type definition (YAML file)")
	return cmd
}

func (a *app) listConversions(cmd *cobra.Command) error {
	soft, paths := a.lib.SoftConversions(), a.lib.ConversionPaths()
	if a.flags.jsonMode {
		return printJSON(cmd, map[string]any{"soft": soft, "paths": paths})
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOFT\tSRC\tDST")
	for _, s := range soft {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Src, s.Dst)
	}
	fmt.Fprintln(w, "\nPATH\tSRC\tDST\tHARD\tNOOP")
	for _, p := range paths {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", p.Name, p.Src, p.Dst, p.Hard, p.Noop)
	}
	return w.Flush()
}

func (a *app) resolveConversion(cmd *cobra.Command, from, to string) error {
	if from == "" || to == "" {
		return userError(fmt.Errorf("conversions: --from and --to go together"))
	}
	src, err := typespec.Load(from)
	if err != nil {
		return classify(err)
	}
	dst, err := typespec.Load(to)
	if err != nil {
		return classify(err)
	}

	p, err := a.lib.FindConversionPath(src, dst)
	if err != nil {
		return classify(err)
	}
	if a.flags.jsonMode {
		return printJSON(cmd, map[string]any{
			"name": p.Name(), "src": src.String(), "dst": dst.String(),
			"hard": p.IsHard(), "noop": p.IsNoop(), "background": p.NeedsBackground(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %s (hard=%t noop=%t)\n",
		src, dst, p.Name(), p.IsHard(), p.IsNoop())
	return nil
}
