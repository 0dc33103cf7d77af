package cli

import (
	"fmt"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/internal/dtype"
	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// lsEntry is one row of ls output.
type lsEntry struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Addr     string `json:"addr,omitempty"`
	RefCount int    `json:"ref_count,omitempty"`
	Type     string `json:"type,omitempty"`
	Target   string `json:"target,omitempty"`
}

func (a *app) newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List the objects under a group",
		Long: `Ls lists every object reachable from path, the root group by default,
with its kind, address and reference count.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runLs,
	}
}

func (a *app) runLs(cmd *cobra.Command, args []string) error {
	p := "/"
	if len(args) == 1 {
		p = args[0]
	}

	entries := []lsEntry{}
	err := a.withContainer("", func(c types.Container) error {
		addr, err := a.lib.Lookup(c, p)
		if err != nil {
			return err
		}
		return listGroup(c, tree.Clean(p), addr, map[types.Address]bool{addr: true}, &entries)
	})
	if err != nil {
		return err
	}

	if a.flags.jsonMode {
		return printJSON(cmd, entries)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tADDR\tREFS\tPATH\tTYPE")
	for _, e := range entries {
		if e.Kind == "link" {
			fmt.Fprintf(w, "link\t-\t-\t%s -> %s\t\n", e.Path, e.Target)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.Kind, e.Addr, e.RefCount, e.Path, e.Type)
	}
	return w.Flush()
}

// listGroup appends the links of group, and recursively those of its
// member groups, in name order. Groups reached twice are listed once.
func listGroup(c types.Container, p string, group types.Address, seen map[types.Address]bool, out *[]lsEntry) error {
	return c.IterateLinks(group, func(l types.Link) error {
		child := path.Join(p, l.Name)
		if l.Kind == types.LinkSoft {
			*out = append(*out, lsEntry{Path: child, Kind: "link", Target: l.Target})
			return nil
		}
		h, err := c.ReadObjectHeader(l.Addr)
		if err != nil {
			return fmt.Errorf("%s: %w", child, err)
		}
		e := lsEntry{Path: child, Kind: h.Kind.String(), Addr: l.Addr.String(), RefCount: h.RefCount}
		if h.Type != nil {
			if t, err := dtype.Decode(h.Type.Encoded); err == nil {
				e.Type = t.String()
			}
		}
		*out = append(*out, e)

		if h.Kind == types.ObjectGroup && !seen[l.Addr] {
			seen[l.Addr] = true
			return listGroup(c, child, l.Addr, seen, out)
		}
		return nil
	})
}
