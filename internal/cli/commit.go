package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/internal/typespec"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

func (a *app) newCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <type.yaml> <path>",
		Short: "Commit a datatype defined in YAML",
		Long: `Commit parses a datatype definition and stores it as a named type at
path in the container. Missing groups along the path are created.

Example:
  typevault commit point.yaml /geometry/point`,
		Args: cobra.ExactArgs(2),
		RunE: a.runCommit,
	}
}

func (a *app) runCommit(cmd *cobra.Command, args []string) error {
	dt, err := typespec.Load(args[0])
	if err != nil {
		return classify(err)
	}
	dir, name := tree.Split(args[1])
	if name == "" {
		return userError(fmt.Errorf("commit: path %q has no name", args[1]))
	}

	return a.withContainer("", func(c types.Container) error {
		parent, err := a.lib.CreateGroup(c, dir)
		if err != nil {
			return err
		}
		if err := a.lib.CommitType(c, parent, name, dt); err != nil {
			return err
		}
		loc := dt.Location()
		fmt.Fprintf(cmd.OutOrStdout(), "committed %s at %s %s\n", dt, tree.Clean(args[1]), loc.Addr)
		return a.lib.CloseType(dt)
	})
}
