package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/paths"
	"github.com/mesh-intelligence/typevault/internal/tree"
	"github.com/mesh-intelligence/typevault/pkg/typevault"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

type copyFlags struct {
	merge        bool
	suggest      []string
	shallow      bool
	expandSoft   bool
	withoutAttrs bool
}

func (a *app) newCopyCmd() *cobra.Command {
	var f copyFlags
	cmd := &cobra.Command{
		Use:   "copy <src-container> <path> <dst-container> <dst-path>",
		Short: "Copy an object tree between containers",
		Long: `Copy copies the object at path, and everything reachable from it, into
the destination container at dst-path. Missing groups along dst-path are
created.

With --merge, committed datatypes that already exist in the destination
are shared instead of copied. The default comes from merge.committed_types
in config.yaml. --suggest names destination paths to check first; paths
from merge.suggested_paths are added to them.

Example:
  typevault copy default /samples archive /2024/samples --merge`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCopy(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.merge, "merge", false, "share committed types already in the destination")
	cmd.Flags().StringArrayVar(&f.suggest, "suggest", nil, "destination path of a committed type to check first")
	cmd.Flags().BoolVar(&f.shallow, "shallow", false, "copy only the immediate members of a group")
	cmd.Flags().BoolVar(&f.expandSoft, "expand-soft-links", false, "copy the targets of soft links")
	cmd.Flags().BoolVar(&f.withoutAttrs, "without-attrs", false, "drop attributes")
	return cmd
}

func (a *app) runCopy(cmd *cobra.Command, args []string, f copyFlags) error {
	cfg, err := a.config()
	if err != nil {
		return classify(err)
	}
	opts := typevault.CopyOptions{
		MergeCommittedTypes: cfg.Merge.CommittedTypes,
		SuggestedPaths:      slices.Concat(f.suggest, cfg.Merge.SuggestedPaths),
		Shallow:             f.shallow,
		ExpandSoftLinks:     f.expandSoft,
		WithoutAttributes:   f.withoutAttrs,
		Logger:              a.log.Named("copy"),
	}
	if cmd.Flags().Changed("merge") {
		opts.MergeCommittedTypes = f.merge
	}

	srcName, srcPath, dstName, dstPath := args[0], args[1], args[2], args[3]
	dir, name := tree.Split(dstPath)
	if name == "" {
		return userError(fmt.Errorf("copy: destination %q has no name", dstPath))
	}

	return a.withContainer(srcName, func(src types.Container) error {
		copyInto := func(dst types.Container) error {
			obj, err := a.lib.Lookup(src, srcPath)
			if err != nil {
				return err
			}
			parent, err := a.lib.CreateGroup(dst, dir)
			if err != nil {
				return err
			}
			addr, err := a.lib.CopySubtree(src, obj, dst, parent, name, opts)
			if err != nil {
				return err
			}
			a.log.Debug("copy finished", zap.String("src", srcPath), zap.String("dst", dstPath))
			fmt.Fprintf(cmd.OutOrStdout(), "copied %s to %s %s\n", tree.Clean(srcPath), tree.Clean(dstPath), addr)
			return nil
		}

		if paths.ContainerPath(a.dataDir, srcName) == paths.ContainerPath(a.dataDir, dstName) {
			return copyInto(src)
		}
		dst, err := a.openContainer(dstName)
		if err != nil {
			return fmt.Errorf("open container: %w", err)
		}
		return errors.Join(copyInto(dst), a.lib.CloseContainer(dst))
	})
}
