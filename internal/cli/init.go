package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/typevault/internal/paths"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and the default container",
		Long: "Create the configuration and data directories, write config.yaml if it\n" +
			"is missing, and create the container named by --container.",
		Args: cobra.NoArgs,
		RunE: a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	cfg, err := a.config()
	if err != nil {
		return classify(err)
	}

	if err := os.MkdirAll(a.configDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create config directory: %w", err))
	}
	written, err := writeConfigIfMissing(filepath.Join(a.configDir, paths.ConfigFileName), cfg)
	if err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}
	if written {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Join(a.configDir, paths.ConfigFileName))
	}
	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create data directory: %w", err))
	}

	if cfg.Backend == types.BackendSQLite {
		err := a.withContainer("", func(c types.Container) error {
			fmt.Fprintf(cmd.OutOrStdout(), "container %s (%s)\n",
				paths.ContainerPath(a.dataDir, a.flags.container), c.ID())
			return nil
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "typevault initialized")
	return nil
}
