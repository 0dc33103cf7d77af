// Package cli implements the typevault command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/typevault/internal/paths"
	"github.com/mesh-intelligence/typevault/pkg/typevault"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	container string
	jsonMode  bool
	verbose   bool
}

// app is the state one invocation shares between its commands.
type app struct {
	flags   rootFlags
	cfg     *viper.Viper
	log     *zap.Logger
	lib     *typevault.Library

	configDir string
	dataDir   string
}

// NewRootCmd creates the top-level "typevault" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "typevault",
		Short: "Commit, compare, convert and copy datatypes",
		Long: "typevault stores named datatypes in containers, compares and converts\n" +
			"between types, and copies object trees between containers.",
		Version: typevault.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.StringVarP(&a.flags.container, "container", "c", paths.DefaultContainer, "container name or file")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		a.newInitCmd(),
		a.newCommitCmd(),
		a.newLsCmd(),
		a.newShowCmd(),
		a.newCompareCmd(),
		a.newCopyCmd(),
		a.newConversionsCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "typevault:", err)
		os.Exit(ExitCode(err))
	}
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	log, err := newLogger(a.flags.verbose)
	if err != nil {
		return sysError(fmt.Errorf("create logger: %w", err))
	}
	a.log = log

	if a.configDir, err = paths.ResolveConfigDir(a.flags.configDir); err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	if a.cfg, err = loadConfig(a.configDir); err != nil {
		return sysError(err)
	}
	if a.dataDir, err = paths.ResolveDataDir(a.flags.dataDir, a.cfg.GetString(cfgKeyDataDir)); err != nil {
		return sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	log.Debug("configuration loaded", zap.String("config_dir", a.configDir),
		zap.String("data_dir", a.dataDir), zap.String("backend", a.cfg.GetString(cfgKeyBackend)))

	a.lib = typevault.New(typevault.WithLogger(log))
	return nil
}

func (a *app) teardown() error {
	if a.lib == nil {
		return nil
	}
	err := a.lib.Shutdown()
	_ = a.log.Sync()
	if err != nil {
		return sysError(fmt.Errorf("shutdown: %w", err))
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// userErrors are the conditions caused by arguments rather than the system.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrInvalid,
	types.ErrConversionUnavailable,
	types.ErrImmutable,
	types.ErrLinkExists,
	types.ErrNotGroup,
	types.ErrNotDatatype,
	types.ErrAlreadyCommitted,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	os.ErrNotExist,
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	// Cobra's own errors (unknown flags, argument counts) are usage errors.
	return exitUserError
}

// classify wraps err with the exit code its cause calls for.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *exitError
	if errors.As(err, &e) {
		return err
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return userError(err)
		}
	}
	return sysError(err)
}
