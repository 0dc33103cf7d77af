// Package paths resolves where typevault keeps its configuration and its
// container files.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "typevault"

// CWD-relative directory names used when nothing overrides them.
const (
	DefaultConfigDirName = ".typevault"
	DefaultDataDirName   = ".typevault-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "TYPEVAULT_CONFIG_DIR"
	EnvDataDir   = "TYPEVAULT_DATA_DIR"
)

// ConfigFileName is the name of the configuration file in the config
// directory.
const ConfigFileName = "config.yaml"

// DefaultContainer names the container used when a command is not given one.
const DefaultContainer = "default"

// ContainerExt is the file extension of SQLite containers.
const ContainerExt = ".tvdb"

// platformDir can be overridden in tests.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform configuration directory:
// $XDG_CONFIG_HOME/typevault or ~/.config/typevault on Linux, and
// os.UserConfigDir()/typevault elsewhere.
func DefaultConfigDir() (string, error) {
	return platformPath("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory:
// $XDG_DATA_HOME/typevault or ~/.local/share/typevault on Linux, and the
// configuration directory elsewhere.
func DefaultDataDir() (string, error) {
	return platformPath("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformPath(xdgVar, homeRel string) (string, error) {
	if platformDir.goos != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, appName), nil
}

// ResolveConfigDir returns the configuration directory: flag, then
// TYPEVAULT_CONFIG_DIR, then DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory: flag, then
// TYPEVAULT_DATA_DIR, then the data_dir value of config.yaml, then
// DefaultDataDirName under the working directory.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, os.Getenv(EnvDataDir), configValue} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// ContainerPath returns the file a container is stored in. A name that
// already looks like a path is used as is; anything else is a container in
// dataDir.
func ContainerPath(dataDir, name string) string {
	if name == "" {
		name = DefaultContainer
	}
	if strings.ContainsRune(name, os.PathSeparator) || filepath.Ext(name) == ContainerExt {
		return name
	}
	return filepath.Join(dataDir, name+ContainerExt)
}
