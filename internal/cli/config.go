package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/typevault/internal/paths"
	"github.com/mesh-intelligence/typevault/pkg/sqlite"
	"github.com/mesh-intelligence/typevault/pkg/typevault"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyBackend        = "backend"
	cfgKeyDataDir        = "data_dir"
	cfgKeyMergeCommitted = "merge.committed_types"
	cfgKeySuggestedPaths = "merge.suggested_paths"
)

// loadConfig reads config.yaml from configDir. A missing file is not an
// error; the defaults apply.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyMergeCommitted, true)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// config decodes and validates the loaded configuration.
func (a *app) config() (types.Config, error) {
	var cfg types.Config
	if err := a.cfg.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir = a.dataDir
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// writeConfigIfMissing creates config.yaml from cfg if the file does not
// exist. An existing file is left alone.
func writeConfigIfMissing(path string, cfg types.Config) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// openContainer opens the container named by name, or by --container when
// name is empty.
func (a *app) openContainer(name string) (types.Container, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = a.flags.container
	}
	if cfg.Backend == types.BackendMemory {
		return typevault.NewMemoryContainer(), nil
	}
	return sqlite.Open(paths.ContainerPath(cfg.DataDir, name))
}
