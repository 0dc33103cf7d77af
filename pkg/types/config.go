package types

import "errors"

// Config holds backend selection and copy defaults for a typevault store.
type Config struct {
	Backend string      `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string      `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Merge   MergeConfig `json:"merge" yaml:"merge" mapstructure:"merge"`
}

// MergeConfig holds the defaults applied to subtree copies.
type MergeConfig struct {
	CommittedTypes bool     `json:"committed_types" yaml:"committed_types" mapstructure:"committed_types"`
	SuggestedPaths []string `json:"suggested_paths,omitempty" yaml:"suggested_paths,omitempty" mapstructure:"suggested_paths"`
}

// Supported backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrDataDirEmpty   = errors.New("data directory must not be empty")
)

var knownBackends = map[string]bool{
	BackendMemory: true,
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	return nil
}
