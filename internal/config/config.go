// Package config loads the process-wide options the core observes: the
// keyfile path, backend URL, dereference flags, exclude paths, mtime-cache
// database path, worker-pool size, progress-log intervals, and logging
// level/format.
//
// Values are assembled from up to three sources, in increasing order of
// precedence: built-in defaults, a YAML file, and PRESERVE_* environment
// variables. Callers (cmd/preserve's subcommands) apply CLI flags as a
// fourth and final override after Load returns, since flags are per-command
// and per-invocation rather than something this package can read on its own.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoggingConfig controls the structured logger's verbosity and encoding.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format selects the log encoding: "text" (colorized when the output is
	// a terminal) or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// Config holds every option the core observes, regardless of which
// subcommand is running. Individual commands read only the fields they
// need; keygen, for instance, never looks at Backend.
type Config struct {
	// Keyfile is the path to the keystore bundle written by keygen and read
	// by every other subcommand. Empty means keygen writes the key to
	// stdout, and is an error the command itself reports for every other
	// subcommand.
	Keyfile string `mapstructure:"keyfile" yaml:"keyfile,omitempty"`

	// Backend is the backend URL (file:// or s3://) that create, restore,
	// list, verify, and diff all operate against.
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`

	// DereferenceSymlinks makes create store a symlink's target content
	// instead of the symlink itself.
	DereferenceSymlinks bool `mapstructure:"dereference_symlinks" yaml:"dereference_symlinks"`

	// DereferenceHardlinks makes restore write an independent copy of each
	// hardlinked file instead of re-linking them.
	DereferenceHardlinks bool `mapstructure:"dereference_hardlinks" yaml:"dereference_hardlinks"`

	// OneFileSystem skips entries on a different device than the archive
	// root during create.
	OneFileSystem bool `mapstructure:"one_file_system" yaml:"one_file_system"`

	// ExcludePaths lists absolute paths create skips entirely.
	ExcludePaths []string `mapstructure:"exclude_paths" yaml:"exclude_paths,omitempty"`

	// CachePath is the mtime-cache database file create consults to skip
	// re-reading files whose (path, mtime, size) haven't changed.
	CachePath string `mapstructure:"cache_path" validate:"required" yaml:"cache_path"`

	// Parallelism bounds the number of concurrent block uploads per file
	// during create.
	Parallelism int `mapstructure:"parallelism" validate:"required,gt=0" yaml:"parallelism"`

	// ProgressIntervalBytes is how many bytes of file content create reads
	// between progress log lines.
	ProgressIntervalBytes uint64 `mapstructure:"progress_interval_bytes" validate:"required,gt=0" yaml:"progress_interval_bytes"`

	// ProgressIntervalBlocks is loaded and validated but not passed to
	// verify, which logs a progress line every 32 blocks regardless of it.
	ProgressIntervalBlocks int `mapstructure:"progress_interval_blocks" validate:"required,gt=0" yaml:"progress_interval_blocks"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// Load assembles a Config from defaults, an optional YAML file, and
// PRESERVE_* environment variables, in that order of increasing precedence.
//
// configPath may be empty, in which case only the default search location
// ($XDG_CONFIG_HOME/preserve/config.yaml) is consulted; a missing file at
// either location is not an error, since every field has a usable default.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	registerDefaults(v)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViper wires environment variable support and config file search.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PRESERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// registerDefaults pre-registers every key via SetDefault before the config
// file is read. Viper's AutomaticEnv only checks the environment for keys it
// already knows about; without this, PRESERVE_LOGGING_LEVEL (a nested key)
// would silently be ignored unless the YAML file happened to set
// "logging.level" itself.
func registerDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("keyfile", d.Keyfile)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("dereference_symlinks", d.DereferenceSymlinks)
	v.SetDefault("dereference_hardlinks", d.DereferenceHardlinks)
	v.SetDefault("one_file_system", d.OneFileSystem)
	v.SetDefault("exclude_paths", d.ExcludePaths)
	v.SetDefault("cache_path", d.CachePath)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("progress_interval_bytes", d.ProgressIntervalBytes)
	v.SetDefault("progress_interval_blocks", d.ProgressIntervalBlocks)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// readConfigFile reads the config file if present. A missing file is not an
// error; every field already has a default or environment value to fall
// back on.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

var validate = validator.New()

// Validate checks cfg's struct tags and returns the validator's error
// describing every failing field.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/preserve, falling back to
// ~/.config/preserve, or "." if the home directory can't be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "preserve")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "preserve")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
