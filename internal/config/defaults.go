package config

import "runtime"

const (
	defaultCachePath              = "./cache.sqlite"
	defaultLogLevel               = "INFO"
	defaultLogFormat              = "text"
	defaultProgressIntervalBytes  = 64 << 20 // 64 MiB per create progress line
	defaultProgressIntervalBlocks = 32        // blocks per verify progress line
)

// DefaultConfig returns a Config populated entirely with built-in defaults,
// before any file or environment override is applied.
func DefaultConfig() *Config {
	return &Config{
		CachePath:              defaultCachePath,
		Parallelism:            runtime.NumCPU(),
		ProgressIntervalBytes:  defaultProgressIntervalBytes,
		ProgressIntervalBlocks: defaultProgressIntervalBlocks,
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// ApplyDefaults fills in any zero-valued field left unset after loading
// from file and environment. Explicit values, including explicit falsy
// ones such as an empty ExcludePaths list, are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.CachePath == "" {
		cfg.CachePath = defaultCachePath
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.NumCPU()
	}
	if cfg.ProgressIntervalBytes == 0 {
		cfg.ProgressIntervalBytes = defaultProgressIntervalBytes
	}
	if cfg.ProgressIntervalBlocks == 0 {
		cfg.ProgressIntervalBlocks = defaultProgressIntervalBlocks
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
}
