// Package commands implements preserve's CLI surface: keygen, create,
// restore, list, verify, and diff, each a thin cobra wrapper around the
// core packages under pkg/.
package commands

import (
	"preserve/internal/config"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Global persistent flags shared by every subcommand that touches a
// keystore or a backend.
var (
	cfgFile     string
	keyfile     string
	backendURL  string
	logLevel    string
	logFormat   string
	cachePath   string
	parallelism int
)

var rootCmd = &cobra.Command{
	Use:   "preserve",
	Short: "Encrypted, content-addressed, deduplicating backup tool",
	Long: `preserve archives a directory tree into an encrypted, content-addressed,
deduplicating backup stored under a pluggable backend, and restores it
byte-for-byte (contents, mode, mtime, symlinks, hardlinks) from there.

Use "preserve [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. It is
// called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/preserve/config.yaml)")
	flags.StringVar(&keyfile, "keyfile", "", "path to the keystore file")
	flags.StringVar(&backendURL, "backend", "", "backend URL (file://<path> or s3://<bucket>/<prefix>)")
	flags.StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	flags.StringVar(&logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&cachePath, "cache-path", "", "mtime-cache database path")
	flags.IntVar(&parallelism, "parallelism", 0, "concurrent block uploads per file (default: number of CPUs)")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("preserve %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}

// loadConfig assembles a Config from the default sources (file, env,
// defaults) and then overlays every persistent flag the caller actually
// set, giving flags the highest precedence of the four.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("keyfile") {
		cfg.Keyfile = keyfile
	}
	if flags.Changed("backend") {
		cfg.Backend = backendURL
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("cache-path") {
		cfg.CachePath = cachePath
	}
	if flags.Changed("parallelism") {
		cfg.Parallelism = parallelism
	}

	return cfg, nil
}
