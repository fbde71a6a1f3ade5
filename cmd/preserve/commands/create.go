package commands

import (
	"fmt"

	"preserve/internal/logger"
	"preserve/pkg/blockstore"
	"preserve/pkg/builder"
	"preserve/pkg/mtimecache"

	"github.com/spf13/cobra"
)

var (
	createDereference   bool
	createOneFileSystem bool
	createExclude       []string
)

var createCmd = &cobra.Command{
	Use:   "create <NAME> <PATH>",
	Short: "Archive a directory tree",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreate,
}

func init() {
	flags := createCmd.Flags()
	flags.BoolVar(&createDereference, "dereference", false, "follow symlinks and store target content instead of the link")
	flags.BoolVar(&createOneFileSystem, "one-file-system", false, "skip entries on a different device than the root")
	flags.StringArrayVar(&createExclude, "exclude", nil, "absolute path to exclude (repeatable)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	keys, err := openKeyStore(cfg)
	if err != nil {
		return err
	}
	be, err := openBackend(cfg)
	if err != nil {
		return err
	}

	cache, err := mtimecache.Open(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("open mtime cache: %w", err)
	}
	defer cache.Close()

	bs := blockstore.New(keys, be)

	exclude := cfg.ExcludePaths
	if cmd.Flags().Changed("exclude") {
		exclude = createExclude
	}

	b := builder.New(keys, bs, be, cache, builder.Options{
		DereferenceSymlinks:   cfg.DereferenceSymlinks || createDereference,
		OneFileSystem:         cfg.OneFileSystem || createOneFileSystem,
		ExcludePaths:          exclude,
		Parallelism:           cfg.Parallelism,
		ProgressIntervalBytes: cfg.ProgressIntervalBytes,
		CachePath:             cfg.CachePath,
	})

	id, err := b.Create(cmd.Context(), path, name)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	logger.Info("archive created", logger.ArchiveName(name), logger.ArchiveID(id.String()))
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", id)
	return nil
}
