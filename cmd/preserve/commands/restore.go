package commands

import (
	"fmt"

	"preserve/internal/logger"
	"preserve/pkg/blockstore"
	"preserve/pkg/restorer"

	"github.com/spf13/cobra"
)

var (
	restoreHardDereference bool
	restoreDebugDecrypt    bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <NAME> [PATH]",
	Short: "Restore an archive to a directory tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRestore,
}

func init() {
	flags := restoreCmd.Flags()
	flags.BoolVar(&restoreHardDereference, "hard-dereference", false, "write each hardlinked entry as an independent file instead of re-linking")
	flags.BoolVar(&restoreDebugDecrypt, "debug-decrypt", false, "print the decrypted (still LZMA-compressed) archive metadata and exit without extracting")
}

func runRestore(cmd *cobra.Command, args []string) error {
	name := args[0]
	target := "."
	if len(args) == 2 {
		target = args[1]
	}

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
	bs := blockstore.New(keys, be)

	r := restorer.New(keys, bs, be, restorer.Options{
		DereferenceHardlinks: cfg.DereferenceHardlinks || restoreHardDereference,
	})

	if restoreDebugDecrypt {
		raw, err := r.DebugDecrypt(cmd.Context(), name)
		if err != nil {
			return fmt.Errorf("debug-decrypt archive: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}

	if err := r.Restore(cmd.Context(), name, target); err != nil {
		return fmt.Errorf("restore archive: %w", err)
	}

	logger.Info("archive restored", logger.ArchiveName(name), logger.Path(target))
	return nil
}
