package commands

import (
	"fmt"

	"preserve/internal/logger"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives stored on the backend",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
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

	listings, err := be.ListArchives(cmd.Context())
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, l := range listings {
		name, err := keys.DecryptArchiveName(l.ID, l.EncryptedName)
		if err != nil {
			logger.Warn("skipping archive with undecryptable name", logger.ArchiveID(l.ID.String()), logger.Err(err))
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", l.ID, name)
	}
	return nil
}
