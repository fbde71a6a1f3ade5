package commands

import (
	"fmt"

	"preserve/internal/logger"
	"preserve/pkg/blockstore"
	"preserve/pkg/verifier"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <NAME>",
	Short: "Authenticate every block an archive references",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	name := args[0]

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

	v := verifier.New(keys, bs, be)
	result, err := v.Verify(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("verify archive: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d/%d blocks corrupted\n", len(result.CorruptedBlocks), result.TotalBlocks)
	for _, id := range result.CorruptedBlocks {
		fmt.Fprintf(out, "corrupt: %s\n", id)
	}
	logger.Info("verify complete", logger.ArchiveName(name), logger.BlocksTotal(result.TotalBlocks))
	return nil
}
