package commands

import (
	"fmt"

	"preserve/pkg/differ"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <NAME1> <NAME2>",
	Short: "Show added, deleted, and changed paths between two archives",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	nameA, nameB := args[0], args[1]

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

	d := differ.New(keys, be)
	changes, err := d.Diff(cmd.Context(), nameA, nameB)
	if err != nil {
		return fmt.Errorf("diff archives: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, c := range changes {
		fmt.Fprintf(out, "%s\t%s\n", c.Kind, c.Path)
	}
	return nil
}
