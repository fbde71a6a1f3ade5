package commands

import (
	"fmt"
	"os"

	"preserve/pkg/keystore"

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new master key",
	Long: `Generate a new random master key and write it to the path given by
--keyfile, or to stdout if --keyfile is not set.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	ks, _, err := keystore.Generate()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	if keyfile == "" {
		return ks.Save(cmd.OutOrStdout())
	}

	f, err := os.OpenFile(keyfile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create keyfile: %w", err)
	}
	defer f.Close()

	if err := ks.Save(f); err != nil {
		return fmt.Errorf("write keyfile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Keyfile written to %s\n", keyfile)
	return nil
}
