package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears every flag on the command tree back to its default,
// since rootCmd is a package-level singleton reused across every test in
// this file and pflag does not reset a flag's bound variable on its own
// when that flag is simply absent from a later invocation's args.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes rootCmd with args and returns its captured stdout.
func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	require.NoError(t, err, "output: %s", out.String())
	return out.String()
}

func TestEndToEndCreateRestoreVerifyDiff(t *testing.T) {
	keyfilePath := filepath.Join(t.TempDir(), "key")
	runCLI(t, "keygen", "--keyfile", keyfilePath)

	backendDir := t.TempDir()
	backendURL := "file://" + backendDir
	cachePath := filepath.Join(t.TempDir(), "cache.sqlite")

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "nested.txt"), []byte("nested content"), 0o644))

	runCLI(t, "create", "snap1", srcDir,
		"--keyfile", keyfilePath, "--backend", backendURL, "--cache-path", cachePath)

	listOut := runCLI(t, "list", "--keyfile", keyfilePath, "--backend", backendURL)
	assert.Contains(t, listOut, "snap1")

	restoreDir := filepath.Join(t.TempDir(), "restored")
	runCLI(t, "restore", "snap1", restoreDir, "--keyfile", keyfilePath, "--backend", backendURL)

	restored, err := os.ReadFile(filepath.Join(restoreDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(restored))

	restoredNested, err := os.ReadFile(filepath.Join(restoreDir, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested content", string(restoredNested))

	verifyOut := runCLI(t, "verify", "snap1", "--keyfile", keyfilePath, "--backend", backendURL)
	assert.True(t, strings.HasPrefix(verifyOut, "0/"))

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "hello.txt"), []byte("hello world, changed"), 0o644))
	runCLI(t, "create", "snap2", srcDir,
		"--keyfile", keyfilePath, "--backend", backendURL, "--cache-path", cachePath)

	diffOut := runCLI(t, "diff", "snap1", "snap2", "--keyfile", keyfilePath, "--backend", backendURL)
	assert.Contains(t, diffOut, "Changed\thello.txt")
}

func TestKeygenWritesToStdoutWithoutKeyfile(t *testing.T) {
	out := runCLI(t, "keygen")
	assert.Len(t, strings.TrimSpace(out), 256)
}
