package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/mindgate/internal/crypto"
)

var (
	keyFile string
	force   bool
)

var rootCmd = &cobra.Command{
	Use:   "genlogkey",
	Short: "Generate the master key used to pseudonymize identifiers in logs",
	Long: `Writes a random 32 byte hex key. Point logging.pseudonym_key_file at it
so log pseudonyms stay stable across restarts and replicas.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeKey(keyFile, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Log pseudonym key written to %s\n", keyFile)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&keyFile, "out", "o", "log.key", "key file to write")
	rootCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func writeKey(path string, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists, refusing to overwrite (use --force)", path)
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteString(hex.EncodeToString(crypto.GenerateKey()) + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
