package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

// keygenCmd generates a fresh encryption key for the credential store.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new credential encryption key",
	Long: `Generate a random 32-byte key, base64 encoded, suitable for the
encryption.keys setting. To rotate keys, append the new key to the end of
the comma-separated list and keep the old ones so existing records stay
readable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		cmd.Println(base64.StdEncoding.EncodeToString(key))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(keygenCmd)
}
