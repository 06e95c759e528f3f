package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/j5272000/campus-imaotai/internal/auth"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate CAMPUSIMT_SESSION_HASH_KEY and CAMPUSIMT_SESSION_BLOCK_KEY values (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, block := auth.GenerateKeys()
			fmt.Fprintf(os.Stdout, "export CAMPUSIMT_SESSION_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(os.Stdout, "export CAMPUSIMT_SESSION_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))
			return nil
		},
	}
}
