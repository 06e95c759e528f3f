package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/j5272000/campus-imaotai/internal/auth"
	"github.com/j5272000/campus-imaotai/internal/config"
	"github.com/j5272000/campus-imaotai/internal/db"
	"github.com/j5272000/campus-imaotai/internal/migrate"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage control-surface operators",
	}
	cmd.AddCommand(newOperatorAddCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an operator (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			hashKey, blockKey, err := sessionKeys(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			store := auth.NewStore(d, hashKey, blockKey)
			if err := store.CreateOperator(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created operator %q\n", username)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func sessionKeys(cfg config.Config) (hashKey, blockKey []byte, err error) {
	hashKey, err = base64.StdEncoding.DecodeString(cfg.SessionHashKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode session hash key: %w", err)
	}
	blockKey, err = base64.StdEncoding.DecodeString(cfg.SessionBlockKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode session block key: %w", err)
	}
	return hashKey, blockKey, nil
}
