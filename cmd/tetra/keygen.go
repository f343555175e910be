package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tetra-web/tetra/internal/config"
)

func keygenCmd() *cobra.Command {
	var write bool
	var dir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a fresh server secret",
		Long: `Generate a 32-byte server secret, base64url encoded.

With --write the secret is stored in tetra.json (creating the file if
needed). Otherwise it is printed to stdout for use via TETRA_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			encoded := base64.RawURLEncoding.EncodeToString(secret)

			if !write {
				fmt.Println(encoded)
				return nil
			}

			path := filepath.Join(dir, config.ConfigFileName)
			cfg, err := config.LoadFile(path)
			if err != nil {
				cfg = config.New()
			}
			cfg.Secret = encoded
			if err := cfg.SaveTo(path); err != nil {
				return err
			}
			fmt.Printf("Secret written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the secret into tetra.json")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Project directory")
	return cmd
}
