package cmd

import (
	"tablevault/bootstrap"
	"tablevault/codec"

	"github.com/spf13/cobra"
)

// generatedKeys is the keygen output.
type generatedKeys struct {
	EncryptionKey string `json:"encryption_key"`
	JWTSecret     string `json:"jwt_secret,omitempty"`
}

func newKeygenCmd() *cobra.Command {
	var withJWT bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a field encryption key",
		Long: `Generate a random 256-bit field encryption key, hex encoded.

Store it as TABLEVAULT_ENCRYPTION_KEY or in the configured secret provider.
Losing the key makes every stored table unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := codec.GenerateKey()
			if err != nil {
				return err
			}
			out := generatedKeys{EncryptionKey: key}
			if withJWT {
				out.JWTSecret, err = bootstrap.GenerateSecurePassword(48)
				if err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(w, out)
			}
			if quiet {
				infoColor.Fprintln(w, out.EncryptionKey)
				return nil
			}
			successColor.Fprintln(w, "Encryption key:")
			infoColor.Fprintln(w, out.EncryptionKey)
			if out.JWTSecret != "" {
				successColor.Fprintln(w, "JWT secret:")
				infoColor.Fprintln(w, out.JWTSecret)
			}
			warningColor.Fprintln(w, "Keep these values secret. They are not stored anywhere.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withJWT, "jwt", false, "Also generate a JWT signing secret")
	return cmd
}
