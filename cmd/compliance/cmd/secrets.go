package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-compliance/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the key that protects tenant secrets",
}

var secretsKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new base64 secretbox key",
	Long: `Print a new random key for COMPLIANCE_SECRETS_KEY.

Tenant certificate and authority passwords are stored encrypted with it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secrets.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

var secretsEncryptCmd = &cobra.Command{
	Use:   "encrypt <plaintext>",
	Short: "Encrypt a secret with the configured key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		box, err := secretBox()
		if err != nil {
			return err
		}
		sealed, err := box.Encrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Println(sealed)
		return nil
	},
}

func init() {
	secretsCmd.AddCommand(secretsKeygenCmd, secretsEncryptCmd)
	rootCmd.AddCommand(secretsCmd)
}

func secretBox() (*secrets.SecretBox, error) {
	if cfg.Secrets.Key == "" {
		return nil, fmt.Errorf("no secrets key configured (set COMPLIANCE_SECRETS_KEY)")
	}
	return secrets.NewSecretBoxFromString(cfg.Secrets.Key)
}
