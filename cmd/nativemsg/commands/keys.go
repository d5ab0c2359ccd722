package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"nativemsg/internal/crypto"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA key pair and store it securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			kp, err := wire.GenerateKeyPair(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Key pair created.\nFingerprint: %s\n", crypto.Fingerprint(kp.Public))
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print key pair fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			kp, err := wire.KeyPair(passphrase, false)
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(kp.Public))
			return nil
		},
	}
}
