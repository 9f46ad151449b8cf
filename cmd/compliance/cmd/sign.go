package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-compliance/internal/signature/xades"
)

var (
	bundleFile     string
	bundlePassword string
	signOutput     string
)

var signCmd = &cobra.Command{
	Use:   "sign <file.xml>",
	Short: "Sign an XML document with a PKCS#12 bundle",
	Long: `Embed an enveloped XAdES signature into an XML document.

This is offline tooling: it neither builds records nor touches any chain.
The bundle password may also come from COMPLIANCE_BUNDLE_PASSWORD.

Examples:
  compliance sign record.xml --bundle tenant.p12 -o record.signed.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVar(&bundleFile, "bundle", "", "PKCS#12 certificate bundle")
	signCmd.Flags().StringVar(&bundlePassword, "password", "", "Bundle password (env: COMPLIANCE_BUNDLE_PASSWORD)")
	signCmd.Flags().StringVarP(&signOutput, "output", "o", "", "Output file (default: stdout)")
	_ = signCmd.MarkFlagRequired("bundle")
}

func runSign(cmd *cobra.Command, args []string) error {
	password := firstString(bundlePassword, os.Getenv("COMPLIANCE_BUNDLE_PASSWORD"))

	signer, err := xades.NewSignerFromFile(bundleFile, password)
	if err != nil {
		return err
	}

	document, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	signed, err := signer.Sign(ctx, document)
	if err != nil {
		return err
	}

	if signOutput == "" {
		_, err = os.Stdout.Write(signed)
		return err
	}
	if err := os.WriteFile(signOutput, signed, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	printVerbose("Signed as %s\n", signer.Bundle().Certificate.Subject.CommonName)
	fmt.Printf("✓ %s signed → %s\n", args[0], signOutput)
	return nil
}
