package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-compliance/internal/signature/trust"
	"github.com/rezonia/invoice-compliance/internal/signature/xades"
)

var (
	caFile    string
	withTrust bool
	skipOCSP  bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify signed record documents",
	Long: `Verify the enveloped signature of signed record documents.

Verifies:
  - Document and signed-properties digests
  - Signature value against the embedded certificate
  - Signing certificate binding
  - Certificate chain and OCSP revocation (with --trust or --ca-file)

Examples:
  # Cryptographic checks only
  compliance verify record.xml

  # Verify the chain against a private CA, OCSP soft-fail
  compliance verify --ca-file issuing-ca.pem --skip-ocsp records/

  # JSON output
  compliance verify -f json record.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&caFile, "ca-file", "", "Trusted CA certificates (PEM); implies --trust")
	verifyCmd.Flags().BoolVar(&withTrust, "trust", false, "Check the certificate chain against system roots")
	verifyCmd.Flags().BoolVar(&skipOCSP, "skip-ocsp", false, "Treat OCSP failures as warnings")
}

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectVerifyFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to verify")
	}

	var opts []xades.VerifierOption
	if ts, err := trustStore(); err != nil {
		return err
	} else if ts != nil {
		opts = append(opts, xades.WithTrustStore(ts))
	}
	verifier := xades.NewVerifier(opts...)

	results := make([]*VerifyResult, 0, len(files))
	allValid := true
	for _, file := range files {
		printVerbose("Verifying: %s\n", file)

		result := verifyFile(verifier, file)
		results = append(results, result)
		if !result.Valid {
			allValid = false
		}
	}

	if outputFormat == "json" {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printVerifyResult(r)
		}
	}

	if !allValid {
		return fmt.Errorf("verification failed for some files")
	}
	return nil
}

// trustStore builds the store from flags first, then configuration
func trustStore() (*trust.TrustStore, error) {
	roots := firstString(caFile, cfg.Trust.RootsFile)
	if roots == "" && !withTrust {
		return nil, nil
	}

	var opts []trust.TrustStoreOption
	if skipOCSP || cfg.Trust.SoftFail {
		opts = append(opts, trust.WithSoftFail())
	}
	if cfg.Trust.OCSPTimeout > 0 {
		opts = append(opts, trust.WithOCSPTimeout(cfg.Trust.OCSPTimeout))
	}

	ts, err := trust.NewTrustStore(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trust store: %w", err)
	}
	if roots != "" {
		if err := ts.LoadPEMFile(roots); err != nil {
			return nil, fmt.Errorf("failed to load CA file: %w", err)
		}
	}
	return ts, nil
}

func verifyFile(verifier *xades.Verifier, filePath string) *VerifyResult {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result := &VerifyResult{
		File:     filePath,
		Errors:   []string{},
		Warnings: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to read file: %v", err))
		return result
	}

	verifyResult, err := verifier.Verify(ctx, data)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("verification error: %v", err))
		return result
	}

	result.Valid = verifyResult.Valid
	result.SignatureFound = verifyResult.SignatureFound
	result.DigestsValid = verifyResult.DocumentDigestValid && verifyResult.PropertiesDigestValid
	result.SignatureValid = verifyResult.SignatureValid
	result.CertChainValid = verifyResult.CertChainValid
	result.NotRevoked = verifyResult.NotRevoked
	result.SignedAt = verifyResult.SignedAt
	result.Errors = append(result.Errors, verifyResult.Errors...)
	result.Warnings = append(result.Warnings, verifyResult.Warnings...)

	if s := verifyResult.Signer; s != nil {
		result.Signer = &SignerOutput{
			Name:         s.Name,
			Organization: s.Organization,
			SerialNumber: s.SerialNumber,
			Issuer:       s.Issuer,
			ValidFrom:    &s.ValidFrom,
			ValidTo:      &s.ValidTo,
		}
	}
	return result
}

func printVerifyResult(r *VerifyResult) {
	statusText := "VALID"
	if !r.Valid {
		statusText = "INVALID"
	}
	fmt.Printf("%s %s: %s\n", statusIcon(r.Valid), r.File, statusText)

	if r.Signer != nil {
		fmt.Printf("  Signer: %s\n", r.Signer.Name)
		if r.Signer.Organization != "" {
			fmt.Printf("  Org:    %s\n", r.Signer.Organization)
		}
		if r.Signer.Issuer != "" {
			fmt.Printf("  Issuer: %s\n", r.Signer.Issuer)
		}
	}
	if r.SignedAt != nil {
		fmt.Printf("  Signed: %s\n", r.SignedAt.Format(time.RFC3339))
	}
	if r.SignatureFound {
		fmt.Printf("  Digests:     %s\n", statusIcon(r.DigestsValid))
		fmt.Printf("  Signature:   %s\n", statusIcon(r.SignatureValid))
		fmt.Printf("  Cert Chain:  %s\n", statusIcon(r.CertChainValid))
		fmt.Printf("  Not Revoked: %s\n", statusIcon(r.NotRevoked))
	}
	for _, e := range r.Errors {
		fmt.Printf("  ✗ %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
}

// collectVerifyFiles expands globs and directories into XML files
func collectVerifyFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(arg); err != nil {
				return nil, fmt.Errorf("file not found: %s", arg)
			}
			matches = []string{arg}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			if !info.IsDir() {
				files = append(files, match)
				continue
			}
			err = filepath.Walk(match, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isXMLFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return files, nil
}

func isXMLFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

// VerifyResult holds the result of verifying a single file
type VerifyResult struct {
	File           string        `json:"file"`
	Valid          bool          `json:"valid"`
	SignatureFound bool          `json:"signature_found"`
	DigestsValid   bool          `json:"digests_valid"`
	SignatureValid bool          `json:"signature_valid"`
	CertChainValid bool          `json:"cert_chain_valid"`
	NotRevoked     bool          `json:"not_revoked"`
	Signer         *SignerOutput `json:"signer,omitempty"`
	SignedAt       *time.Time    `json:"signed_at,omitempty"`
	Errors         []string      `json:"errors,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// SignerOutput holds signer info for output
type SignerOutput struct {
	Name         string     `json:"name,omitempty"`
	Organization string     `json:"organization,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Issuer       string     `json:"issuer,omitempty"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
}
