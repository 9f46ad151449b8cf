package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-compliance/internal/model"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant compliance settings",
}

var tenantSetCmd = &cobra.Command{
	Use:   "set <settings.json>",
	Short: "Store tenant settings from a JSON file",
	Long: `Store tenant settings read from a JSON file.

The plain-text "certificate_password" and "authority_password" fields are
encrypted with the configured secrets key before they are stored. The chain
head is never taken from the file.

Example settings.json:
  {
    "tenant_id": "tenant-1",
    "enabled": true,
    "environment": "sandbox",
    "auto_submit": true,
    "issuer_tax_id": "A00000000",
    "issuer_name": "ABC Company",
    "certificate_path": "/etc/compliance/tenant-1.p12",
    "certificate_password": "...",
    "authority_username": "filer",
    "authority_password": "..."
  }`,
	Args: cobra.ExactArgs(1),
	RunE: runTenantSet,
}

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Manage invoice snapshots",
}

var invoicePutCmd = &cobra.Command{
	Use:   "put <invoice.json>...",
	Short: "Store issued invoice snapshots from JSON files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInvoicePut,
}

func init() {
	tenantCmd.AddCommand(tenantSetCmd)
	invoiceCmd.AddCommand(invoicePutCmd)
	rootCmd.AddCommand(tenantCmd, invoiceCmd)
}

// settingsFile is the on-disk form of tenant settings with clear secrets
type settingsFile struct {
	model.TenantSettings
	CertificatePassword string `json:"certificate_password"`
	AuthorityPassword   string `json:"authority_password"`
}

func runTenantSet(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	var in settingsFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("invalid settings file: %w", err)
	}
	if in.TenantID == "" {
		return fmt.Errorf("invalid settings file: tenant_id is required")
	}

	settings := in.TenantSettings
	settings.ChainHash, settings.ChainRecordID = "", ""
	settings.EncryptedCertificatePassword = in.CertificatePassword
	settings.EncryptedAuthorityPassword = in.AuthorityPassword
	if cfg.Secrets.Key != "" {
		box, err := secretBox()
		if err != nil {
			return err
		}
		if settings.EncryptedCertificatePassword, err = box.Encrypt(in.CertificatePassword); err != nil {
			return err
		}
		if settings.EncryptedAuthorityPassword, err = box.Encrypt(in.AuthorityPassword); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("no secrets key configured: storing tenant secrets as plain text")
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.SaveSettings(ctx, &settings); err != nil {
		return err
	}
	fmt.Printf("✓ settings stored for %s\n", settings.TenantID)
	return nil
}

func runInvoicePut(cmd *cobra.Command, args []string) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, file := range args {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		var inv model.Invoice
		if err := json.Unmarshal(data, &inv); err != nil {
			return fmt.Errorf("invalid invoice %s: %w", file, err)
		}
		inv.Compliance = model.ComplianceState{}
		inv.Cancellation = nil
		if err := inv.Validate(); err != nil {
			return fmt.Errorf("invalid invoice %s: %w", file, err)
		}

		// an issued snapshot is immutable once its record is committed
		existing, err := st.GetInvoice(ctx, inv.TenantID, inv.ID)
		switch {
		case err == nil && existing.Compliance.Status != "":
			return fmt.Errorf("invoice %s/%s already entered the compliance pipeline", inv.TenantID, inv.ID)
		case err != nil && !errors.Is(err, model.ErrNotFound):
			return fmt.Errorf("load invoice %s: %w", file, err)
		}
		if err := st.SaveInvoice(ctx, &inv); err != nil {
			return fmt.Errorf("store invoice %s: %w", file, err)
		}
		fmt.Printf("✓ %s/%s stored\n", inv.TenantID, inv.ID)
	}
	return nil
}
