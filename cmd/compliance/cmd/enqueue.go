package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-compliance/internal/compliance"
	"github.com/rezonia/invoice-compliance/internal/queue"
)

var (
	enqueueCancel bool
	cancelReason  string
	runTimeout    time.Duration
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <tenant> <invoice>",
	Short: "Schedule a compliance run for an invoice",
	Long: `Schedule a compliance run for an invoice.

With Redis configured the job is pushed onto the shared queue and picked up
by a worker. Without Redis there is no queue outside this process, so the
run happens inline and its result is printed.

Examples:
  # Register an invoice
  compliance enqueue tenant-1 inv-0001

  # Cancel a registered invoice
  compliance enqueue tenant-1 inv-0001 --cancel --reason "issued in error"`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().BoolVar(&enqueueCancel, "cancel", false, "Schedule a cancellation instead of a registration")
	enqueueCmd.Flags().StringVar(&cancelReason, "reason", "", "Cancellation reason")
	enqueueCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "Timeout of an inline run")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	tenantID, invoiceID := args[0], args[1]

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Redis.Addr != "" {
		var job queue.Job
		if enqueueCancel {
			job, err = a.service.EnqueueCancel(cmd.Context(), tenantID, invoiceID, cancelReason)
		} else {
			job, err = a.service.Enqueue(cmd.Context(), tenantID, invoiceID)
		}
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(job)
		}
		fmt.Printf("✓ job %s scheduled (%s %s/%s, runs at %s)\n",
			job.ID, job.Kind, job.TenantID, job.InvoiceID, job.RunAt.Format(time.RFC3339))
		return nil
	}

	printVerbose("No redis configured: running inline\n")
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var res *compliance.Result
	if enqueueCancel {
		res, err = a.service.Cancel(ctx, tenantID, invoiceID, cancelReason)
	} else {
		res, err = a.service.Process(ctx, tenantID, invoiceID)
	}
	if err != nil {
		return err
	}
	return printResult(res)
}

// RunOutput is the printable form of an inline run
type RunOutput struct {
	TenantID       string `json:"tenant_id"`
	InvoiceID      string `json:"invoice_id"`
	RecordKind     string `json:"record_kind"`
	Status         string `json:"status"`
	RecordID       string `json:"record_id,omitempty"`
	Hash           string `json:"hash,omitempty"`
	VerificationID string `json:"verification_id,omitempty"`
	Signed         bool   `json:"signed"`
	Submitted      bool   `json:"submitted"`
	CircuitOpen    bool   `json:"circuit_open"`
	Skipped        bool   `json:"skipped"`
	Error          string `json:"error,omitempty"`
}

func printResult(res *compliance.Result) error {
	out := RunOutput{
		TenantID:       res.TenantID,
		InvoiceID:      res.InvoiceID,
		RecordKind:     string(res.Kind),
		Status:         string(res.Status),
		RecordID:       res.RecordID,
		Hash:           res.Hash,
		VerificationID: res.VerificationID,
		Signed:         res.Signed,
		Submitted:      res.Submitted,
		CircuitOpen:    res.CircuitOpen,
		Skipped:        res.Skipped,
	}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	if outputFormat == "json" {
		if err := printJSON(out); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s %s/%s: %s\n", statusIcon(res.Error == nil), out.TenantID, out.InvoiceID, displayStatus(out))
		if out.RecordID != "" {
			fmt.Printf("  Record: %s (%s)\n", out.RecordID, out.RecordKind)
			fmt.Printf("  Hash:   %s\n", out.Hash)
		}
		if out.VerificationID != "" {
			fmt.Printf("  Verification: %s\n", out.VerificationID)
		}
		if out.CircuitOpen {
			fmt.Println("  ⚠ authority circuit open")
		}
		if out.Error != "" {
			fmt.Printf("  ✗ %s\n", out.Error)
		}
	}
	if res.Error != nil {
		return fmt.Errorf("compliance run failed")
	}
	return nil
}

func displayStatus(out RunOutput) string {
	switch {
	case out.Skipped && out.Status == "":
		return "SKIPPED"
	case out.Skipped:
		return out.Status + " (skipped)"
	case out.Status == "":
		return "-"
	}
	return out.Status
}
