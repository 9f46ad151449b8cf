package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rezonia/invoice-compliance/internal/decimal"
)

// Date and timestamp layouts fixed by the record format
const (
	DateLayout      = "02-01-2006"
	TimestampLayout = "2006-01-02T15:04:05-07:00"
)

type field struct {
	key   string
	value string
}

// Serialize renders the canonical field sequence of a record. Field order is
// part of the format: external verifiers rebuild the same string.
func Serialize(r *Record) string {
	var fields []field
	switch r.Kind {
	case KindCancellation:
		orig := r.Original
		if orig == nil {
			orig = &Reference{}
		}
		fields = []field{
			{"IDEmisorFacturaAnulada", r.Issuer.TaxID},
			{"NumSerieFacturaAnulada", joinNumber(orig.Series, orig.Number)},
			{"FechaExpedicionFacturaAnulada", formatDate(orig.IssueDate)},
			{"RegistroAnulado", orig.RecordID},
			{"CuotaTotal", decimal.FormatAmount(r.Tax)},
			{"ImporteTotal", decimal.FormatAmount(r.Total)},
			{"Huella", r.Previous.Hash},
			{"FechaHoraHusoGenRegistro", r.GeneratedAt.Format(TimestampLayout)},
		}
	default:
		fields = []field{
			{"IDEmisorFactura", r.Issuer.TaxID},
			{"NumSerieFactura", r.FullNumber()},
			{"FechaExpedicionFactura", formatDate(r.IssueDate)},
			{"TipoFactura", string(r.InvoiceType)},
			{"CuotaTotal", decimal.FormatAmount(r.Tax)},
			{"ImporteTotal", decimal.FormatAmount(r.Total)},
			{"Huella", r.Previous.Hash},
			{"FechaHoraHusoGenRegistro", r.GeneratedAt.Format(TimestampLayout)},
		}
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(strings.TrimSpace(f.value))
	}
	return b.String()
}

// HashOf returns the upper-case hex SHA-256 of a canonical string
func HashOf(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func joinNumber(series, number string) string {
	if series == "" {
		return number
	}
	return series + "-" + number
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
