package record

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/rezonia/invoice-compliance/internal/decimal"
)

// Namespace of the record document root
const Namespace = "urn:rezonia:compliance:record:1.0"

// Root element name of every record document
const RootElement = "RegistroFactura"

// RenderDocument renders the record as the unsigned XML document the signer
// and the authority consume
func RenderDocument(r *Record) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(RootElement)
	root.CreateAttr("xmlns", Namespace)

	switch r.Kind {
	case KindCancellation:
		renderCancellation(root, r)
	default:
		renderRegistration(root, r)
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render record document: %w", err)
	}
	return out, nil
}

func renderRegistration(root *etree.Element, r *Record) {
	reg := root.CreateElement("RegistroAlta")
	reg.CreateAttr("Id", "R-"+r.ID)

	text(reg, "IDRegistro", r.ID)

	id := reg.CreateElement("IDFactura")
	text(id, "IDEmisorFactura", r.Issuer.TaxID)
	text(id, "NumSerieFactura", r.FullNumber())
	text(id, "FechaExpedicionFactura", formatDate(r.IssueDate))

	text(reg, "NombreRazonEmisor", r.Issuer.Name)
	text(reg, "TipoFactura", string(r.InvoiceType))
	if r.Description != "" {
		text(reg, "DescripcionOperacion", r.Description)
	}

	if r.Counterparty.Name != "" || r.Counterparty.TaxID != "" {
		dest := reg.CreateElement("Destinatario")
		text(dest, "NombreRazon", r.Counterparty.Name)
		if r.Counterparty.TaxID != "" {
			text(dest, "NIF", r.Counterparty.TaxID)
		}
		if r.Counterparty.Country != "" {
			text(dest, "CodigoPais", r.Counterparty.Country)
		}
	}

	breakdown := reg.CreateElement("Desglose")
	text(breakdown, "BaseImponible", decimal.FormatAmount(r.Base))
	text(breakdown, "CuotaRepercutida", decimal.FormatAmount(r.Tax))

	text(reg, "CuotaTotal", decimal.FormatAmount(r.Tax))
	text(reg, "ImporteTotal", decimal.FormatAmount(r.Total))

	renderChain(reg, r)
}

func renderCancellation(root *etree.Element, r *Record) {
	can := root.CreateElement("RegistroAnulacion")
	can.CreateAttr("Id", "R-"+r.ID)

	text(can, "IDRegistro", r.ID)

	orig := r.Original
	if orig == nil {
		orig = &Reference{}
	}
	id := can.CreateElement("IDFactura")
	text(id, "IDEmisorFacturaAnulada", r.Issuer.TaxID)
	text(id, "NumSerieFacturaAnulada", joinNumber(orig.Series, orig.Number))
	text(id, "FechaExpedicionFacturaAnulada", formatDate(orig.IssueDate))

	ref := can.CreateElement("RegistroAnulado")
	text(ref, "IDRegistro", orig.RecordID)
	text(ref, "Huella", orig.Hash)

	if r.Reason != "" {
		text(can, "MotivoAnulacion", r.Reason)
	}
	text(can, "CuotaTotal", decimal.FormatAmount(r.Tax))
	text(can, "ImporteTotal", decimal.FormatAmount(r.Total))

	renderChain(can, r)
}

func renderChain(parent *etree.Element, r *Record) {
	chain := parent.CreateElement("Encadenamiento")
	if r.Previous.IsFirst() {
		text(chain, "PrimerRegistro", "S")
	} else {
		prev := chain.CreateElement("RegistroAnterior")
		text(prev, "IDRegistro", r.Previous.RecordID)
		text(prev, "Huella", r.Previous.Hash)
	}

	text(parent, "FechaHoraHusoGenRegistro", r.GeneratedAt.Format(TimestampLayout))
	text(parent, "TipoHuella", "01") // SHA-256
	text(parent, "Huella", r.Hash)
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}
