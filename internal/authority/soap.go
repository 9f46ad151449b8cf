package authority

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// SOAP namespaces and action
const (
	NamespaceSOAP       = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceSubmission = "urn:rezonia:compliance:submission:1.0"

	soapAction = "urn:rezonia:compliance:submission:1.0#RegFactuSistemaFacturacion"
)

// Response states reported in EstadoEnvio
const (
	stateAccepted          = "Correcto"
	stateAcceptedWithError = "AceptadoConErrores"
	stateRejected          = "Incorrecto"
)

// buildEnvelope wraps the signed record document in the submission
// envelope. The record element is embedded as parsed, signature included.
func buildEnvelope(req SubmitRequest) ([]byte, error) {
	signed := etree.NewDocument()
	if err := signed.ReadFromBytes(req.SignedDocument); err != nil {
		return nil, fmt.Errorf("signed document is not XML: %w", err)
	}
	if signed.Root() == nil {
		return nil, errors.New("signed document has no root element")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", NamespaceSOAP)
	env.CreateAttr("xmlns:sum", NamespaceSubmission)
	env.CreateElement("soapenv:Header")

	body := env.CreateElement("soapenv:Body")
	reg := body.CreateElement("sum:RegFactuSistemaFacturacion")

	header := reg.CreateElement("sum:Cabecera")
	header.CreateElement("sum:IDEmisor").SetText(req.IssuerTaxID)
	header.CreateElement("sum:IDRegistro").SetText(req.RecordID)
	if req.RecordKind != "" {
		header.CreateElement("sum:TipoRegistro").SetText(req.RecordKind)
	}

	reg.AddChild(signed.Root().Copy())

	return doc.WriteToBytes()
}

type fault struct {
	code    string
	message string
	server  bool
}

type response struct {
	accepted     bool
	confirmation string
	errorCode    string
	errorText    string
	fault        *fault
}

func isSOAPFault(body []byte) bool {
	return bytes.Contains(body, []byte("Fault>"))
}

// parseResponse reads a submission response or SOAP fault
func parseResponse(body []byte) (*response, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("invalid response XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, errors.New("response is not a SOAP envelope")
	}
	soapBody := firstChild(root, "Body")
	if soapBody == nil {
		return nil, errors.New("response has no SOAP body")
	}

	if f := firstChild(soapBody, "Fault"); f != nil {
		code := strings.TrimSpace(childText(f, "faultcode"))
		return &response{fault: &fault{
			code:    code,
			message: strings.TrimSpace(childText(f, "faultstring")),
			server:  strings.HasSuffix(code, "Server"),
		}}, nil
	}

	answer := firstChild(soapBody, "RespuestaRegFactuSistemaFacturacion")
	if answer == nil {
		return nil, errors.New("response has no submission answer")
	}

	state := strings.TrimSpace(childText(answer, "EstadoEnvio"))
	line := firstChild(answer, "RespuestaLinea")

	r := &response{confirmation: strings.TrimSpace(childText(answer, "CSV"))}
	if line != nil {
		r.errorCode = strings.TrimSpace(childText(line, "CodigoErrorRegistro"))
		r.errorText = strings.TrimSpace(childText(line, "DescripcionErrorRegistro"))
	}

	switch state {
	case stateAccepted, stateAcceptedWithError:
		if r.confirmation == "" {
			return nil, errors.New("accepted response without confirmation code")
		}
		r.accepted = true
	case stateRejected:
		if r.errorText == "" {
			r.errorText = "record rejected without reason"
		}
	default:
		return nil, fmt.Errorf("unknown submission state %q", state)
	}
	return r, nil
}

func firstChild(el *etree.Element, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

func childText(el *etree.Element, local string) string {
	if c := firstChild(el, local); c != nil {
		return c.Text()
	}
	return ""
}
