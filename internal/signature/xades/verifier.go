package xades

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/rezonia/invoice-compliance/internal/signature"
	"github.com/rezonia/invoice-compliance/internal/signature/trust"
)

var _ signature.Verifier = (*Verifier)(nil)

// Verifier checks signatures produced by Signer
type Verifier struct {
	trustStore *trust.TrustStore
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithTrustStore enables certificate chain and revocation checks
func WithTrustStore(ts *trust.TrustStore) VerifierOption {
	return func(v *Verifier) {
		v.trustStore = ts
	}
}

// NewVerifier creates a verifier. Without a trust store only the
// cryptographic checks run.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks both reference digests, the signature value and the
// certificate binding. A document without a signature returns
// ErrNoSignature; every other failure is reported in the result.
func (v *Verifier) Verify(ctx context.Context, data []byte) (*signature.VerificationResult, error) {
	result := signature.NewVerificationResult()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		result.AddError(err.Error())
		return result, signature.ErrMalformedDocument(err)
	}
	root := doc.Root()
	if root == nil {
		result.AddError("empty XML document")
		return result, signature.ErrMalformedDocument(fmt.Errorf("document has no root element"))
	}

	sig := findSignature(root)
	if sig == nil {
		result.AddError("no Signature element found in document")
		return result, signature.ErrNoSignature()
	}
	result.SignatureFound = true

	signedInfo := child(sig, "SignedInfo")
	if signedInfo == nil {
		result.AddError("signature has no SignedInfo")
		return result, nil
	}

	certs, err := keyInfoCertificates(sig)
	if err != nil {
		result.AddError(err.Error())
		return result, nil
	}
	cert := certs[0]
	result.SetSigner(cert)

	props := v.checkReferences(result, root, sig, signedInfo)
	v.checkSignatureValue(result, sig, signedInfo, cert)

	if props != nil {
		checkCertificateBinding(result, props, cert)
		if t := signingTime(props); t != nil {
			result.SignedAt = t
		}
	}

	v.checkTrust(ctx, result, cert, certs[1:])

	result.ComputeValidity()
	return result, nil
}

// checkReferences recomputes every reference digest and returns the
// SignedProperties element the typed reference resolved to
func (v *Verifier) checkReferences(result *signature.VerificationResult, root, sig, signedInfo *etree.Element) *etree.Element {
	var sawDocument bool
	var props *etree.Element

	for _, ref := range signedInfo.ChildElements() {
		if ref.Tag != "Reference" {
			continue
		}
		uri := ref.SelectAttrValue("URI", "")
		if err := checkReferenceAlgorithms(ref, uri); err != nil {
			result.AddError(err.Error())
			continue
		}
		expected := strings.TrimSpace(textOf(child(ref, "DigestValue")))

		var actual string
		var err error
		switch {
		case uri == "":
			sawDocument = true
			actual, err = documentDigest(root)
		case strings.HasPrefix(uri, "#"):
			if ref.SelectAttrValue("Type", "") != TypeSignedProperties {
				result.AddError(fmt.Sprintf("unexpected reference %q", uri))
				continue
			}
			target := findByID(sig, strings.TrimPrefix(uri, "#"))
			if target == nil || target.Tag != "SignedProperties" {
				result.AddError(fmt.Sprintf("reference %q does not resolve to SignedProperties", uri))
				continue
			}
			if props != nil {
				result.AddError("more than one SignedProperties reference")
				continue
			}
			props = target
			actual, err = digest(target)
		default:
			result.AddError(fmt.Sprintf("unsupported reference URI %q", uri))
			continue
		}
		if err != nil {
			result.AddError(err.Error())
			continue
		}

		if actual != expected {
			result.AddError(signature.ErrDigestMismatch(uri).Error())
			continue
		}
		if uri == "" {
			result.DocumentDigestValid = true
		} else {
			result.PropertiesDigestValid = true
		}
	}

	if !sawDocument {
		result.AddError("no reference covers the document")
	}
	if props == nil {
		result.AddError("no reference covers the signed properties")
	}
	return props
}

// checkReferenceAlgorithms accepts only the transforms and digest method
// the signer emits
func checkReferenceAlgorithms(ref *etree.Element, uri string) error {
	want := []string{canonicalAlgorithm()}
	if uri == "" {
		want = []string{AlgorithmEnveloped, canonicalAlgorithm()}
	}

	var got []string
	if transforms := child(ref, "Transforms"); transforms != nil {
		for _, t := range transforms.ChildElements() {
			if t.Tag == "Transform" {
				got = append(got, t.SelectAttrValue("Algorithm", ""))
			}
		}
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("reference %q: unsupported transforms %v", uri, got)
	}

	method := child(ref, "DigestMethod")
	if method == nil || method.SelectAttrValue("Algorithm", "") != AlgorithmSHA256 {
		return fmt.Errorf("reference %q: unsupported digest method", uri)
	}
	return nil
}

func (v *Verifier) checkSignatureValue(result *signature.VerificationResult, sig, signedInfo *etree.Element, cert *x509.Certificate) {
	c14n := child(signedInfo, "CanonicalizationMethod")
	if c14n == nil || c14n.SelectAttrValue("Algorithm", "") != canonicalAlgorithm() {
		result.AddError("unsupported canonicalization method")
		return
	}

	method := child(signedInfo, "SignatureMethod")
	if method == nil || method.SelectAttrValue("Algorithm", "") != AlgorithmRSASHA256 {
		result.AddError("unsupported signature method")
		return
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		result.AddError(signature.ErrUnsupportedKey(fmt.Sprintf("%T", cert.PublicKey)).Error())
		return
	}

	value, err := base64.StdEncoding.DecodeString(compact(textOf(child(sig, "SignatureValue"))))
	if err != nil {
		result.AddError(fmt.Sprintf("failed to decode signature value: %v", err))
		return
	}

	canon, err := canonicalize(signedInfo)
	if err != nil {
		result.AddError(err.Error())
		return
	}
	hashed := sha256.Sum256(canon)

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], value); err != nil {
		result.AddError(signature.ErrInvalidSignature(err).Error())
		return
	}
	result.SignatureValid = true
}

func checkCertificateBinding(result *signature.VerificationResult, props *etree.Element, cert *x509.Certificate) {
	certEl := path(props, "SignedSignatureProperties", "SigningCertificate", "Cert")
	if certEl == nil {
		result.AddError("signed properties carry no signing certificate")
		return
	}

	sum := sha256.Sum256(cert.Raw)
	expected := base64.StdEncoding.EncodeToString(sum[:])
	if strings.TrimSpace(textOf(path(certEl, "CertDigest", "DigestValue"))) != expected {
		result.AddError("signing certificate digest does not match KeyInfo certificate")
		return
	}
	if strings.TrimSpace(textOf(path(certEl, "IssuerSerial", "X509SerialNumber"))) != cert.SerialNumber.String() {
		result.AddError("signing certificate serial does not match KeyInfo certificate")
		return
	}
	result.CertificateMatches = true
}

func (v *Verifier) checkTrust(ctx context.Context, result *signature.VerificationResult, cert *x509.Certificate, intermediates []*x509.Certificate) {
	if v.trustStore == nil {
		result.CertChainValid = true
		result.NotRevoked = true
		result.AddWarning("certificate chain not checked: no trust store configured")
		return
	}

	chain, err := v.trustStore.VerifyChain(cert, intermediates)
	if err != nil {
		result.AddError(signature.ErrChainInvalid(err).Error())
		return
	}
	result.CertChain = chain
	result.CertChainValid = true

	if len(chain) < 2 {
		result.NotRevoked = true
		result.AddWarning("revocation check skipped: no issuer certificate in chain")
		return
	}

	rev, err := v.trustStore.Revocation(ctx, cert, chain[1])
	switch {
	case err != nil && v.trustStore.IsSoftFail():
		result.AddWarning(fmt.Sprintf("OCSP check: %v (soft-fail enabled)", err))
		result.NotRevoked = true
	case err != nil:
		result.AddError(signature.ErrOCSPUnavailable(err).Error())
	case rev.Revoked:
		result.AddError(signature.ErrCertRevoked(fmt.Sprintf("%s (revoked %s)", cert.Subject.String(), rev.RevokedAt.UTC().Format(time.RFC3339))).Error())
	default:
		result.NotRevoked = true
	}
}

// keyInfoCertificates returns the signer certificate followed by any chain
// certificates carried in KeyInfo
func keyInfoCertificates(sig *etree.Element) ([]*x509.Certificate, error) {
	data := path(sig, "KeyInfo", "X509Data")
	if data == nil {
		return nil, fmt.Errorf("no X509Data found in Signature")
	}

	var certs []*x509.Certificate
	for _, el := range data.ChildElements() {
		if el.Tag != "X509Certificate" {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(compact(el.Text()))
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no X509Certificate found in Signature")
	}
	return certs, nil
}

func signingTime(props *etree.Element) *time.Time {
	el := path(props, "SignedSignatureProperties", "SigningTime")
	if el == nil {
		return nil
	}
	t, err := time.Parse(signingTimeLayout, strings.TrimSpace(el.Text()))
	if err != nil {
		return nil
	}
	return &t
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

// compact strips the whitespace some producers wrap base64 content with
func compact(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r != ' ' && r != '\n' && r != '\r' && r != '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
