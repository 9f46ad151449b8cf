package xades_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/signature"
	"github.com/rezonia/invoice-compliance/internal/signature/trust"
	"github.com/rezonia/invoice-compliance/internal/signature/xades"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

const bundlePassword = "s3cret"

func recordDocument(t *testing.T, number string) []byte {
	t.Helper()
	res, err := record.NewBuilder().BuildRegistration(record.Input{
		Invoice: &model.Invoice{
			ID:        "inv-" + number,
			TenantID:  "tenant-1",
			Series:    "A",
			Number:    number,
			IssueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Type:      model.InvoiceTypeFull,
			Currency:  "EUR",
			Base:      decimal.RequireFromString("826.45"),
			Tax:       decimal.RequireFromString("173.55"),
			Total:     decimal.RequireFromString("1000.00"),
			Counterparty: model.Party{
				Name:  "XYZ Corp",
				TaxID: "B12345678",
			},
		},
		Issuer:      record.Issuer{TaxID: "A00000000", Name: "ABC Company"},
		GeneratedAt: time.Date(2026, 3, 2, 9, 30, 15, 0, time.UTC),
	})
	require.NoError(t, err)
	return res.Document
}

func newSigner(t *testing.T, opts ...xades.Option) (*xades.Signer, *testutil.Identity) {
	t.Helper()
	ca := testutil.NewCA(t, "Test Issuing CA")
	leaf := ca.Issue(t, "ABC Company")

	bundle, err := xades.LoadBundle(leaf.PKCS12(t, bundlePassword, ca.Cert), bundlePassword)
	require.NoError(t, err)

	s, err := xades.NewSigner(bundle, opts...)
	require.NoError(t, err)
	return s, ca
}

func signatureCode(t *testing.T, err error) string {
	t.Helper()
	var se *signature.SignatureError
	require.True(t, errors.As(err, &se), "expected SignatureError, got %v", err)
	return se.Code
}

func TestSignAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Second))
	s, ca := newSigner(t, xades.WithClock(clock))
	ctx := context.Background()

	signed, err := s.Sign(ctx, recordDocument(t, "0001"))
	require.NoError(t, err)

	v := xades.NewVerifier(xades.WithTrustStore(trust.NewEmptyTrustStore(trust.WithCertificates(ca.Cert))))
	result, err := v.Verify(ctx, signed)
	require.NoError(t, err)

	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.True(t, result.DocumentDigestValid)
	assert.True(t, result.PropertiesDigestValid)
	assert.True(t, result.SignatureValid)
	assert.True(t, result.CertificateMatches)
	assert.True(t, result.CertChainValid)
	require.NotNil(t, result.Signer)
	assert.Equal(t, "ABC Company", result.Signer.Name)
	require.NotNil(t, result.SignedAt)
	assert.True(t, clock.Now().Equal(*result.SignedAt))
}

func TestSign_TwoDocumentsIndependentlyValid(t *testing.T) {
	s, _ := newSigner(t)
	v := xades.NewVerifier()
	ctx := context.Background()

	for _, n := range []string{"0001", "0002"} {
		signed, err := s.Sign(ctx, recordDocument(t, n))
		require.NoError(t, err)

		result, err := v.Verify(ctx, signed)
		require.NoError(t, err)
		assert.True(t, result.Valid, "document %s: %v", n, result.Errors)
	}
}

func TestSign_SameDocumentTwice(t *testing.T) {
	s, _ := newSigner(t)
	v := xades.NewVerifier()
	ctx := context.Background()
	unsigned := recordDocument(t, "0006")

	first, err := s.Sign(ctx, unsigned)
	require.NoError(t, err)
	second, err := s.Sign(ctx, unsigned)
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(second), "each signature gets its own ids")

	for i, signed := range [][]byte{first, second} {
		result, err := v.Verify(ctx, signed)
		require.NoError(t, err)
		assert.True(t, result.Valid, "signature %d: %v", i, result.Errors)

		tampered := strings.Replace(string(signed), "826.45", "826.46", 1)
		require.NotEqual(t, string(signed), tampered)
		result, err = v.Verify(ctx, []byte(tampered))
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.False(t, result.DocumentDigestValid)
		assert.Contains(t, strings.Join(result.Errors, "; "), signature.ErrCodeDigestMismatch)
	}
}

func TestSign_DeterministicWithFixedClockAndIDs(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Second))
	s, _ := newSigner(t, xades.WithClock(clock), xades.WithIDGenerator(func() string { return "sig-fixed" }))
	ctx := context.Background()
	unsigned := recordDocument(t, "0007")

	first, err := s.Sign(ctx, unsigned)
	require.NoError(t, err)
	second, err := s.Sign(ctx, unsigned)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `Id="Signature-sig-fixed"`)

	result, err := xades.NewVerifier().Verify(ctx, first)
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestSign_LayoutPreserved(t *testing.T) {
	s, _ := newSigner(t)
	unsigned := recordDocument(t, "0003")

	signed, err := s.Sign(context.Background(), unsigned)
	require.NoError(t, err)

	// signature is the first child of the root
	openRoot := `<RegistroFactura xmlns="` + record.Namespace + `">`
	idx := bytes.Index(signed, []byte(openRoot))
	require.GreaterOrEqual(t, idx, 0)
	assert.True(t, bytes.HasPrefix(signed[idx+len(openRoot):], []byte("<ds:Signature")))

	// everything after the signature is untouched
	_, origBody, ok := bytes.Cut(unsigned, []byte(openRoot))
	require.True(t, ok)
	_, signedBody, ok := bytes.Cut(signed, []byte("</ds:Signature>"))
	require.True(t, ok)
	assert.Equal(t, string(origBody), string(signedBody))
}

func TestSign_AlreadySigned(t *testing.T) {
	s, _ := newSigner(t)
	signed, err := s.Sign(context.Background(), recordDocument(t, "0004"))
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), signed)
	assert.Equal(t, signature.ErrCodeAlreadySigned, signatureCode(t, err))
}

func TestSign_MalformedDocument(t *testing.T) {
	s, _ := newSigner(t)

	_, err := s.Sign(context.Background(), []byte("<RegistroFactura><unclosed>"))
	assert.Equal(t, signature.ErrCodeMalformedDocument, signatureCode(t, err))
}

func TestVerify_Tampered(t *testing.T) {
	s, _ := newSigner(t)
	v := xades.NewVerifier()
	ctx := context.Background()

	signed, err := s.Sign(ctx, recordDocument(t, "0005"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		edit  func(string) string
		check func(t *testing.T, r *signature.VerificationResult)
	}{
		{
			name: "amount changed",
			edit: func(s string) string {
				return strings.Replace(s, "<ImporteTotal>1000.00</ImporteTotal>", "<ImporteTotal>9000.00</ImporteTotal>", 1)
			},
			check: func(t *testing.T, r *signature.VerificationResult) {
				assert.False(t, r.DocumentDigestValid)
				assert.True(t, r.SignatureValid)
			},
		},
		{
			name: "signing time changed",
			edit: func(s string) string {
				start := strings.Index(s, "<xades:SigningTime>") + len("<xades:SigningTime>")
				return s[:start] + "1999-01-01T00:00:00Z" + s[start+len("1999-01-01T00:00:00Z"):]
			},
			check: func(t *testing.T, r *signature.VerificationResult) {
				assert.False(t, r.PropertiesDigestValid)
				assert.True(t, r.DocumentDigestValid)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := tt.edit(string(signed))
			require.NotEqual(t, string(signed), tampered)

			result, err := v.Verify(ctx, []byte(tampered))
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.NotEmpty(t, result.Errors)
			tt.check(t, result)
		})
	}
}

func TestVerify_RejectsUnexpectedAlgorithmsAndReferences(t *testing.T) {
	s, _ := newSigner(t)
	v := xades.NewVerifier()
	ctx := context.Background()

	signed, err := s.Sign(ctx, recordDocument(t, "0008"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		old     string
		new     string
		message string
	}{
		{
			name:    "inclusive canonicalization",
			old:     `Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"`,
			new:     `Algorithm="http://www.w3.org/TR/2001/REC-xml-c14n-20010315"`,
			message: "unsupported canonicalization method",
		},
		{
			name:    "xpath transform",
			old:     xades.AlgorithmEnveloped,
			new:     "http://www.w3.org/TR/1999/REC-xpath-19991116",
			message: "unsupported transforms",
		},
		{
			name:    "sha1 digest",
			old:     xades.AlgorithmSHA256,
			new:     "http://www.w3.org/2000/09/xmldsig#sha1",
			message: "unsupported digest method",
		},
		{
			name:    "properties reference points elsewhere",
			old:     `-SignedProperties"`,
			new:     `-SignatureValue"`,
			message: "does not resolve to SignedProperties",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := strings.Replace(string(signed), tt.old, tt.new, 1)
			require.NotEqual(t, string(signed), tampered)

			result, err := v.Verify(ctx, []byte(tampered))
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Contains(t, strings.Join(result.Errors, "; "), tt.message)
		})
	}
}

func TestVerify_UntrustedChain(t *testing.T) {
	s, _ := newSigner(t)
	ctx := context.Background()

	signed, err := s.Sign(ctx, recordDocument(t, "0006"))
	require.NoError(t, err)

	other := testutil.NewCA(t, "Unrelated CA")
	v := xades.NewVerifier(xades.WithTrustStore(trust.NewEmptyTrustStore(trust.WithCertificates(other.Cert))))
	result, err := v.Verify(ctx, signed)
	require.NoError(t, err)

	assert.True(t, result.SignatureValid)
	assert.False(t, result.CertChainValid)
	assert.False(t, result.Valid)
}

func TestVerify_Unsigned(t *testing.T) {
	v := xades.NewVerifier()

	result, err := v.Verify(context.Background(), recordDocument(t, "0007"))
	assert.Equal(t, signature.ErrCodeNoSignature, signatureCode(t, err))
	assert.False(t, result.SignatureFound)
}

func TestLoadBundle_Errors(t *testing.T) {
	ca := testutil.NewCA(t, "Bundle CA")
	leaf := ca.Issue(t, "Signer")

	tests := []struct {
		name string
		data []byte
		pass string
		code string
	}{
		{name: "wrong password", data: leaf.PKCS12(t, bundlePassword), pass: "wrong", code: signature.ErrCodeCertLoad},
		{name: "empty", data: nil, pass: bundlePassword, code: signature.ErrCodeCertLoad},
		{name: "garbage", data: []byte("not pkcs12"), pass: bundlePassword, code: signature.ErrCodeCertLoad},
		{name: "ecdsa key", data: testutil.ECDSABundle(t, bundlePassword), pass: bundlePassword, code: signature.ErrCodeUnsupportedKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := xades.LoadBundle(tt.data, tt.pass)
			assert.Equal(t, tt.code, signatureCode(t, err))
			assert.True(t, signature.IsLoadError(err))
		})
	}
}

func TestNewSignerFromFile(t *testing.T) {
	ca := testutil.NewCA(t, "File CA")
	leaf := ca.Issue(t, "Signer")
	path := leaf.WriteBundle(t, bundlePassword)

	s, err := xades.NewSignerFromFile(path, bundlePassword)
	require.NoError(t, err)
	assert.Equal(t, leaf.Cert.SerialNumber, s.Bundle().Certificate.SerialNumber)

	_, err = xades.NewSignerFromFile(path+".missing", bundlePassword)
	assert.Equal(t, signature.ErrCodeCertLoad, signatureCode(t, err))
}

func TestNewSigner_ValidityWindow(t *testing.T) {
	ca := testutil.NewCA(t, "Validity CA")
	leaf := ca.Issue(t, "Signer")
	bundle, err := xades.LoadBundle(leaf.PKCS12(t, bundlePassword), bundlePassword)
	require.NoError(t, err)

	_, err = xades.NewSigner(bundle, xades.WithClock(clockwork.NewFakeClockAt(time.Now().Add(72*time.Hour))))
	assert.Equal(t, signature.ErrCodeCertExpired, signatureCode(t, err))

	_, err = xades.NewSigner(bundle, xades.WithClock(clockwork.NewFakeClockAt(time.Now().Add(-72*time.Hour))))
	assert.Equal(t, signature.ErrCodeCertNotYetValid, signatureCode(t, err))

	_, err = xades.NewSigner(nil)
	assert.Equal(t, signature.ErrCodeCertLoad, signatureCode(t, err))
}
