package trust_test

import (
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/signature/trust"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

func TestNewEmptyTrustStore(t *testing.T) {
	store := trust.NewEmptyTrustStore()

	assert.NotNil(t, store.Roots())
	assert.Empty(t, store.RootCerts())
	assert.False(t, store.IsSoftFail())
}

func TestNewTrustStore_WithOptions(t *testing.T) {
	ca := testutil.NewCA(t, "Options CA")

	store, err := trust.NewTrustStore(
		trust.WithSoftFail(),
		trust.WithOCSPTimeout(5*time.Second),
		trust.WithCertificates(ca.Cert),
	)
	require.NoError(t, err)

	assert.True(t, store.IsSoftFail())
	assert.Len(t, store.RootCerts(), 1)
}

func TestTrustStore_AddCertificatesFromPEM(t *testing.T) {
	store := trust.NewEmptyTrustStore()
	ca := testutil.NewCA(t, "PEM CA")

	require.NoError(t, store.AddCertificatesFromPEM(testutil.PEM(ca.Cert)))
	assert.Len(t, store.RootCerts(), 1)

	assert.Error(t, store.AddCertificatesFromPEM([]byte("not a certificate")))
}

func TestTrustStore_VerifyChain(t *testing.T) {
	ca := testutil.NewCA(t, "Chain Root CA")
	leaf := ca.Issue(t, "Signer")

	store := trust.NewEmptyTrustStore(trust.WithCertificates(ca.Cert))

	chain, err := store.VerifyChain(leaf.Cert, nil)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, leaf.Cert.SerialNumber, chain[0].SerialNumber)
	assert.Equal(t, ca.Cert.SerialNumber, chain[1].SerialNumber)
}

func TestTrustStore_VerifyChain_UntrustedRoot(t *testing.T) {
	leaf := testutil.NewCA(t, "Other CA").Issue(t, "Signer")
	store := trust.NewEmptyTrustStore(trust.WithCertificates(testutil.NewCA(t, "Trusted CA").Cert))

	_, err := store.VerifyChain(leaf.Cert, nil)
	assert.Error(t, err)

	_, err = store.VerifyChain(nil, nil)
	assert.Error(t, err)
}

func TestTrustStore_VerifyChain_UsesClock(t *testing.T) {
	ca := testutil.NewCA(t, "Clock CA")
	leaf := ca.Issue(t, "Signer")

	clock := clockwork.NewFakeClockAt(time.Now().Add(48 * time.Hour))
	store := trust.NewEmptyTrustStore(trust.WithClock(clock), trust.WithCertificates(ca.Cert))

	_, err := store.VerifyChain(leaf.Cert, nil)
	var invalid x509.CertificateInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, x509.Expired, invalid.Reason)
}

func TestTrustStore_Revocation_NoResponder(t *testing.T) {
	ca := testutil.NewCA(t, "No OCSP CA")
	leaf := ca.Issue(t, "Signer")
	store := trust.NewEmptyTrustStore()

	rev, err := store.Revocation(context.Background(), leaf.Cert, ca.Cert)
	require.NoError(t, err)
	assert.False(t, rev.Revoked)
	assert.Empty(t, rev.Responder)

	_, err = store.Revocation(context.Background(), nil, ca.Cert)
	assert.Error(t, err)
}
