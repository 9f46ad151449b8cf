package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/signature/xades"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

func signerCertificateSerial(t *testing.T, p SignerProvider, settings *model.TenantSettings) string {
	t.Helper()
	s, err := p.SignerFor(context.Background(), settings, "pw")
	require.NoError(t, err)
	xs, ok := s.(*xades.Signer)
	require.True(t, ok)
	return xs.Bundle().Certificate.SerialNumber.String()
}

func TestFileSigners_ReloadsReplacedBundle(t *testing.T) {
	ca := testutil.NewCA(t, "Test Issuing CA")
	path := filepath.Join(t.TempDir(), "bundle.p12")
	require.NoError(t, os.WriteFile(path, ca.Issue(t, "ABC Company").PKCS12(t, "pw", ca.Cert), 0o600))

	settings := &model.TenantSettings{TenantID: "tenant-1", CertificatePath: path}
	signers := NewFileSigners()

	first := signerCertificateSerial(t, signers, settings)
	assert.Equal(t, first, signerCertificateSerial(t, signers, settings), "unchanged bundle is served from cache")

	// same path and password, new certificate
	require.NoError(t, os.WriteFile(path, ca.Issue(t, "ABC Company").PKCS12(t, "pw", ca.Cert), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	second := signerCertificateSerial(t, signers, settings)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, signers.Len())
}

func TestFileSigners_MissingBundle(t *testing.T) {
	settings := &model.TenantSettings{TenantID: "tenant-1", CertificatePath: filepath.Join(t.TempDir(), "absent.p12")}

	_, err := NewFileSigners().SignerFor(context.Background(), settings, "pw")
	assert.True(t, model.IsConfigError(err))
}
