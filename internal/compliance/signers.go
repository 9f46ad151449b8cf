package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/signature"
	"github.com/rezonia/invoice-compliance/internal/signature/xades"
)

// SignerProvider returns the signer for a tenant's certificate bundle.
// Load failures are reported as *model.ConfigError.
type SignerProvider interface {
	SignerFor(ctx context.Context, settings *model.TenantSettings, password string) (signature.Signer, error)
}

// FileSigners loads PKCS#12 bundles from disk and keeps one signer per
// tenant and certificate path. A bundle replaced on disk, or a changed
// password, is loaded again.
type FileSigners struct {
	opts []xades.Option

	mu    sync.Mutex
	cache map[string]cachedSigner
}

type cachedSigner struct {
	version string
	signer  signature.Signer
}

// NewFileSigners creates a caching provider
func NewFileSigners(opts ...xades.Option) *FileSigners {
	return &FileSigners{
		opts:  opts,
		cache: make(map[string]cachedSigner),
	}
}

func (f *FileSigners) SignerFor(_ context.Context, settings *model.TenantSettings, password string) (signature.Signer, error) {
	info, err := os.Stat(settings.CertificatePath)
	if err != nil {
		return nil, model.NewConfigError("certificate", "cannot load signing certificate", err)
	}
	sum := sha256.Sum256([]byte(password))
	key := settings.TenantID + "|" + settings.CertificatePath
	version := fmt.Sprintf("%d|%d|%s", info.ModTime().UnixNano(), info.Size(), hex.EncodeToString(sum[:8]))

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.cache[key]; ok && c.version == version {
		return c.signer, nil
	}

	s, err := xades.NewSignerFromFile(settings.CertificatePath, password, f.opts...)
	if err != nil {
		return nil, model.NewConfigError("certificate", "cannot load signing certificate", err)
	}
	f.cache[key] = cachedSigner{version: version, signer: s}
	return s, nil
}

// Len reports how many signers are cached
func (f *FileSigners) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}
