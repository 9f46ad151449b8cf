package trust

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Default OCSP configuration
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour

	maxOCSPResponseSize = 1 << 20
	// tolerated clock difference between us and the responder
	ocspClockSkew = 5 * time.Minute
)

// errNoResponder marks certificates that name no OCSP responder
var errNoResponder = errors.New("certificate names no OCSP responder")

// Revocation is the revocation state of a signing certificate as reported
// by its OCSP responder
type Revocation struct {
	Revoked    bool
	RevokedAt  time.Time
	Reason     int
	Responder  string
	ThisUpdate time.Time
	NextUpdate time.Time
}

// revocationCache remembers responder answers per issuer and serial.
// Good answers live until the TTL or the responder's NextUpdate, whichever
// comes first. Revocation is final and is kept.
type revocationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedRevocation
}

type cachedRevocation struct {
	rev       Revocation
	expiresAt time.Time
}

func newRevocationCache(ttl time.Duration) *revocationCache {
	return &revocationCache{ttl: ttl, entries: make(map[string]cachedRevocation)}
}

func (c *revocationCache) get(key string, now time.Time) (Revocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Revocation{}, false
	}
	if !e.rev.Revoked && !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return Revocation{}, false
	}
	return e.rev, true
}

func (c *revocationCache) put(key string, rev Revocation, now time.Time) {
	expires := now.Add(c.ttl)
	if !rev.NextUpdate.IsZero() && rev.NextUpdate.Before(expires) {
		expires = rev.NextUpdate
	}

	c.mu.Lock()
	c.entries[key] = cachedRevocation{rev: rev, expiresAt: expires}
	c.mu.Unlock()
}

// revocationKey identifies a certificate by its issuer's key and its serial
func revocationKey(cert, issuer *x509.Certificate) string {
	sum := sha256.Sum256(issuer.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:8]) + ":" + cert.SerialNumber.String()
}

// queryOCSP asks each responder named by cert in turn and returns the first
// fresh answer
func queryOCSP(ctx context.Context, client *http.Client, now time.Time, cert, issuer *x509.Certificate) (Revocation, error) {
	if len(cert.OCSPServer) == 0 {
		return Revocation{}, errNoResponder
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return Revocation{}, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var errs []error
	for _, url := range cert.OCSPServer {
		resp, err := postOCSP(ctx, client, url, request, issuer)
		if err == nil {
			err = checkFreshness(resp, now)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
			errs = append(errs, fmt.Errorf("%s: response is for another certificate", url))
			continue
		}

		switch resp.Status {
		case ocsp.Good:
			return Revocation{Responder: url, ThisUpdate: resp.ThisUpdate, NextUpdate: resp.NextUpdate}, nil
		case ocsp.Revoked:
			return Revocation{
				Revoked:    true,
				RevokedAt:  resp.RevokedAt,
				Reason:     resp.RevocationReason,
				Responder:  url,
				ThisUpdate: resp.ThisUpdate,
				NextUpdate: resp.NextUpdate,
			}, nil
		default:
			errs = append(errs, fmt.Errorf("%s: responder does not know the certificate", url))
		}
	}
	return Revocation{}, fmt.Errorf("no OCSP responder answered: %w", errors.Join(errs...))
}

func postOCSP(ctx context.Context, client *http.Client, url string, request []byte, issuer *x509.Certificate) (*ocsp.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("responder returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOCSPResponseSize))
	if err != nil {
		return nil, err
	}
	return ocsp.ParseResponseForCert(body, nil, issuer)
}

// checkFreshness rejects answers produced in the future or past their
// NextUpdate
func checkFreshness(resp *ocsp.Response, now time.Time) error {
	if resp.ThisUpdate.After(now.Add(ocspClockSkew)) {
		return fmt.Errorf("response not yet valid (thisUpdate %s)", resp.ThisUpdate.Format(time.RFC3339))
	}
	if !resp.NextUpdate.IsZero() && resp.NextUpdate.Before(now.Add(-ocspClockSkew)) {
		return fmt.Errorf("stale response (nextUpdate %s)", resp.NextUpdate.Format(time.RFC3339))
	}
	return nil
}
