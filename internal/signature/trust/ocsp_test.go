package trust_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/rezonia/invoice-compliance/internal/signature/trust"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

type answer struct {
	status     int
	thisUpdate time.Time
	nextUpdate time.Time
}

func goodFor(d time.Duration) answer {
	return answer{status: ocsp.Good, thisUpdate: time.Now().Add(-time.Minute), nextUpdate: time.Now().Add(d)}
}

// responder answers every OCSP request with a, signed by ca
func responder(t *testing.T, ca *testutil.Identity, a answer, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req, err := ocsp.ParseRequest(body)
		require.NoError(t, err)

		tmpl := ocsp.Response{
			Status:       a.status,
			SerialNumber: req.SerialNumber,
			ThisUpdate:   a.thisUpdate,
			NextUpdate:   a.nextUpdate,
		}
		if a.status == ocsp.Revoked {
			tmpl.RevokedAt = time.Now().Add(-time.Hour).Truncate(time.Second)
			tmpl.RevocationReason = ocsp.KeyCompromise
		}
		resp, err := ocsp.CreateResponse(ca.Cert, ca.Cert, tmpl, ca.Key)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
}

func TestRevocation_OCSP(t *testing.T) {
	revoked := goodFor(time.Hour)
	revoked.status = ocsp.Revoked

	tests := []struct {
		name    string
		answer  answer
		revoked bool
	}{
		{name: "good", answer: goodFor(time.Hour)},
		{name: "revoked", answer: revoked, revoked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca := testutil.NewCA(t, "OCSP CA")
			var hits atomic.Int32
			srv := responder(t, ca, tt.answer, &hits)
			defer srv.Close()

			leaf := ca.Issue(t, "Signer", testutil.WithOCSPServer(srv.URL))
			store := trust.NewEmptyTrustStore(trust.WithHTTPClient(srv.Client()))

			rev, err := store.Revocation(context.Background(), leaf.Cert, ca.Cert)
			require.NoError(t, err)
			assert.Equal(t, tt.revoked, rev.Revoked)
			assert.Equal(t, srv.URL, rev.Responder)
			if tt.revoked {
				assert.Equal(t, ocsp.KeyCompromise, rev.Reason)
				assert.False(t, rev.RevokedAt.IsZero())
			}

			// second lookup is served from the cache
			again, err := store.Revocation(context.Background(), leaf.Cert, ca.Cert)
			require.NoError(t, err)
			assert.Equal(t, rev, again)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestRevocation_ResponderDown(t *testing.T) {
	ca := testutil.NewCA(t, "Down CA")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	leaf := ca.Issue(t, "Signer", testutil.WithOCSPServer(srv.URL))

	_, err := trust.NewEmptyTrustStore().Revocation(context.Background(), leaf.Cert, ca.Cert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestRevocation_StaleAnswerRejected(t *testing.T) {
	ca := testutil.NewCA(t, "Stale CA")
	var hits atomic.Int32
	stale := answer{status: ocsp.Good, thisUpdate: time.Now().Add(-48 * time.Hour), nextUpdate: time.Now().Add(-24 * time.Hour)}
	srv := responder(t, ca, stale, &hits)
	defer srv.Close()
	leaf := ca.Issue(t, "Signer", testutil.WithOCSPServer(srv.URL))

	store := trust.NewEmptyTrustStore(trust.WithHTTPClient(srv.Client()))
	_, err := store.Revocation(context.Background(), leaf.Cert, ca.Cert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale response")

	// failures are not cached
	_, err = store.Revocation(context.Background(), leaf.Cert, ca.Cert)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRevocation_CacheExpiry(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		answer  answer
		advance time.Duration
		hits    int32
	}{
		{name: "ttl elapsed", ttl: time.Minute, answer: goodFor(time.Hour), advance: 2 * time.Minute, hits: 2},
		{name: "next update reached first", ttl: time.Hour, answer: goodFor(30 * time.Second), advance: time.Minute, hits: 2},
		{name: "still fresh", ttl: time.Hour, answer: goodFor(time.Hour), advance: time.Minute, hits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca := testutil.NewCA(t, "Expiry CA")
			var hits atomic.Int32
			srv := responder(t, ca, tt.answer, &hits)
			defer srv.Close()
			leaf := ca.Issue(t, "Signer", testutil.WithOCSPServer(srv.URL))

			clock := clockwork.NewFakeClockAt(time.Now())
			store := trust.NewEmptyTrustStore(
				trust.WithClock(clock),
				trust.WithOCSPCacheTTL(tt.ttl),
				trust.WithHTTPClient(srv.Client()),
			)

			_, err := store.Revocation(context.Background(), leaf.Cert, ca.Cert)
			require.NoError(t, err)
			clock.Advance(tt.advance)
			_, err = store.Revocation(context.Background(), leaf.Cert, ca.Cert)
			require.NoError(t, err)

			assert.Equal(t, tt.hits, hits.Load())
		})
	}
}
