package tlsfront

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestFront(t *testing.T, apex string) (*Front, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &Front{
		store:    store,
		apexFQDN: apex,
		cache:    make(map[string]*tls.Certificate),
	}, store
}

func TestGetCertificate_ApexFallback(t *testing.T) {
	f, store := newTestFront(t, "apps.example.com")

	chain, key := generateSelfSigned(t, "*.apps.example.com")
	require.NoError(t, store.SaveApexCert(chain, key))

	cert, err := f.GetCertificate(&tls.ClientHelloInfo{ServerName: "matrix.apps.example.com"})
	require.NoError(t, err)
	require.NotNil(t, cert)

	// Second lookup should hit the cache, not the store.
	require.NoError(t, store.Close())
	cert2, err := f.GetCertificate(&tls.ClientHelloInfo{ServerName: "matrix.apps.example.com"})
	require.NoError(t, err)
	require.Equal(t, cert, cert2)
}

func TestGetCertificate_CustomDomainTakesPriority(t *testing.T) {
	f, store := newTestFront(t, "apps.example.com")

	apexChain, apexKey := generateSelfSigned(t, "*.apps.example.com")
	require.NoError(t, store.SaveApexCert(apexChain, apexKey))

	// The custom domain sits under the apex, so the apex wildcard would
	// also match it; the custom domain's own certificate must win.
	domainChain, domainKey := generateSelfSigned(t, "shop.apps.example.com")
	require.NoError(t, store.CreateCustomDomain(&types.CustomDomain{
		FQDN:      "shop.apps.example.com",
		CertChain: domainChain,
		CertKey:   domainKey,
	}))
	want, err := tls.X509KeyPair(domainChain, domainKey)
	require.NoError(t, err)

	cert, err := f.GetCertificate(&tls.ClientHelloInfo{ServerName: "shop.apps.example.com"})
	require.NoError(t, err)
	require.NotNil(t, cert)
	require.Equal(t, want.Certificate[0], cert.Certificate[0])
}

func TestGetCertificate_UnknownHost(t *testing.T) {
	f, _ := newTestFront(t, "apps.example.com")
	_, err := f.GetCertificate(&tls.ClientHelloInfo{ServerName: "nope.other.com"})
	require.Error(t, err)
}

func TestHTTP01Provider_ServesPresentedChallenge(t *testing.T) {
	p := NewHTTP01Provider()
	require.NoError(t, p.Present("apps.example.com", "tok123", "keyauth-value"))

	req := httptest.NewRequest("GET", challengePathPrefix+"tok123", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "keyauth-value", rec.Body.String())

	require.NoError(t, p.CleanUp("apps.example.com", "tok123", "keyauth-value"))
	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, req)
	require.Equal(t, 404, rec2.Code)
}

func generateSelfSigned(t *testing.T, cn string) (chainPEM, keyPEM []byte) {
	t.Helper()
	return selfSignedPEM(t, cn)
}
