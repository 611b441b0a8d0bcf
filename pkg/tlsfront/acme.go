// Package tlsfront terminates TLS for the user-facing listener: SNI-based
// certificate selection backed by an in-memory cache, and ACME (Let's
// Encrypt) issuance/renewal of the wildcard apex certificate and every
// custom domain's certificate.
package tlsfront

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/gatewayd/pkg/log"
	"github.com/cuemby/gatewayd/pkg/metrics"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/rs/zerolog"
)

const renewalWindow = 30 * 24 * time.Hour

const apexCacheKey = "*apex*"

// acmeUser is the minimal lego registration.User implementation.
type acmeUser struct {
	email string
	reg   *registration.Resource
	key   *ecdsa.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.reg }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey          { return u.key }

// Front manages TLS certificate selection and ACME lifecycle.
type Front struct {
	store    storage.Store
	apexFQDN string
	logger   zerolog.Logger

	acme      *lego.Client
	challenge *HTTP01Provider

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// Config configures Front construction.
type Config struct {
	ApexFQDN string
	Email    string
	// DirectoryURL overrides the ACME server; empty uses Let's Encrypt
	// production. Tests and staging deployments point this at a sandbox.
	DirectoryURL string
}

// New creates a Front and registers an ACME account with the configured
// directory. The HTTP01Provider it returns must be mounted on the
// user-facing listener at /.well-known/acme-challenge/.
func New(store storage.Store, cfg Config) (*Front, *HTTP01Provider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate acme account key: %w", err)
	}
	user := &acmeUser{email: cfg.Email, key: key}

	legoCfg := lego.NewConfig(user)
	if cfg.DirectoryURL != "" {
		legoCfg.CADirURL = cfg.DirectoryURL
	}
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create acme client: %w", err)
	}

	challenge := NewHTTP01Provider()
	if err := client.Challenge.SetHTTP01Provider(challenge); err != nil {
		return nil, nil, fmt.Errorf("set http-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, nil, fmt.Errorf("register acme account: %w", err)
	}
	user.reg = reg

	f := &Front{
		store:    store,
		apexFQDN: strings.ToLower(cfg.ApexFQDN),
		logger:   log.WithComponent("tlsfront"),
		acme:     client,
		challenge: challenge,
		cache:    make(map[string]*tls.Certificate),
	}
	return f, challenge, nil
}

// GetCertificate implements tls.Config.GetCertificate: exact custom-domain
// match first, falling back to the wildcard apex certificate for any host
// under the apex FQDN.
func (f *Front) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := strings.ToLower(hello.ServerName)

	if cert, ok := f.fromCache(host); ok {
		return cert, nil
	}
	if cert, err := f.loadCustomDomain(host); err == nil {
		return cert, nil
	}

	if strings.HasSuffix(host, "."+f.apexFQDN) || host == f.apexFQDN {
		if cert, ok := f.fromCache(apexCacheKey); ok {
			return cert, nil
		}
		return f.loadApex()
	}

	return nil, fmt.Errorf("no certificate for host %q", host)
}

func (f *Front) fromCache(key string) (*tls.Certificate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cert, ok := f.cache[key]
	return cert, ok
}

func (f *Front) put(key string, cert *tls.Certificate) {
	f.mu.Lock()
	f.cache[key] = cert
	f.mu.Unlock()
}

func (f *Front) invalidate(key string) {
	f.mu.Lock()
	delete(f.cache, key)
	f.mu.Unlock()
}

func (f *Front) loadCustomDomain(host string) (*tls.Certificate, error) {
	d, err := f.store.GetCustomDomain(host)
	if err != nil {
		return nil, err
	}
	if len(d.CertChain) == 0 || len(d.CertKey) == 0 {
		return nil, fmt.Errorf("no certificate material for %q", host)
	}
	cert, err := tls.X509KeyPair(d.CertChain, d.CertKey)
	if err != nil {
		return nil, fmt.Errorf("parse certificate for %q: %w", host, err)
	}
	f.put(host, &cert)
	return &cert, nil
}

func (f *Front) loadApex() (*tls.Certificate, error) {
	chain, key, err := f.store.GetApexCert()
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(chain, key)
	if err != nil {
		return nil, fmt.Errorf("parse apex certificate: %w", err)
	}
	f.put(apexCacheKey, &cert)
	return &cert, nil
}

// IssueApex requests the initial wildcard certificate for the apex FQDN
// and persists it.
func (f *Front) IssueApex() error {
	return f.issueAndStore([]string{f.apexFQDN, "*." + f.apexFQDN}, func(chain, key []byte) error {
		return f.store.SaveApexCert(chain, key)
	}, apexCacheKey)
}

// IssueCustomDomain requests a certificate for a single custom domain and
// persists it onto the existing CustomDomain record.
func (f *Front) IssueCustomDomain(fqdn string) error {
	return f.issueAndStore([]string{fqdn}, func(chain, key []byte) error {
		d, err := f.store.GetCustomDomain(fqdn)
		if err != nil {
			return err
		}
		cert, err := parseNotAfter(chain)
		if err != nil {
			return err
		}
		d.CertChain = chain
		d.CertKey = key
		d.NotAfter = cert
		d.UpdatedAt = time.Now()
		return f.store.UpdateCustomDomain(d)
	}, fqdn)
}

func (f *Front) issueAndStore(domains []string, persist func(chain, key []byte) error, cacheKey string) error {
	res, err := f.acme.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
	outcome := "success"
	defer func() { metrics.CertificatesIssuedTotal.WithLabelValues(outcome).Inc() }()
	if err != nil {
		outcome = "failure"
		return fmt.Errorf("obtain certificate for %v: %w", domains, err)
	}
	if err := persist(res.Certificate, res.PrivateKey); err != nil {
		outcome = "failure"
		return fmt.Errorf("persist certificate for %v: %w", domains, err)
	}
	f.invalidate(cacheKey)
	f.logger.Info().Strs("domains", domains).Msg("certificate issued")
	return nil
}

func parseNotAfter(chainPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate: %w", err)
	}
	return cert.NotAfter, nil
}

// RenewDue issues the apex certificate and every custom domain's
// certificate that is missing or whose NotAfter is within the renewal
// window. Failures are logged and retried on the next sweep; they never
// take a project offline.
func (f *Front) RenewDue() {
	apexDue := true
	if chain, _, err := f.store.GetApexCert(); err == nil {
		if notAfter, err := parseNotAfter(chain); err == nil && time.Until(notAfter) >= renewalWindow {
			apexDue = false
		}
	}
	if apexDue {
		if err := f.IssueApex(); err != nil {
			f.logger.Error().Err(err).Msg("apex certificate renewal failed")
		}
	}

	domains, err := f.store.ListCustomDomains()
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to list custom domains for renewal sweep")
		return
	}
	for _, d := range domains {
		if len(d.CertChain) == 0 || time.Until(d.NotAfter) < renewalWindow {
			if err := f.IssueCustomDomain(d.FQDN); err != nil {
				f.logger.Error().Err(err).Str("domain", d.FQDN).Msg("custom domain certificate renewal failed")
			}
		}
	}
}

// StartRenewalLoop runs RenewDue once daily until stopCh is closed.
func (f *Front) StartRenewalLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.RenewDue()
			case <-stopCh:
				return
			}
		}
	}()
}
