package tlsfront

import (
	"net/http"
	"strings"
	"sync"
)

const challengePathPrefix = "/.well-known/acme-challenge/"

// HTTP01Provider implements lego's challenge.Provider, storing the token ->
// key-authorization mapping the user-facing listener serves directly.
type HTTP01Provider struct {
	mu         sync.RWMutex
	keyAuthFor map[string]string // token -> key authorization
}

// NewHTTP01Provider creates an empty challenge provider.
func NewHTTP01Provider() *HTTP01Provider {
	return &HTTP01Provider{keyAuthFor: make(map[string]string)}
}

// Present stores the challenge response for token so ServeHTTP can answer it.
func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyAuthFor[token] = keyAuth
	return nil
}

// CleanUp removes the challenge response once lego has verified it.
func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keyAuthFor, token)
	return nil
}

// ServeHTTP answers /.well-known/acme-challenge/<token> requests on the
// user-facing listener. Mount this ahead of project routing.
func (p *HTTP01Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, challengePathPrefix)

	p.mu.RLock()
	keyAuth, ok := p.keyAuthFor[token]
	p.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(keyAuth))
}

// IsChallengePath reports whether path should be routed to ServeHTTP
// instead of the project proxy.
func IsChallengePath(path string) bool {
	return strings.HasPrefix(path, challengePathPrefix)
}
