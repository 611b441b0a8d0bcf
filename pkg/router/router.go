// Package router resolves an incoming request's Host header to a project
// name, via the apex-subdomain convention or the custom domain table.
package router

import (
	"strings"

	"github.com/cuemby/gatewayd/pkg/storage"
)

// Router resolves a request Host to a project name.
type Router struct {
	store    storage.Store
	apexFQDN string
}

// New creates a Router that treats apexFQDN (e.g. "apps.example.com") as
// the wildcard suffix for per-project subdomains.
func New(store storage.Store, apexFQDN string) *Router {
	return &Router{store: store, apexFQDN: strings.ToLower(apexFQDN)}
}

// Resolve maps host to a project name, trying the apex-subdomain
// convention first and falling back to the custom domain table.
func (r *Router) Resolve(host string) (projectName string, ok bool) {
	host = stripPort(strings.ToLower(host))

	if name, matched := r.matchApex(host); matched {
		return name, true
	}

	d, err := r.store.GetCustomDomain(host)
	if err != nil {
		return "", false
	}
	return d.ProjectName, true
}

// matchApex extracts the left-most label of host when it is a direct
// subdomain of the configured apex FQDN.
func (r *Router) matchApex(host string) (string, bool) {
	suffix := "." + r.apexFQDN
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	label := host[:len(host)-len(suffix)]
	if label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}

func stripPort(host string) string {
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		return host[:idx]
	}
	return host
}
