// Package proxy is the host-routed, TLS-terminating reverse proxy: it
// resolves a request to a project, resumes a stopped or in-flight project
// on demand (bounded by a fixed wait), and forwards to the backend once
// ready.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/cuemby/gatewayd/pkg/log"
	"github.com/cuemby/gatewayd/pkg/metrics"
	"github.com/cuemby/gatewayd/pkg/router"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/tlsfront"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// TResume bounds how long a request waits for a resuming project to
	// become Ready before the proxy gives up with 504.
	TResume     = 10 * time.Second
	pollInterval = 150 * time.Millisecond
)

// Resumer is the subset of pkg/worker.Worker the proxy needs: enqueue a
// resume intent without importing the worker's full dependency surface.
type Resumer interface {
	Submit(projectName string, payload types.TaskPayloadKind, intent types.IntentKind) (*types.Task, error)
}

// Proxy is the http.Handler for both the plaintext and TLS-terminated
// user-facing listeners.
type Proxy struct {
	store     storage.Store
	router    *router.Router
	resumer   Resumer
	challenge *tlsfront.HTTP01Provider
	logger    zerolog.Logger
}

// New creates a Proxy. challenge may be nil on a listener that never
// serves ACME HTTP-01 challenges (e.g. an internal-only listener).
func New(store storage.Store, r *router.Router, resumer Resumer, challenge *tlsfront.HTTP01Provider) *Proxy {
	return &Proxy{
		store:     store,
		router:    r,
		resumer:   resumer,
		challenge: challenge,
		logger:    log.WithComponent("proxy"),
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.challenge != nil && tlsfront.IsChallengePath(r.URL.Path) {
		p.challenge.ServeHTTP(w, r)
		return
	}

	name, ok := p.router.Resolve(r.Host)
	if !ok {
		p.respond(w, "", http.StatusNotFound, "unknown host")
		return
	}

	project, err := p.store.GetProject(name)
	if err != nil {
		p.respond(w, name, http.StatusNotFound, "unknown project")
		return
	}

	project = p.ensureResuming(project)

	switch {
	case project.State.Routable():
		p.forward(w, r, project)
	case project.State.Kind == types.StateDestroying, project.State.Kind == types.StateDestroyed:
		p.respond(w, name, http.StatusServiceUnavailable, "project destroyed")
	case project.State.Kind == types.StateErrored:
		p.respond(w, name, http.StatusNotFound, "project errored")
	default:
		ready, ok := p.waitForReady(name)
		if !ok {
			p.respond(w, name, http.StatusGatewayTimeout, "timed out waiting for project to resume")
			return
		}
		p.forward(w, r, ready)
	}
}

// ensureResuming submits a resume intent for a Stopped project; in-flight
// states (Starting, Attaching, ...) are already being driven forward by
// the worker and need no extra nudge.
func (p *Proxy) ensureResuming(project *types.Project) *types.Project {
	if project.State.Kind != types.StateStopped {
		return project
	}
	if _, err := p.resumer.Submit(project.Name, types.PayloadBoxedIntent, types.IntentResume); err != nil {
		p.logger.Error().Err(err).Str("project", project.Name).Msg("failed to submit resume task")
	}
	return project
}

// waitForReady polls the store until the project reaches Ready, a terminal
// state, or TResume elapses.
func (p *Proxy) waitForReady(name string) (*types.Project, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ResumeWaitDuration)

	deadline := time.Now().Add(TResume)
	for time.Now().Before(deadline) {
		project, err := p.store.GetProject(name)
		if err != nil {
			return nil, false
		}
		if project.State.Routable() {
			return project, true
		}
		if project.State.IsTerminal() {
			return nil, false
		}
		time.Sleep(pollInterval)
	}
	return nil, false
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, project *types.Project) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProxyRequestDuration, project.Name)

	project.LastActiveAt = time.Now()
	if err := p.store.UpdateProject(project); err != nil {
		p.logger.Error().Err(err).Str("project", project.Name).Msg("failed to record activity timestamp")
	}

	target, err := url.Parse("http://" + project.State.BackendAddr)
	if err != nil {
		p.respond(w, project.Name, http.StatusBadGateway, "invalid backend address")
		return
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = r.Host
		req.Header.Set("X-Forwarded-Host", r.Host)
		req.Header.Set("X-Forwarded-Proto", scheme(r))
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.respond(w, project.Name, http.StatusBadGateway, fmt.Sprintf("backend error: %v", err))
	}

	metrics.ProxyRequestsTotal.WithLabelValues(project.Name, "200").Inc()
	rp.ServeHTTP(w, r)
}

func (p *Proxy) respond(w http.ResponseWriter, projectName string, status int, msg string) {
	metrics.ProxyRequestsTotal.WithLabelValues(projectName, fmt.Sprint(status)).Inc()
	http.Error(w, msg, status)
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
