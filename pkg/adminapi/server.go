// Package adminapi is the REST control surface an operator's tooling talks
// to: project lifecycle, account provisioning, and custom-domain binding.
// Project create and delete enqueue a task onto the worker pool rather than
// driving the lifecycle directly; those handlers only validate, persist the
// intent's target record, and hand the rest to the state machine. Account
// and custom-domain writes are stored directly and enqueue no task.
package adminapi

import (
	"net/http"
	"time"

	"github.com/cuemby/gatewayd/pkg/gwerr"
	"github.com/cuemby/gatewayd/pkg/log"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/cuemby/gatewayd/pkg/worker"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Resumer is the subset of worker.Worker the admin surface needs to submit
// lifecycle tasks.
type Resumer interface {
	Submit(projectName string, payload types.TaskPayloadKind, intent types.IntentKind) (*types.Task, error)
}

// ProjectDefaults seeds ContainerSettings for newly created projects.
type ProjectDefaults struct {
	Image           string
	NetworkName     string
	Prefix          string
	ProvisionerHost string
}

// Server is the chi-routed admin HTTP surface.
type Server struct {
	store    storage.Store
	worker   Resumer
	events   *worker.EventLog
	defaults ProjectDefaults
	logger   zerolog.Logger
	router   chi.Router
}

// New builds a Server and wires its route table.
func New(store storage.Store, w Resumer, events *worker.EventLog, defaults ProjectDefaults) *Server {
	s := &Server{
		store:    store,
		worker:   w,
		events:   events,
		defaults: defaults,
		logger:   log.WithComponent("adminapi"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(bearerAuth(s.store))

	r.Route("/projects/{name}", func(r chi.Router) {
		r.Post("/", s.handleCreateProject)
		r.Get("/", s.handleGetProject)
		r.Delete("/", s.handleDeleteProject)
		r.Get("/status", s.handleProjectStatus)
		r.Get("/events", s.handleProjectEvents)
		r.Post("/domains", s.handleAddDomain)
	})

	r.Post("/users/{name}", requireSuper(s.handleCreateUser))
	r.Get("/accounts/{name}", requireSuper(s.handleGetAccount))

	return r
}

func projectFor(r *http.Request) string { return chi.URLParam(r, "name") }

// ownsOrSuper reports whether account may act on a project owned by
// accountName: either it is that account, or it is a super-user.
func ownsOrSuper(account *types.Account, accountName string) bool {
	return account.IsSuper || account.Name == accountName
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	name := projectFor(r)
	if !types.ValidProjectName(name) {
		RespondError(w, gwerr.New("create_project", gwerr.InvalidProjectName, nil))
		return
	}

	account := AccountFromContext(r.Context())

	if _, err := s.store.GetProject(name); err == nil {
		RespondError(w, gwerr.New("create_project", gwerr.ProjectAlreadyExists, nil))
		return
	}

	project := &types.Project{
		Name:        name,
		AccountName: account.Name,
		State:       types.NewCreating(0),
		Settings: types.ContainerSettings{
			Image:           s.defaults.Image,
			NetworkName:     s.defaults.NetworkName,
			Prefix:          s.defaults.Prefix,
			ProvisionerHost: s.defaults.ProvisionerHost,
		},
		LastActiveAt: time.Now(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.store.CreateProject(project); err != nil {
		RespondError(w, gwerr.New("create_project", gwerr.Internal, err))
		return
	}

	account.ProjectNames = append(account.ProjectNames, name)
	if err := s.store.UpdateAccount(account); err != nil {
		s.logger.Error().Err(err).Str("account", account.Name).Msg("failed to record project ownership")
	}

	if _, err := s.worker.Submit(name, types.PayloadBoxedIntent, types.IntentCreate); err != nil {
		RespondError(w, gwerr.New("create_project", gwerr.ServiceUnavailable, err))
		return
	}

	Respond(w, http.StatusOK, projectView(project))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	name := projectFor(r)
	project, err := s.store.GetProject(name)
	if err != nil {
		RespondError(w, gwerr.New("get_project", gwerr.ProjectNotFound, err))
		return
	}
	account := AccountFromContext(r.Context())
	if !ownsOrSuper(account, project.AccountName) {
		RespondError(w, gwerr.New("get_project", gwerr.ProjectNotFound, nil))
		return
	}
	Respond(w, http.StatusOK, projectView(project))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	name := projectFor(r)
	project, err := s.store.GetProject(name)
	if err != nil {
		RespondError(w, gwerr.New("delete_project", gwerr.ProjectNotFound, err))
		return
	}
	account := AccountFromContext(r.Context())
	if !ownsOrSuper(account, project.AccountName) {
		RespondError(w, gwerr.New("delete_project", gwerr.ProjectNotFound, nil))
		return
	}

	if project.State.Kind == types.StateDestroyed {
		Respond(w, http.StatusOK, projectView(project))
		return
	}

	if _, err := s.worker.Submit(name, types.PayloadDestroy, ""); err != nil {
		RespondError(w, gwerr.New("delete_project", gwerr.ServiceUnavailable, err))
		return
	}
	Respond(w, http.StatusOK, projectView(project))
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	name := projectFor(r)
	project, err := s.store.GetProject(name)
	if err != nil {
		RespondError(w, gwerr.New("project_status", gwerr.ProjectNotFound, err))
		return
	}
	account := AccountFromContext(r.Context())
	if !ownsOrSuper(account, project.AccountName) {
		RespondError(w, gwerr.New("project_status", gwerr.ProjectNotFound, nil))
		return
	}
	Respond(w, http.StatusOK, map[string]string{
		"name":  project.Name,
		"state": string(project.State.Kind),
	})
}

func (s *Server) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	name := projectFor(r)
	project, err := s.store.GetProject(name)
	if err != nil {
		RespondError(w, gwerr.New("project_events", gwerr.ProjectNotFound, err))
		return
	}
	account := AccountFromContext(r.Context())
	if !ownsOrSuper(account, project.AccountName) {
		RespondError(w, gwerr.New("project_events", gwerr.ProjectNotFound, nil))
		return
	}
	Respond(w, http.StatusOK, s.events.For(name))
}

type addDomainRequest struct {
	FQDN string `json:"fqdn"`
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	name := projectFor(r)
	project, err := s.store.GetProject(name)
	if err != nil {
		RespondError(w, gwerr.New("add_domain", gwerr.ProjectNotFound, err))
		return
	}
	account := AccountFromContext(r.Context())
	if !ownsOrSuper(account, project.AccountName) {
		RespondError(w, gwerr.New("add_domain", gwerr.ProjectNotFound, nil))
		return
	}

	var req addDomainRequest
	if err := decodeJSON(r, &req); err != nil || req.FQDN == "" {
		RespondError(w, gwerr.New("add_domain", gwerr.InvalidProjectName, err))
		return
	}

	domain := &types.CustomDomain{
		FQDN:        req.FQDN,
		ProjectName: name,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.store.CreateCustomDomain(domain); err != nil {
		RespondError(w, gwerr.New("add_domain", gwerr.Internal, err))
		return
	}

	// The domain is routable the moment it's persisted. This handler does
	// not start ACME issuance; a certificate is first requested by the next
	// tlsfront renewal sweep, which issues for any domain without one.
	Respond(w, http.StatusOK, map[string]string{"fqdn": domain.FQDN, "project": name, "status": "pending_certificate"})
}

type createUserRequest struct {
	IsSuper bool `json:"is_super"`
}

type createUserResponse struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		RespondError(w, gwerr.New("create_user", gwerr.InvalidProjectName, nil))
		return
	}
	if _, err := s.store.GetAccount(name); err == nil {
		RespondError(w, gwerr.New("create_user", gwerr.ProjectAlreadyExists, nil))
		return
	}

	var req createUserRequest
	_ = decodeJSON(r, &req) // body is optional; absent means a non-super account

	rawKey, err := generateAPIKey()
	if err != nil {
		RespondError(w, gwerr.New("create_user", gwerr.Internal, err))
		return
	}

	account := &types.Account{
		Name:       name,
		APIKeyHash: apiKeyHash(rawKey),
		IsSuper:    req.IsSuper,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateAccount(account); err != nil {
		RespondError(w, gwerr.New("create_user", gwerr.Internal, err))
		return
	}

	Respond(w, http.StatusOK, createUserResponse{Name: name, APIKey: rawKey})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	account, err := s.store.GetAccount(name)
	if err != nil {
		RespondError(w, gwerr.New("get_account", gwerr.ProjectNotFound, err))
		return
	}
	Respond(w, http.StatusOK, map[string]any{
		"name":          account.Name,
		"is_super":      account.IsSuper,
		"project_names": account.ProjectNames,
	})
}

type projectResponse struct {
	Name        string `json:"name"`
	AccountName string `json:"account_name"`
	State       string `json:"state"`
	BackendAddr string `json:"backend_addr,omitempty"`
}

func projectView(p *types.Project) projectResponse {
	return projectResponse{
		Name:        p.Name,
		AccountName: p.AccountName,
		State:       string(p.State.Kind),
		BackendAddr: p.State.BackendAddr,
	}
}
