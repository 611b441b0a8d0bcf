// Package storage persists projects, accounts, custom domains and the
// durable task replay log.
package storage

import (
	"github.com/cuemby/gatewayd/pkg/types"
)

// Store is the persistence interface the rest of the gateway depends on.
// BoltStore is the only production implementation.
type Store interface {
	CreateProject(p *types.Project) error
	GetProject(name string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	UpdateProject(p *types.Project) error
	DeleteProject(name string) error

	CreateAccount(a *types.Account) error
	GetAccount(name string) (*types.Account, error)
	GetAccountByAPIKeyHash(hash string) (*types.Account, error)
	ListAccounts() ([]*types.Account, error)
	UpdateAccount(a *types.Account) error

	CreateCustomDomain(d *types.CustomDomain) error
	GetCustomDomain(fqdn string) (*types.CustomDomain, error)
	ListCustomDomains() ([]*types.CustomDomain, error)
	ListCustomDomainsByProject(projectName string) ([]*types.CustomDomain, error)
	UpdateCustomDomain(d *types.CustomDomain) error
	DeleteCustomDomain(fqdn string) error

	// SaveTask/ListPendingTasks back the durable overflow log the worker
	// replays from on startup.
	SaveTask(t *types.Task) error
	DeleteTask(id uint64) error
	ListPendingTasks() ([]*types.Task, error)

	SaveApexCert(chain, key []byte) error
	GetApexCert() (chain, key []byte, err error)

	Close() error
}

// notFoundError is returned by lookups that find nothing; NewNotFoundError
// constructs one.
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func NewNotFoundError(msg string) error { return notFoundError(msg) }
