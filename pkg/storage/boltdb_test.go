package storage

import (
	"testing"
	"time"

	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProjectRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p := &types.Project{
		Name:        "matrix",
		AccountName: "trinity",
		State:       types.NewReady("c1", "10.0.0.5:8080"),
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateProject(p))

	got, err := s.GetProject("matrix")
	require.NoError(t, err)
	require.Equal(t, p.Name, got.Name)
	require.Equal(t, types.StateReady, got.State.Kind)
	require.Equal(t, "10.0.0.5:8080", got.State.BackendAddr)

	_, err = s.GetProject("nope")
	require.Error(t, err)

	require.NoError(t, s.DeleteProject("matrix"))
	_, err = s.GetProject("matrix")
	require.Error(t, err)
}

func TestListProjects(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateProject(&types.Project{Name: "a", State: types.NewCreating(0)}))
	require.NoError(t, s.CreateProject(&types.Project{Name: "b", State: types.NewCreating(0)}))

	all, err := s.ListProjects()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAccountByAPIKeyHash(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateAccount(&types.Account{Name: "trinity", APIKeyHash: "hash123"}))

	a, err := s.GetAccountByAPIKeyHash("hash123")
	require.NoError(t, err)
	require.Equal(t, "trinity", a.Name)

	_, err = s.GetAccountByAPIKeyHash("nope")
	require.Error(t, err)
}

func TestCustomDomainByProject(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCustomDomain(&types.CustomDomain{FQDN: "app.customer.com", ProjectName: "blue"}))
	require.NoError(t, s.CreateCustomDomain(&types.CustomDomain{FQDN: "other.customer.com", ProjectName: "red"}))

	domains, err := s.ListCustomDomainsByProject("blue")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	require.Equal(t, "app.customer.com", domains[0].FQDN)
}

func TestTaskReplayLog(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTask(&types.Task{ID: 1, ProjectName: "matrix", PayloadKind: types.PayloadRefresh}))
	require.NoError(t, s.SaveTask(&types.Task{ID: 2, ProjectName: "matrix", PayloadKind: types.PayloadDestroy}))

	pending, err := s.ListPendingTasks()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.DeleteTask(1))
	pending, err = s.ListPendingTasks()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, uint64(2), pending[0].ID)
}

func TestApexCert(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetApexCert()
	require.Error(t, err)

	require.NoError(t, s.SaveApexCert([]byte("chain"), []byte("key")))
	chain, key, err := s.GetApexCert()
	require.NoError(t, err)
	require.Equal(t, []byte("chain"), chain)
	require.Equal(t, []byte("key"), key)
}
