package router

import (
	"testing"

	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolve_ApexSubdomain(t *testing.T) {
	store := newTestStore(t)
	r := New(store, "apps.example.com")

	name, ok := r.Resolve("matrix.apps.example.com:443")
	require.True(t, ok)
	require.Equal(t, "matrix", name)
}

func TestResolve_CustomDomain(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateCustomDomain(&types.CustomDomain{
		FQDN:        "app.customer.com",
		ProjectName: "trinity",
	}))

	r := New(store, "apps.example.com")
	name, ok := r.Resolve("app.customer.com")
	require.True(t, ok)
	require.Equal(t, "trinity", name)
}

func TestResolve_UnknownHost(t *testing.T) {
	store := newTestStore(t)
	r := New(store, "apps.example.com")

	_, ok := r.Resolve("nope.example.com")
	require.False(t, ok)
}

func TestResolve_RejectsNestedApexLabel(t *testing.T) {
	store := newTestStore(t)
	r := New(store, "apps.example.com")

	_, ok := r.Resolve("a.b.apps.example.com")
	require.False(t, ok)
}
