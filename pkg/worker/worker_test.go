package worker

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/gatewayd/pkg/driver"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	running bool
	address string
}

func (d *stubDriver) Create(ctx context.Context, name string, settings types.ContainerSettings) (string, error) {
	return "c1", nil
}

func (d *stubDriver) Inspect(ctx context.Context, containerID string) (driver.Status, error) {
	return driver.Status{Running: d.running, Address: d.address, Image: "acme/app:latest"}, nil
}

func (d *stubDriver) Start(ctx context.Context, containerID string) error {
	d.running = true
	d.address = "10.0.0.9"
	return nil
}

func (d *stubDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	d.running = false
	return nil
}

func (d *stubDriver) Remove(ctx context.Context, containerID string, force bool) error { return nil }

func newTestWorker(t *testing.T) (*Worker, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w := New(store, &stubDriver{}, Config{Shards: 1, RefreshInterval: time.Hour, IdleSweep: time.Hour})
	w.HealthProbe = func(context.Context, string) bool { return true }
	w.Start()
	t.Cleanup(w.Stop)
	return w, store
}

func waitForState(t *testing.T, store storage.Store, name string, kind types.ProjectStateKind) *types.Project {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := store.GetProject(name)
		require.NoError(t, err)
		if p.State.Kind == kind {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("project %s did not reach state %s", name, kind)
	return nil
}

func TestWorker_DrivesProjectToReady(t *testing.T) {
	w, store := newTestWorker(t)

	p := &types.Project{
		Name:     "matrix",
		State:    types.NewCreating(0),
		Settings: types.ContainerSettings{Image: "acme/app:latest"},
	}
	require.NoError(t, store.CreateProject(p))

	_, err := w.Submit("matrix", types.PayloadBoxedIntent, types.IntentCreate)
	require.NoError(t, err)

	ready := waitForState(t, store, "matrix", types.StateReady)
	require.Equal(t, "10.0.0.9:8080", ready.State.BackendAddr)

	events := w.Events().For("matrix")
	require.NotEmpty(t, events)
}

func TestWorker_StopIntentStopsReadyProject(t *testing.T) {
	w, store := newTestWorker(t)

	p := &types.Project{
		Name:     "trinity",
		State:    types.NewReady("c1", "10.0.0.9:8080"),
		Settings: types.ContainerSettings{Image: "acme/app:latest"},
	}
	require.NoError(t, store.CreateProject(p))

	_, err := w.Submit("trinity", types.PayloadBoxedIntent, types.IntentStop)
	require.NoError(t, err)

	waitForState(t, store, "trinity", types.StateStopped)
}

func TestWorker_DestroyAbsorbsInFlightProject(t *testing.T) {
	w, store := newTestWorker(t)

	p := &types.Project{
		Name:     "neo",
		State:    types.NewStarted("c1", 0),
		Settings: types.ContainerSettings{Image: "acme/app:latest"},
	}
	require.NoError(t, store.CreateProject(p))

	_, err := w.Submit("neo", types.PayloadDestroy, "")
	require.NoError(t, err)

	waitForState(t, store, "neo", types.StateDestroyed)
}
