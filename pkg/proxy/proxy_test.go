package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/gatewayd/pkg/router"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeResumer struct {
	calls []string
	store storage.Store
	// onSubmit optionally advances the project to Ready, simulating the
	// worker driving the lifecycle forward in the background.
	onSubmit func(projectName string)
}

func (f *fakeResumer) Submit(projectName string, payload types.TaskPayloadKind, intent types.IntentKind) (*types.Task, error) {
	f.calls = append(f.calls, projectName)
	if f.onSubmit != nil {
		f.onSubmit(projectName)
	}
	return &types.Task{ProjectName: projectName, PayloadKind: payload, Intent: intent}, nil
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServeHTTP_ReadyProjectIsForwarded(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()

	store := newTestStore(t)
	require.NoError(t, store.CreateProject(&types.Project{
		Name:  "zion",
		State: types.NewReady("c1", backend.Listener.Addr().String()),
	}))

	p := New(store, router.New(store, "apps.example.com"), &fakeResumer{}, nil)

	req := httptest.NewRequest("GET", "http://zion.apps.example.com/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "hello from backend", rec.Body.String())
}

func TestServeHTTP_UnknownHostReturns404(t *testing.T) {
	store := newTestStore(t)
	p := New(store, router.New(store, "apps.example.com"), &fakeResumer{}, nil)

	req := httptest.NewRequest("GET", "http://nope.example.com/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}

func TestServeHTTP_DestroyedProjectReturns503(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateProject(&types.Project{Name: "zion", State: types.NewDestroyed()}))
	p := New(store, router.New(store, "apps.example.com"), &fakeResumer{}, nil)

	req := httptest.NewRequest("GET", "http://zion.apps.example.com/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 503, rec.Code)
}

func TestServeHTTP_ErroredProjectReturns404(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateProject(&types.Project{
		Name:  "zion",
		State: types.NewErrored("boom", "creating", types.StateCreating),
	}))
	p := New(store, router.New(store, "apps.example.com"), &fakeResumer{}, nil)

	req := httptest.NewRequest("GET", "http://zion.apps.example.com/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}

func TestServeHTTP_StoppedProjectSubmitsResumeAndWaits(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	store := newTestStore(t)
	require.NoError(t, store.CreateProject(&types.Project{Name: "zion", State: types.NewStopped("c1")}))

	resumer := &fakeResumer{store: store}
	resumer.onSubmit = func(name string) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			project, err := store.GetProject(name)
			if err != nil {
				return
			}
			project.State = types.NewReady("c1", backend.Listener.Addr().String())
			store.UpdateProject(project)
		}()
	}

	p := New(store, router.New(store, "apps.example.com"), resumer, nil)

	req := httptest.NewRequest("GET", "http://zion.apps.example.com/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Equal(t, []string{"zion"}, resumer.calls)
}

func TestServeHTTP_ResumeTimesOutReturns504(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateProject(&types.Project{Name: "zion", State: types.NewStarting("c1", 0)}))

	p := New(store, router.New(store, "apps.example.com"), &fakeResumer{}, nil)

	done := make(chan struct{})
	var code int
	go func() {
		req := httptest.NewRequest("GET", "http://zion.apps.example.com/", nil)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		code = rec.Code
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(TResume + 5*time.Second):
		t.Fatal("ServeHTTP did not return within expected bound")
	}
	require.Equal(t, 504, code)
}
