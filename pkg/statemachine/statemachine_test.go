package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/gatewayd/pkg/driver"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	createErr  error
	inspectSt  driver.Status
	inspectErr error
	startErr   error
	stopErr    error
	removeErr  error
}

func (f *fakeDriver) Create(ctx context.Context, name string, settings types.ContainerSettings) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "container-1", nil
}

func (f *fakeDriver) Inspect(ctx context.Context, containerID string) (driver.Status, error) {
	return f.inspectSt, f.inspectErr
}

func (f *fakeDriver) Start(ctx context.Context, containerID string) error { return f.startErr }

func (f *fakeDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	return f.stopErr
}

func (f *fakeDriver) Remove(ctx context.Context, containerID string, force bool) error {
	return f.removeErr
}

func baseCtx(d driver.Driver) Context {
	return Context{
		Context:     context.Background(),
		Driver:      d,
		Settings:    types.ContainerSettings{Image: "acme/app:latest"},
		HealthProbe: func(context.Context, string) bool { return true },
	}
}

func TestAdvance_CreatingToAttaching(t *testing.T) {
	d := &fakeDriver{}
	next := Advance(types.NewCreating(0), baseCtx(d))
	require.Equal(t, types.StateAttaching, next.Kind)
	require.Equal(t, "container-1", next.ContainerID)
}

func TestAdvance_CreatingTransientRetries(t *testing.T) {
	d := &fakeDriver{createErr: &driver.Error{Kind: driver.Transient, Err: errDeadline()}}
	next := Advance(types.NewCreating(0), baseCtx(d))
	require.Equal(t, types.StateCreating, next.Kind)
	require.Equal(t, 1, next.RecreateCount)
}

func TestAdvance_CreatingExhaustsRetriesToErrored(t *testing.T) {
	d := &fakeDriver{createErr: &driver.Error{Kind: driver.Transient, Err: errDeadline()}}
	next := Advance(types.NewCreating(K1RecreateCap), baseCtx(d))
	require.Equal(t, types.StateErrored, next.Kind)
}

func TestAdvance_AttachingImageMismatchRecreates(t *testing.T) {
	d := &fakeDriver{inspectSt: driver.Status{Image: "other/app:latest"}}
	next := Advance(types.NewAttaching("c1", 0), baseCtx(d))
	require.Equal(t, types.StateRecreating, next.Kind)
}

func TestAdvance_AttachingNotFoundRecreates(t *testing.T) {
	d := &fakeDriver{inspectErr: &driver.Error{Kind: driver.NotFound, Err: errDeadline()}}
	next := Advance(types.NewAttaching("c1", 0), baseCtx(d))
	require.Equal(t, types.StateRecreating, next.Kind)
}

func TestAdvance_StartingToStarted(t *testing.T) {
	d := &fakeDriver{inspectSt: driver.Status{Running: true}}
	next := Advance(types.NewStarting("c1", 0), baseCtx(d))
	require.Equal(t, types.StateStarted, next.Kind)
}

func TestAdvance_StartedHealthyBecomesReady(t *testing.T) {
	d := &fakeDriver{inspectSt: driver.Status{Running: true, Address: "10.0.0.9"}}
	next := Advance(types.NewStarted("c1", 0), baseCtx(d))
	require.Equal(t, types.StateReady, next.Kind)
	require.Equal(t, "10.0.0.9:8080", next.BackendAddr)
}

func TestAdvance_StartedUnhealthyRestarts(t *testing.T) {
	d := &fakeDriver{inspectSt: driver.Status{Running: true, Address: "10.0.0.9"}}
	ctx := baseCtx(d)
	ctx.HealthProbe = func(context.Context, string) bool { return false }
	next := Advance(types.NewStarted("c1", 0), ctx)
	require.Equal(t, types.StateRestarting, next.Kind)
}

func TestAdvance_ReadyNoIntentIsNoop(t *testing.T) {
	d := &fakeDriver{}
	ready := types.NewReady("c1", "10.0.0.9:8080")
	next := Advance(ready, baseCtx(d))
	require.Equal(t, ready, next)
}

func TestAdvance_ReadyStopIntent(t *testing.T) {
	d := &fakeDriver{}
	ctx := baseCtx(d)
	ctx.Intent = IntentStop
	next := Advance(types.NewReady("c1", "10.0.0.9:8080"), ctx)
	require.Equal(t, types.StateStopping, next.Kind)
}

func TestAdvance_StoppedResumeIntent(t *testing.T) {
	d := &fakeDriver{}
	ctx := baseCtx(d)
	ctx.Intent = IntentResume
	next := Advance(types.NewStopped("c1"), ctx)
	require.Equal(t, types.StateStarting, next.Kind)
}

func TestAdvance_DestroyIntentAbsorbsAnyState(t *testing.T) {
	d := &fakeDriver{}
	ctx := baseCtx(d)
	ctx.Intent = IntentDestroy
	next := Advance(types.NewReady("c1", "10.0.0.9:8080"), ctx)
	require.Equal(t, types.StateDestroying, next.Kind)
}

func TestAdvance_DestroyingToDestroyed(t *testing.T) {
	d := &fakeDriver{}
	next := Advance(types.NewDestroying("c1"), baseCtx(d))
	require.Equal(t, types.StateDestroyed, next.Kind)
}

func TestAdvance_DestroyedIsAbsorbing(t *testing.T) {
	d := &fakeDriver{}
	ctx := baseCtx(d)
	ctx.Intent = IntentDestroy
	next := Advance(types.NewDestroyed(), ctx)
	require.Equal(t, types.StateDestroyed, next.Kind)
}

func TestAdvance_ErroredRestartIntentRetriesFromCreating(t *testing.T) {
	d := &fakeDriver{}
	ctx := baseCtx(d)
	ctx.Intent = IntentRestart
	next := Advance(types.NewErrored("boom", "started", types.StateStarted), ctx)
	require.Equal(t, types.StateCreating, next.Kind)
}

func errDeadline() error {
	return context.DeadlineExceeded
}
