// Package statemachine implements the project lifecycle dispatch table:
// advance(state, ctx) -> state'. Every internal failure folds into a
// retry-eligible intermediate state or into Errored; the function never
// returns an error to its caller.
package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/gatewayd/pkg/driver"
	"github.com/cuemby/gatewayd/pkg/health"
	"github.com/cuemby/gatewayd/pkg/types"
)

// Tuning constants, fixed per deployment.
const (
	K1RecreateCap = 3
	K2RestartCap  = 5

	TStop   = 10 * time.Second
	TStart  = 60 * time.Second
	THealth = 30 * time.Second
)

// Intent names the external trigger driving an advance call when the
// current state alone is not enough to determine the next step (Ready,
// Stopped and Errored only advance on an explicit intent).
type Intent string

const (
	IntentNone    Intent = ""
	IntentResume  Intent = "resume"
	IntentStop    Intent = "stop"
	IntentRestart Intent = "restart"
	IntentDestroy Intent = "destroy"
	IntentRefresh Intent = "refresh"
)

// Context carries everything advance needs to perform one transition's
// side effects: the driver, the project's immutable settings, and the
// intent (if any) that triggered this tick.
type Context struct {
	context.Context
	Driver   driver.Driver
	Settings types.ContainerSettings
	Intent   Intent
	// HealthProbe is injectable for testing; defaults to an HTTP GET
	// against the container's health endpoint when nil.
	HealthProbe func(ctx context.Context, addr string) bool
}

// Advance computes the next state from the current one. destroy always
// fast-paths to Destroying regardless of the source state, per the
// absorbing-destroy rule.
func Advance(state types.ProjectState, ctx Context) types.ProjectState {
	if ctx.Intent == IntentDestroy && state.Kind != types.StateDestroyed {
		return types.NewDestroying(state.ContainerID)
	}

	switch state.Kind {
	case types.StateCreating:
		return advanceCreating(state, ctx)
	case types.StateAttaching:
		return advanceAttaching(state, ctx)
	case types.StateStarting:
		return advanceStarting(state, ctx)
	case types.StateStarted:
		return advanceStarted(state, ctx)
	case types.StateReady:
		return advanceReady(state, ctx)
	case types.StateStopping:
		return advanceStopping(state, ctx)
	case types.StateStopped:
		return advanceStopped(state, ctx)
	case types.StateRestarting:
		return advanceRestarting(state, ctx)
	case types.StateRecreating:
		return advanceRecreating(state, ctx)
	case types.StateDestroying:
		return advanceDestroying(state, ctx)
	case types.StateDestroyed:
		return state
	case types.StateErrored:
		return advanceErrored(state, ctx)
	default:
		return types.NewErrored(fmt.Sprintf("unknown state kind %q", state.Kind), "advance", state.Kind)
	}
}

func advanceCreating(state types.ProjectState, ctx Context) types.ProjectState {
	id, err := ctx.Driver.Create(ctx.Context, ctx.projectNameHint(), ctx.Settings)
	if err == nil {
		return types.NewAttaching(id, state.RecreateCount)
	}
	if state.RecreateCount < K1RecreateCap && driver.KindOf(err) == driver.Transient {
		return types.NewCreating(state.RecreateCount + 1)
	}
	return types.NewErrored(err.Error(), "creating", types.StateCreating)
}

func advanceAttaching(state types.ProjectState, ctx Context) types.ProjectState {
	st, err := ctx.Driver.Inspect(ctx.Context, state.ContainerID)
	switch {
	case err == nil && st.Image == ctx.Settings.Image:
		return types.NewStarting(state.ContainerID, 0)
	case err == nil:
		// Image/config mismatch: unrecoverable in place.
		return types.NewRecreating(state.RecreateCount + 1)
	case driver.KindOf(err) == driver.NotFound:
		return types.NewRecreating(state.RecreateCount + 1)
	default:
		return types.NewErrored(err.Error(), "attaching", types.StateAttaching)
	}
}

func advanceStarting(state types.ProjectState, ctx Context) types.ProjectState {
	err := ctx.Driver.Start(ctx.Context, state.ContainerID)
	if err == nil {
		st, inspectErr := ctx.Driver.Inspect(ctx.Context, state.ContainerID)
		if inspectErr == nil && st.Running {
			return types.NewStarted(state.ContainerID, state.RestartCount)
		}
	}
	if state.RestartCount < K2RestartCap {
		return types.NewRestarting(state.ContainerID, state.RestartCount+1)
	}
	return types.NewErrored(errString(err), "starting", types.StateStarting)
}

func advanceStarted(state types.ProjectState, ctx Context) types.ProjectState {
	st, err := ctx.Driver.Inspect(ctx.Context, state.ContainerID)
	if err != nil || !st.Running || st.Address == "" {
		if state.StartCount < K2RestartCap {
			return types.NewRestarting(state.ContainerID, state.StartCount+1)
		}
		return types.NewErrored(errString(err), "started", types.StateStarted)
	}

	backendAddr := fmt.Sprintf("%s:8080", st.Address)
	if probe(ctx, backendAddr) {
		return types.NewReady(state.ContainerID, backendAddr)
	}
	if state.StartCount < K2RestartCap {
		return types.NewRestarting(state.ContainerID, state.StartCount+1)
	}
	return types.NewErrored("health probe failed", "started", types.StateStarted)
}

// advanceReady handles Ready, which is externally (not self-)advanced:
// stop (idle-timeout), restart, refresh (crash-detection) and destroy
// intents move it elsewhere. Absent an intent it is a no-op.
func advanceReady(state types.ProjectState, ctx Context) types.ProjectState {
	switch ctx.Intent {
	case IntentStop:
		return types.NewStopping(state.ContainerID)
	case IntentRestart:
		return types.NewRestarting(state.ContainerID, 0)
	case IntentRefresh:
		st, err := ctx.Driver.Inspect(ctx.Context, state.ContainerID)
		if err != nil || !st.Running {
			return types.NewRestarting(state.ContainerID, 0)
		}
		return state
	default:
		return state
	}
}

func advanceStopping(state types.ProjectState, ctx Context) types.ProjectState {
	err := ctx.Driver.Stop(ctx.Context, state.ContainerID, TStop)
	if err != nil {
		// Force-kill fallback: remove is idempotent, so a failed graceful
		// stop still lands on Stopped.
		_ = ctx.Driver.Remove(ctx.Context, state.ContainerID, true)
	}
	return types.NewStopped(state.ContainerID)
}

func advanceStopped(state types.ProjectState, ctx Context) types.ProjectState {
	if ctx.Intent == IntentResume {
		return types.NewStarting(state.ContainerID, 0)
	}
	return state
}

func advanceRestarting(state types.ProjectState, ctx Context) types.ProjectState {
	if state.RestartCount > K2RestartCap {
		return types.NewErrored("restart cap exceeded", "restarting", types.StateRestarting)
	}
	_ = ctx.Driver.Stop(ctx.Context, state.ContainerID, TStop)
	return types.NewStarting(state.ContainerID, state.RestartCount)
}

func advanceRecreating(state types.ProjectState, ctx Context) types.ProjectState {
	if state.RecreateCount > K1RecreateCap {
		return types.NewErrored("recreate cap exceeded", "recreating", types.StateRecreating)
	}
	_ = ctx.Driver.Remove(ctx.Context, state.ContainerID, true)
	return types.NewCreating(state.RecreateCount)
}

func advanceDestroying(state types.ProjectState, ctx Context) types.ProjectState {
	// Idempotent: driver.Remove tolerates "no such container".
	_ = ctx.Driver.Remove(ctx.Context, state.ContainerID, true)
	return types.NewDestroyed()
}

func advanceErrored(state types.ProjectState, ctx Context) types.ProjectState {
	switch ctx.Intent {
	case IntentRestart:
		return types.NewCreating(0)
	default:
		return state
	}
}

func probe(ctx Context, addr string) bool {
	if ctx.HealthProbe != nil {
		return ctx.HealthProbe(ctx.Context, addr)
	}
	tcp := health.NewTCPChecker(addr)
	if !tcp.Check(ctx.Context).Healthy {
		return false
	}
	http := health.NewHTTPChecker("http://" + addr + "/").WithTimeout(THealth)
	return http.Check(ctx.Context).Healthy
}

func errString(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}

// projectNameHint lets Context carry the project name without widening the
// Context struct's exported surface; Driver.Create needs it for naming.
func (c Context) projectNameHint() string {
	if n, ok := c.Context.Value(projectNameKey{}).(string); ok {
		return n
	}
	return ""
}

type projectNameKey struct{}

// WithProjectName returns a child context.Context carrying the project
// name for Driver.Create to use when naming the container.
func WithProjectName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, projectNameKey{}, name)
}
