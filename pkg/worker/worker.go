// Package worker drives each project's lifecycle forward: a sharded pool of
// goroutines consumes per-project tasks FIFO, applies one state machine
// step, persists the result, and self-enqueues a continuation until the
// project reaches a quiescent state. A periodic refresh sweep and an
// idle-timeout sweep keep projects moving even when no task was lost.
package worker

import (
	"context"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/gatewayd/pkg/driver"
	"github.com/cuemby/gatewayd/pkg/log"
	"github.com/cuemby/gatewayd/pkg/metrics"
	"github.com/cuemby/gatewayd/pkg/statemachine"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultIdleSweep       = 1 * time.Minute
	idleTimeout            = 30 * time.Minute

	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// Config holds worker pool configuration.
type Config struct {
	Shards          int // defaults to runtime.NumCPU() when 0
	RefreshInterval time.Duration
	IdleSweep       time.Duration
}

// Worker is the sharded per-project task queue and advancement loop.
type Worker struct {
	store  storage.Store
	driver driver.Driver
	logger zerolog.Logger

	shards  []chan *types.Task
	nextID  uint64
	cfg     Config
	events  *EventLog
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// HealthProbe overrides the Started-state backend health check; nil
	// means the production TCP+HTTP probe in pkg/statemachine is used.
	// Exposed for tests that don't have a real backend to dial.
	HealthProbe func(ctx context.Context, addr string) bool
}

// New creates a worker pool backed by store for persistence and drv for
// container operations. Call Start to begin processing.
func New(store storage.Store, drv driver.Driver, cfg Config) *Worker {
	if cfg.Shards <= 0 {
		cfg.Shards = runtime.NumCPU()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.IdleSweep <= 0 {
		cfg.IdleSweep = defaultIdleSweep
	}

	w := &Worker{
		store:  store,
		driver: drv,
		logger: log.WithComponent("worker"),
		shards: make([]chan *types.Task, cfg.Shards),
		cfg:    cfg,
		events: NewEventLog(200),
		stopCh: make(chan struct{}),
	}
	for i := range w.shards {
		w.shards[i] = make(chan *types.Task, 256)
	}
	return w
}

// Events returns the in-memory audit log the admin surface's event endpoint
// reads from.
func (w *Worker) Events() *EventLog { return w.events }

// Start launches the shard consumers, the periodic refresh sweep, the
// idle-timeout sweep, and replays any tasks left over from a previous crash.
func (w *Worker) Start() {
	for i := range w.shards {
		w.wg.Add(1)
		go w.runShard(i)
	}

	w.wg.Add(2)
	go w.refreshLoop()
	go w.idleLoop()

	w.replayPending()
}

// Stop signals every shard consumer and background sweep to exit and waits
// for in-flight work to drain. Shard channels are never closed: a task
// being enqueued concurrently with shutdown must never panic on a send to
// a closed channel.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// Submit durably enqueues a task for project and assigns it to a shard by
// stable hash of the project name, guaranteeing FIFO per project.
func (w *Worker) Submit(projectName string, payload types.TaskPayloadKind, intent types.IntentKind) (*types.Task, error) {
	t := &types.Task{
		ID:          atomic.AddUint64(&w.nextID, 1),
		ProjectName: projectName,
		PayloadKind: payload,
		Intent:      intent,
		EnqueuedAt:  time.Now(),
	}
	if err := w.store.SaveTask(t); err != nil {
		return nil, err
	}
	w.enqueue(t)
	return t, nil
}

func (w *Worker) enqueue(t *types.Task) {
	idx := shardFor(t.ProjectName, len(w.shards))
	metrics.TasksQueued.WithLabelValues(shardLabel(idx)).Inc()
	select {
	case w.shards[idx] <- t:
	case <-w.stopCh:
	}
}

func (w *Worker) runShard(idx int) {
	defer w.wg.Done()
	for {
		select {
		case t := <-w.shards[idx]:
			metrics.TasksQueued.WithLabelValues(shardLabel(idx)).Dec()
			w.process(t)
		case <-w.stopCh:
			return
		}
	}
}

// process applies one state transition for t's project, persists the
// result, records an audit event, and self-enqueues a continuation unless
// the project has reached a quiescent state.
func (w *Worker) process(t *types.Task) {
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		metrics.TasksProcessedTotal.WithLabelValues(string(t.PayloadKind), outcome).Inc()
		timer.ObserveDurationVec(metrics.TaskLatency, string(t.PayloadKind))
	}()

	logger := log.WithTask(t.ID)

	project, err := w.store.GetProject(t.ProjectName)
	if err != nil {
		// Project was deleted between enqueue and processing: drop the task.
		_ = w.store.DeleteTask(t.ID)
		outcome = "project_gone"
		return
	}

	ctx := context.Background()
	smCtx := statemachine.Context{
		Context:     statemachine.WithProjectName(ctx, project.Name),
		Driver:      w.driver,
		Settings:    project.Settings,
		Intent:      mapIntent(t),
		HealthProbe: w.HealthProbe,
	}

	from := project.State
	transitionTimer := metrics.NewTimer()
	next := statemachine.Advance(from, smCtx)
	transitionTimer.ObserveDurationVec(metrics.StateTransitionDuration, string(from.Kind))

	project.State = next
	project.UpdatedAt = time.Now()
	if next.Kind == types.StateReady {
		project.LastActiveAt = project.UpdatedAt
	}

	if err := w.store.UpdateProject(project); err != nil {
		logger.Error().Err(err).Str("project", project.Name).Msg("failed to persist state transition")
		outcome = "persist_error"
	}
	_ = w.store.DeleteTask(t.ID)

	w.events.Record(types.Event{
		Kind:        types.EventStateTransition,
		ProjectName: project.Name,
		Timestamp:   project.UpdatedAt,
		FromState:   from.Kind,
		ToState:     next.Kind,
		Message:     next.Message,
	})

	metrics.ProjectsTotal.WithLabelValues(string(next.Kind)).Inc()
	if from.Kind != next.Kind {
		metrics.ProjectsTotal.WithLabelValues(string(from.Kind)).Dec()
	}

	if quiescent(next) {
		return
	}

	delay, attempt := w.continuationDelay(from, next, t.Attempt)
	cont := &types.Task{
		ID:          atomic.AddUint64(&w.nextID, 1),
		ProjectName: project.Name,
		PayloadKind: types.PayloadRefresh,
		EnqueuedAt:  time.Now(),
		Attempt:     attempt,
	}
	if err := w.store.SaveTask(cont); err != nil {
		logger.Error().Err(err).Msg("failed to persist continuation task")
		return
	}
	if delay <= 0 {
		w.enqueue(cont)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-time.After(delay):
			w.enqueue(cont)
		case <-w.stopCh:
		}
	}()
}

// continuationDelay detects a same-kind retry (no forward progress) and
// applies exponential backoff; a genuine state change continues immediately.
func (w *Worker) continuationDelay(from, to types.ProjectState, attempt int) (time.Duration, int) {
	if from.Kind != to.Kind {
		return 0, 0
	}
	next := attempt + 1
	delay := backoffBase << uint(attempt)
	if delay > backoffMax {
		delay = backoffMax
	}
	return delay, next
}

// quiescent reports whether a state requires no further automatic
// advancement: Ready and Stopped wait for an external task, Destroyed and
// Errored are terminal.
func quiescent(s types.ProjectState) bool {
	switch s.Kind {
	case types.StateReady, types.StateStopped, types.StateDestroyed, types.StateErrored:
		return true
	default:
		return false
	}
}

func mapIntent(t *types.Task) statemachine.Intent {
	switch t.PayloadKind {
	case types.PayloadRefresh, types.PayloadCheckHealth:
		return statemachine.IntentRefresh
	case types.PayloadDestroy:
		return statemachine.IntentDestroy
	case types.PayloadBoxedIntent:
		switch t.Intent {
		case types.IntentRestart:
			return statemachine.IntentRestart
		case types.IntentResume:
			return statemachine.IntentResume
		case types.IntentStop:
			return statemachine.IntentStop
		default:
			return statemachine.IntentNone
		}
	default:
		return statemachine.IntentNone
	}
}

// refreshLoop periodically enqueues a Refresh task for every non-terminal
// project so crashes, external kills, and host reboots self-heal.
func (w *Worker) refreshLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.refreshAll()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) refreshAll() {
	projects, err := w.store.ListProjects()
	if err != nil {
		w.logger.Error().Err(err).Msg("refresh sweep: failed to list projects")
		return
	}
	for _, p := range projects {
		if p.State.IsTerminal() {
			continue
		}
		if _, err := w.Submit(p.Name, types.PayloadRefresh, ""); err != nil {
			w.logger.Error().Err(err).Str("project", p.Name).Msg("refresh sweep: failed to submit task")
		}
	}
	metrics.ReconciliationCyclesTotal.Inc()
}

// idleLoop enqueues a Stop intent for Ready projects that have not served a
// request in idleTimeout.
func (w *Worker) idleLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.IdleSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.stopIdle()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) stopIdle() {
	projects, err := w.store.ListProjects()
	if err != nil {
		w.logger.Error().Err(err).Msg("idle sweep: failed to list projects")
		return
	}
	now := time.Now()
	for _, p := range projects {
		if p.State.Kind != types.StateReady {
			continue
		}
		if now.Sub(p.LastActiveAt) < idleTimeout {
			continue
		}
		if _, err := w.Submit(p.Name, types.PayloadBoxedIntent, types.IntentStop); err != nil {
			w.logger.Error().Err(err).Str("project", p.Name).Msg("idle sweep: failed to submit stop task")
		}
	}
}

// replayPending re-enqueues tasks left in the durable log by a previous
// process that crashed between persisting the task and draining its queue.
func (w *Worker) replayPending() {
	pending, err := w.store.ListPendingTasks()
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list pending tasks on startup")
		return
	}
	for _, t := range pending {
		w.logger.Info().Uint64("task_id", t.ID).Str("project", t.ProjectName).Msg("replaying pending task")
		w.enqueue(t)
	}
}

func shardFor(projectName string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(projectName))
	return int(h.Sum32()) % shards
}

func shardLabel(idx int) string {
	return strconv.Itoa(idx)
}
