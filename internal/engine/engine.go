// Package engine implements the Agent Execution Engine: an in-process
// scheduler that spawns, tracks, times out, and gracefully shuts down
// concurrent agent invocations under a configurable concurrency ceiling.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aidlc/gorilla-troop/internal/envelope"
)

// ErrShuttingDown is returned by Spawn once Shutdown has begun.
var ErrShuttingDown = errors.New("engine: shutting down, spawn refused")

// Config holds the engine's two environment-derived settings.
type Config struct {
	// ConcurrencyCeiling bounds how many runners may be in status running
	// simultaneously. Default 4.
	ConcurrencyCeiling int
	// InvocationTimeout is the hard per-invocation deadline from the
	// moment a runner is admitted. Default 3600s.
	InvocationTimeout time.Duration
}

// DefaultConfig returns the spec's default engine configuration.
func DefaultConfig() Config {
	return Config{
		ConcurrencyCeiling: 4,
		InvocationTimeout:  3600 * time.Second,
	}
}

// Runner executes one worker invocation. It receives the agent instance
// and an opaque context map and returns a semantic result map. A runner
// must honour ctx cancellation promptly: cancellation is delivered at
// suspension points (LLM calls, file reads, subprocess calls, sleeps).
type Runner func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error)

// Engine owns the full lifetime of every agent invocation in-process.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	runners map[envelope.WorkerType]Runner

	sem chan struct{}

	instMu    sync.RWMutex
	instances map[string]*Instance

	shuttingDown atomicBool
	wg           sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	metrics *metricsSet
}

// Option customises Engine construction.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs an Engine. The returned Engine must eventually be
// Shutdown to release its background context.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.ConcurrencyCeiling <= 0 {
		cfg.ConcurrencyCeiling = DefaultConfig().ConcurrencyCeiling
	}
	if cfg.InvocationTimeout <= 0 {
		cfg.InvocationTimeout = DefaultConfig().InvocationTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		logger:     slog.Default(),
		runners:    make(map[envelope.WorkerType]Runner),
		sem:        make(chan struct{}, cfg.ConcurrencyCeiling),
		instances:  make(map[string]*Instance),
		baseCtx:    ctx,
		baseCancel: cancel,
		metrics:    newMetricsSet(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterRunner installs an execution function for a worker type.
// Registration is idempotent; the latest registration wins.
func (e *Engine) RegisterRunner(workerType envelope.WorkerType, runner Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners[workerType] = runner
}

// Spawn allocates a fresh instance, records it as starting, and schedules
// its execution. It returns before the runner starts executing; the
// instance's status transitions to running once admitted. Spawn fails
// once Shutdown has begun.
func (e *Engine) Spawn(workerType envelope.WorkerType, taskCtx map[string]any, projectKey, taskID string) (*Instance, error) {
	if e.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	inst := newInstance(workerType, projectKey, taskID)

	instCtx, instCancel := context.WithCancel(e.baseCtx)
	inst.cancel = instCancel

	e.instMu.Lock()
	e.instances[inst.ID] = inst
	e.instMu.Unlock()

	e.metrics.incSpawned()
	e.wg.Add(1)
	go e.run(instCtx, inst, taskCtx)

	return inst, nil
}

func (e *Engine) run(ctx context.Context, inst *Instance, taskCtx map[string]any) {
	defer e.wg.Done()

	// Admission: block on the semaphore until a slot frees, the instance
	// is cancelled, or the engine shuts down. A cancellation delivered
	// before admission ends the instance as stopped, not error (per the
	// spec's state diagram: "shutdown before admission").
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		inst.setStatus(StatusStopped)
		return
	}
	defer func() { <-e.sem }()

	inst.setStatus(StatusRunning)
	e.metrics.addRunning(1)
	defer e.metrics.addRunning(-1)

	e.mu.RLock()
	runner, ok := e.runners[inst.WorkerType]
	e.mu.RUnlock()

	if !ok {
		inst.setError(fmt.Errorf("engine: no runner registered for worker type %q", inst.WorkerType))
		e.metrics.incErrored()
		e.logger.Error("spawn accepted for unregistered worker type", "worker_type", inst.WorkerType, "instance", inst.ID)
		return
	}

	runCtx, runCancel := context.WithTimeout(ctx, e.cfg.InvocationTimeout)
	defer runCancel()

	done := make(chan error, 1)
	go func() {
		_, err := runner(runCtx, inst, taskCtx)
		done <- err
	}()
	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		select {
		case err = <-done:
		case <-time.After(5 * time.Second):
			err = runCtx.Err()
		}
	}
	if err != nil {
		inst.setError(err)
		e.metrics.incErrored()
		e.logger.Error("agent invocation failed", "instance", inst.ID, "worker_type", inst.WorkerType, "error", err)
		return
	}

	if runCtx.Err() != nil {
		inst.setError(runCtx.Err())
		e.metrics.incErrored()
		return
	}

	inst.setStatus(StatusStopped)
}

// Stop requests cancellation of the instance with the given id. The
// instance reaches a terminal status within at most ~5s; resources are
// released even if the runner ignores cancellation (the hard per-
// invocation deadline bounds that independently).
func (e *Engine) Stop(id string, reason string) error {
	e.instMu.RLock()
	inst, ok := e.instances[id]
	e.instMu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: no such instance %q", id)
	}
	e.logger.Info("stopping instance", "instance", id, "reason", reason)
	inst.mu.Lock()
	if inst.status == StatusStarting || inst.status == StatusRunning {
		inst.status = StatusStopping
	}
	inst.mu.Unlock()
	inst.cancel()
	return nil
}

// Get returns a snapshot of the instance with the given id.
func (e *Engine) Get(id string) (Snapshot, bool) {
	e.instMu.RLock()
	inst, ok := e.instances[id]
	e.instMu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return inst.snapshot(), true
}

// ListActive returns a snapshot of every instance currently starting or
// running.
func (e *Engine) ListActive() []Snapshot {
	e.instMu.RLock()
	defer e.instMu.RUnlock()
	out := make([]Snapshot, 0, len(e.instances))
	for _, inst := range e.instances {
		if inst.Active() {
			out = append(out, inst.snapshot())
		}
	}
	return out
}

// ListAll returns a snapshot of every instance ever spawned.
func (e *Engine) ListAll() []Snapshot {
	e.instMu.RLock()
	defer e.instMu.RUnlock()
	out := make([]Snapshot, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst.snapshot())
	}
	return out
}

// Shutdown sets the shutdown flag (preventing further spawns), waits up to
// timeout for active runners to finish, then cancels the remainder and
// forces every surviving instance to status stopped. Shutdown returns
// within timeout + ~5s.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.shuttingDown.Store(true)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		e.baseCancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}

	e.instMu.Lock()
	for _, inst := range e.instances {
		if inst.Active() {
			inst.setStatus(StatusStopped)
		}
	}
	e.instMu.Unlock()

	return nil
}
