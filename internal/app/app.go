// Package app wires every collaborator, worker, and control-path
// component into one running instance: the Agent Execution Engine, the
// Workflow Graph Driver, the Review/Rework Machine, the Notification
// Priority Queue, and the project registry.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aidlc/gorilla-troop/config"
	"github.com/aidlc/gorilla-troop/internal/artifact"
	"github.com/aidlc/gorilla-troop/internal/engine"
	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
	"github.com/aidlc/gorilla-troop/internal/notification"
	"github.com/aidlc/gorilla-troop/internal/promptlib"
	"github.com/aidlc/gorilla-troop/internal/registry"
	"github.com/aidlc/gorilla-troop/internal/review"
	"github.com/aidlc/gorilla-troop/internal/supervisor"
	"github.com/aidlc/gorilla-troop/internal/worker"
	"github.com/aidlc/gorilla-troop/internal/workers"
	"github.com/aidlc/gorilla-troop/internal/writeguard"
)

// App is the fully wired process. Every field is safe to use
// concurrently; App itself owns no additional locking.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Engine     *engine.Engine
	Supervisor *supervisor.Supervisor
	Notify     *notification.Queue
	Registry   *registry.Registry
	Bus        *messagebus.Client
	Prompts    *promptlib.Library

	storesMu sync.Mutex
	stores   map[string]*issuestore.Client
}

// New constructs an App from cfg, wiring the engine, supervisor, and
// every registered worker runner. Callers drive the supervisor
// themselves (Initialize/Advance/HandleCompletion) from their own loop
// or HTTP surface.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus := messagebus.New(cfg.Bus.BaseURL, messagebus.WithLogger(logger))

	reg, err := registry.Load(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("app: load registry: %w", err)
	}

	prompts, err := promptlib.Load(cfg.Prompts.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("app: load prompts: %w", err)
	}

	notify := notification.New()

	eng := engine.New(engine.Config{
		ConcurrencyCeiling: cfg.Engine.ConcurrencyCeiling,
		InvocationTimeout:  cfg.Engine.InvocationTimeout,
	}, engine.WithLogger(logger))

	a := &App{
		cfg:      cfg,
		logger:   logger,
		Engine:   eng,
		Notify:   notify,
		Registry: reg,
		Bus:      bus,
		Prompts:  prompts,
		stores:   make(map[string]*issuestore.Client),
	}

	// The concrete language-model client is out of scope here (the core
	// depends only on llmclient.Invoker); a deployment wires its own
	// Invoker in place of this fake before going to production.
	llm := llmclient.NewFake("")

	sup := supervisor.New(a.storeFor, eng, bus, logger)
	a.Supervisor = sup

	a.registerRunners(llm)

	return a, nil
}

// ReviewMachineFor builds a Review/Rework Machine scoped to one
// project's issue store and write-guard gateway. The issue-store client
// is cached by storeFor; writeGuardFor builds a fresh gateway and file
// guard on every call. Callers build one per request rather than holding
// it long-term.
func (a *App) ReviewMachineFor(projectKey, workspaceRoot string) *review.Machine {
	store := a.storeFor(projectKey, workspaceRoot).(*issuestore.Client)
	_, writer := a.writeGuardFor(workspaceRoot)
	return review.New(store, writer, a.Engine, a.Bus, a.logger)
}

// storeFor lazily constructs (and caches) a workspace-scoped issue-store
// client per project, satisfying supervisor.StoreFactory.
func (a *App) storeFor(projectKey, workspaceRoot string) supervisor.IssueStore {
	a.storesMu.Lock()
	defer a.storesMu.Unlock()
	if c, ok := a.stores[projectKey]; ok {
		return c
	}
	c := issuestore.New(issuestore.WithWorkspace(workspaceRoot), issuestore.WithLogger(a.logger))
	a.stores[projectKey] = c
	return c
}

// writeGuardFor builds the write-guard gateway (structured operation
// dispatch, for the WriteGuardWorker) and its underlying file guard
// (the plain WriteFile capability workers like Rework and the security
// scanner need to save an artifact directly) for one workspace.
func (a *App) writeGuardFor(workspaceRoot string) (*writeguard.Gateway, *writeguard.FileGuard) {
	store := issuestore.New(issuestore.WithWorkspace(workspaceRoot), issuestore.WithLogger(a.logger))
	auditLog := writeguard.NewAuditLog(a.logger, a.Bus, messagebus.HumanSupervisorIdentity)
	files := writeguard.NewFileGuard(auditLog, workspaceRoot)
	git := writeguard.NewGitGuard(auditLog, workspaceRoot)
	beads := writeguard.NewBeadsGuard(auditLog, store)
	return writeguard.NewGateway(files, git, beads), files
}

// registerRunners installs an engine.Runner for every worker type the
// dispatch table can route to, adapting each worker.Executor through
// the shared worker.Base dispatch handler.
func (a *App) registerRunners(llm llmclient.Invoker) {
	stageTypes := []envelope.WorkerType{
		envelope.TroopWorkspaceDiscovery,
		envelope.TroopRequirementsAnalysis,
		envelope.TroopStoryAuthoring,
		envelope.TroopPlanning,
		envelope.TroopArchitecture,
		envelope.TroopNFR,
		envelope.TroopCodeGeneration,
		envelope.TroopBuildTest,
	}
	loadCtx := worker.LoadContext

	for _, wt := range stageTypes {
		wt := wt
		base := worker.NewBase(string(wt), a.Bus, worker.WithLogger(a.logger))
		exec := workers.NewStageWorker(wt, llm, a.Prompts, loadCtx)
		a.Engine.RegisterRunner(wt, adapt(base, exec))
	}

	a.Engine.RegisterRunner(envelope.TroopGeneric, adapt(
		worker.NewBase(string(envelope.TroopGeneric), a.Bus, worker.WithLogger(a.logger)),
		workers.NewStageWorker(envelope.TroopGeneric, llm, a.Prompts, loadCtx),
	))

	investigatorBase := worker.NewBase(worker.ErrorInvestigatorIdentity, a.Bus, worker.WithLogger(a.logger))
	a.Engine.RegisterRunner(envelope.TroopErrorInvestigator, adaptDynamic(investigatorBase, func(d envelope.Dispatch) worker.Executor {
		store := a.storeFor(d.ProjectKey, d.WorkspaceRoot).(*issuestore.Client)
		return workers.NewErrorInvestigator(worker.ErrorInvestigatorIdentity, llm, store, a.Bus, loadCtx)
	}))

	reworkIdentity := "rework"
	reworkBase := worker.NewBase(reworkIdentity, a.Bus, worker.WithLogger(a.logger))
	a.Engine.RegisterRunner(envelope.TroopRework, adaptDynamic(reworkBase, func(d envelope.Dispatch) worker.Executor {
		_, files := a.writeGuardFor(d.WorkspaceRoot)
		return workers.NewReworkWorker(reworkIdentity, llm, files, a.Bus)
	}))

	monitorIdentity := "monitor"
	monitorBase := worker.NewBase(monitorIdentity, a.Bus, worker.WithLogger(a.logger))
	a.Engine.RegisterRunner(envelope.TroopMonitor, adaptDynamic(monitorBase, func(d envelope.Dispatch) worker.Executor {
		store := a.storeFor(d.ProjectKey, d.WorkspaceRoot).(*issuestore.Client)
		return workers.NewMonitor(monitorIdentity, store, a.Bus, a.Bus)
	}))

	secScanIdentity := "security-scanner"
	secScanBase := worker.NewBase(secScanIdentity, a.Bus, worker.WithLogger(a.logger))
	a.Engine.RegisterRunner(envelope.TroopSecurityScanner, adaptDynamic(secScanBase, func(d envelope.Dispatch) worker.Executor {
		_, files := a.writeGuardFor(d.WorkspaceRoot)
		var w artifact.Writer = files
		return workers.NewSecurityScanner(llm, w, secScanIdentity)
	}))

	writeGuardBase := worker.NewBase(string(envelope.TroopWriteGuard), a.Bus, worker.WithLogger(a.logger))
	a.Engine.RegisterRunner(envelope.TroopWriteGuard, adaptDynamic(writeGuardBase, func(d envelope.Dispatch) worker.Executor {
		gateway, _ := a.writeGuardFor(d.WorkspaceRoot)
		return workers.NewWriteGuardWorker(gateway)
	}))
}

// adapt bridges a fixed worker.Executor into an engine.Runner via the
// shared retry/error-reporting dispatch handler.
func adapt(base *worker.Base, exec worker.Executor) engine.Runner {
	return func(ctx context.Context, _ *engine.Instance, taskCtx map[string]any) (map[string]any, error) {
		d, err := dispatchFrom(taskCtx)
		if err != nil {
			return nil, err
		}
		completion := base.HandleDispatch(ctx, exec, d)
		return map[string]any{"completion": completion}, nil
	}
}

// adaptDynamic is like adapt but constructs the executor per dispatch,
// for workers whose dependencies (e.g. a workspace-scoped write-guard)
// vary by dispatch rather than worker type.
func adaptDynamic(base *worker.Base, build func(envelope.Dispatch) worker.Executor) engine.Runner {
	return func(ctx context.Context, _ *engine.Instance, taskCtx map[string]any) (map[string]any, error) {
		d, err := dispatchFrom(taskCtx)
		if err != nil {
			return nil, err
		}
		completion := base.HandleDispatch(ctx, build(d), d)
		return map[string]any{"completion": completion}, nil
	}
}

func dispatchFrom(taskCtx map[string]any) (envelope.Dispatch, error) {
	raw, ok := taskCtx["dispatch"]
	if !ok {
		return envelope.Dispatch{}, fmt.Errorf("app: task context missing dispatch")
	}
	d, ok := raw.(envelope.Dispatch)
	if !ok {
		return envelope.Dispatch{}, fmt.Errorf("app: task context dispatch has wrong type %T", raw)
	}
	return d, nil
}

// Shutdown stops the engine (waiting up to timeout for running
// instances to finish) and closes the prompt library watcher.
func (a *App) Shutdown(timeout time.Duration) error {
	if err := a.Engine.Shutdown(timeout); err != nil {
		return err
	}
	return a.Prompts.Close()
}
