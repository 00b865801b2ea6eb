// Package supervisor implements the workflow graph driver: the component
// that scaffolds a project's issue graph, walks its ready set to dispatch
// the next stage, and folds worker completions back into the graph.
//
// Project isolation is achieved by giving each project its own
// workspace-scoped IssueStore (see issuestore.Client's WithWorkspace),
// not by a shared store with project-label tagging. Every exported
// operation still takes a project key so the caller can route to the
// right store and so in-flight advances serialize per project.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/aidlc/gorilla-troop/internal/engine"
	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
)

// IssueStore is the subset of issuestore.Client the Supervisor needs.
// Narrowed so tests can supply an in-memory double.
type IssueStore interface {
	CreateIssue(ctx context.Context, title, issueType string, priority int, opts issuestore.CreateOptions) (issuestore.Issue, error)
	UpdateIssue(ctx context.Context, id string, f issuestore.UpdateFields) error
	ListIssues(ctx context.Context, f issuestore.ListFilters) ([]issuestore.Issue, error)
	Ready(ctx context.Context, assignee string, unassigned bool) ([]issuestore.Issue, error)
	AddDependency(ctx context.Context, blockedID, blockerID, depType string) error
}

// StoreFactory returns the IssueStore scoped to one project's workspace.
// Factories are expected to cache/reuse clients per workspace root.
type StoreFactory func(projectKey, workspaceRoot string) IssueStore

// Spawner is the subset of engine.Engine the Supervisor needs to hand a
// dispatch off for execution.
type Spawner interface {
	Spawn(workerType envelope.WorkerType, taskCtx map[string]any, projectKey, taskID string) (*engine.Instance, error)
}

// Supervisor drives the issue graph for every project it is asked about.
// One Supervisor instance typically serves every active project; state
// specific to a project lives in the IssueStore returned for its key.
type Supervisor struct {
	Stores StoreFactory
	Bus    messagebus.Sender
	Engine Spawner
	Logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Supervisor. Stores and Engine are required; Bus may be
// nil, in which case dispatch notifications and skip recommendations are
// silently skipped (matching the source's best-effort Agent Mail sends).
func New(stores StoreFactory, eng Spawner, bus messagebus.Sender, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Stores: stores,
		Bus:    bus,
		Engine: eng,
		Logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Supervisor) projectLock(projectKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectKey]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectKey] = l
	}
	return l
}

// withLock serializes every operation for a given project key so at most
// one advance (or initialize, which ends in an advance) runs at a time.
func (s *Supervisor) withLock(projectKey string, fn func() (string, error)) (string, error) {
	l := s.projectLock(projectKey)
	l.Lock()
	defer l.Unlock()
	return fn()
}

const (
	labelReviewGate = "type:review-gate"
)

func phaseLabel(phase string) string { return "phase:" + phase }
func stageLabel(slug string) string  { return "stage:" + slug }

// Initialize scaffolds the phase epics and always-execute inception
// stages for a fresh project, then advances to dispatch the first ready
// stage. It is idempotent: if an open inception-phase issue already
// exists, scaffolding is skipped and it falls straight through to
// Advance.
func (s *Supervisor) Initialize(ctx context.Context, projectKey, workspaceRoot string) (string, error) {
	return s.withLock(projectKey, func() (string, error) {
		store := s.Stores(projectKey, workspaceRoot)

		existing, err := store.ListIssues(ctx, issuestore.ListFilters{Label: phaseLabel("inception"), Status: "open"})
		if err != nil {
			s.Logger.Warn("initialize: could not check for existing inception issues", "project", projectKey, "error", err)
		}
		if len(existing) > 0 {
			s.Logger.Warn("initialize: project already scaffolded, skipping", "project", projectKey)
			return s.advance(ctx, projectKey, workspaceRoot, store)
		}

		inceptionEpic, err := store.CreateIssue(ctx, "INCEPTION PHASE", "epic", 1, issuestore.CreateOptions{
			Description: "Planning and architecture. Determines WHAT to build and WHY.",
			Labels:      phaseLabel("inception"),
			Acceptance:  "All inception stages completed or skipped with explicit user approval.",
		})
		if err != nil {
			s.Logger.Error("initialize: failed to create phase epics", "project", projectKey, "error", err)
			return fmt.Sprintf("Initialization failed: could not create phase epics: %v", err), nil
		}
		if _, err := store.CreateIssue(ctx, "CONSTRUCTION PHASE", "epic", 1, issuestore.CreateOptions{
			Description: "Design, implementation, build and test. Determines HOW to build it.",
			Labels:      phaseLabel("construction"),
			Acceptance:  "All units designed, implemented, built, and tested.",
		}); err != nil {
			s.Logger.Error("initialize: failed to create phase epics", "project", projectKey, "error", err)
			return fmt.Sprintf("Initialization failed: could not create phase epics: %v", err), nil
		}
		if _, err := store.CreateIssue(ctx, "OPERATIONS PHASE", "epic", 3, issuestore.CreateOptions{
			Description: "Deployment and monitoring. Placeholder for future workflows.",
			Labels:      phaseLabel("operations"),
		}); err != nil {
			s.Logger.Error("initialize: failed to create phase epics", "project", projectKey, "error", err)
			return fmt.Sprintf("Initialization failed: could not create phase epics: %v", err), nil
		}
		s.Logger.Info("initialize: phase epics created", "project", projectKey, "inception_epic", inceptionEpic.ID)

		if msg, ok, err := s.scaffoldAlwaysStages(ctx, store, inceptionEpic.ID); err != nil {
			s.Logger.Error("initialize: failed to create always-execute stages", "project", projectKey, "error", err)
			return msg, nil
		} else if !ok {
			return msg, nil
		}

		s.scaffoldConditionalStages(ctx, store, inceptionEpic.ID)

		s.Logger.Info("initialize: scaffolded issue graph", "project", projectKey, "inception_epic", inceptionEpic.ID)
		return s.advance(ctx, projectKey, workspaceRoot, store)
	})
}

// scaffoldAlwaysStages creates the mandatory inception chain: workspace
// detection, requirements analysis (+ review gate), workflow planning
// (+ review gate). Returns (message, ok, err); ok is false only when a
// failure message should be returned directly to the caller.
func (s *Supervisor) scaffoldAlwaysStages(ctx context.Context, store IssueStore, inceptionEpicID string) (string, bool, error) {
	wsDetect, err := store.CreateIssue(ctx, "Workspace Detection", "task", 1, issuestore.CreateOptions{
		Description: "Analyze workspace state, detect project type (greenfield/brownfield).",
		Labels:      strings.Join([]string{phaseLabel("inception"), stageLabel("workspace-detection"), "always"}, ","),
		Acceptance:  "Workspace state recorded. Project type determined.",
	})
	if err != nil {
		return fmt.Sprintf("Initialization failed: could not create inception stages: %v", err), false, err
	}
	if err := store.AddDependency(ctx, wsDetect.ID, inceptionEpicID, "parent"); err != nil {
		s.Logger.Warn("initialize: failed to wire parent dependency", "issue", wsDetect.ID, "error", err)
	}

	reqAnalysis, err := store.CreateIssue(ctx, "Requirements Analysis", "task", 1, issuestore.CreateOptions{
		Description: "Gather and validate requirements. Generate clarifying questions. Produce requirements document.",
		Labels:      strings.Join([]string{phaseLabel("inception"), stageLabel("requirements-analysis"), "always"}, ","),
		Notes:       "artifact: aidlc-docs/inception/requirements/requirements.md",
		Acceptance:  "Requirements document generated. All questions answered. Human review approved.",
	})
	if err != nil {
		return fmt.Sprintf("Initialization failed: could not create inception stages: %v", err), false, err
	}
	if err := store.AddDependency(ctx, reqAnalysis.ID, inceptionEpicID, "parent"); err != nil {
		s.Logger.Warn("initialize: failed to wire parent dependency", "issue", reqAnalysis.ID, "error", err)
	}
	if err := store.AddDependency(ctx, reqAnalysis.ID, wsDetect.ID, ""); err != nil {
		s.Logger.Warn("initialize: failed to wire dependency", "issue", reqAnalysis.ID, "error", err)
	}

	reqReview, err := store.CreateIssue(ctx, "REVIEW: Requirements Analysis - Awaiting Approval", "task", 0, issuestore.CreateOptions{
		Description: "Human reviews requirements document and approves.",
		Labels:      strings.Join([]string{phaseLabel("inception"), labelReviewGate}, ","),
		Notes:       "artifact: aidlc-docs/inception/requirements/requirements.md",
		Assignee:    "human",
		Acceptance:  "Human approved requirements.",
	})
	if err != nil {
		return fmt.Sprintf("Initialization failed: could not create inception stages: %v", err), false, err
	}
	if err := store.AddDependency(ctx, reqReview.ID, inceptionEpicID, "parent"); err != nil {
		s.Logger.Warn("initialize: failed to wire parent dependency", "issue", reqReview.ID, "error", err)
	}
	if err := store.AddDependency(ctx, reqReview.ID, reqAnalysis.ID, ""); err != nil {
		s.Logger.Warn("initialize: failed to wire dependency", "issue", reqReview.ID, "error", err)
	}

	wfPlanning, err := store.CreateIssue(ctx, "Workflow Planning", "task", 1, issuestore.CreateOptions{
		Description: "Determine which stages to execute. Create execution plan.",
		Labels:      strings.Join([]string{phaseLabel("inception"), stageLabel("workflow-planning"), "always"}, ","),
		Notes:       "artifact: aidlc-docs/inception/plans/execution-plan.md",
		Acceptance:  "Execution plan generated. Stages marked execute/skip with explicit user approval.",
	})
	if err != nil {
		return fmt.Sprintf("Initialization failed: could not create inception stages: %v", err), false, err
	}
	if err := store.AddDependency(ctx, wfPlanning.ID, inceptionEpicID, "parent"); err != nil {
		s.Logger.Warn("initialize: failed to wire parent dependency", "issue", wfPlanning.ID, "error", err)
	}
	if err := store.AddDependency(ctx, wfPlanning.ID, reqReview.ID, ""); err != nil {
		s.Logger.Warn("initialize: failed to wire dependency", "issue", wfPlanning.ID, "error", err)
	}

	wpReview, err := store.CreateIssue(ctx, "REVIEW: Workflow Planning - Awaiting Approval", "task", 0, issuestore.CreateOptions{
		Description: "Human reviews execution plan and approves stage selections.",
		Labels:      strings.Join([]string{phaseLabel("inception"), labelReviewGate}, ","),
		Notes:       "artifact: aidlc-docs/inception/plans/execution-plan.md",
		Assignee:    "human",
		Acceptance:  "Human approved execution plan.",
	})
	if err != nil {
		return fmt.Sprintf("Initialization failed: could not create inception stages: %v", err), false, err
	}
	if err := store.AddDependency(ctx, wpReview.ID, inceptionEpicID, "parent"); err != nil {
		s.Logger.Warn("initialize: failed to wire parent dependency", "issue", wpReview.ID, "error", err)
	}
	if err := store.AddDependency(ctx, wpReview.ID, wfPlanning.ID, ""); err != nil {
		s.Logger.Warn("initialize: failed to wire dependency", "issue", wpReview.ID, "error", err)
	}

	s.Logger.Info("initialize: always-execute stages created", "workspace_detection", wsDetect.ID, "requirements_analysis", reqAnalysis.ID, "workflow_planning", wfPlanning.ID)
	return "", true, nil
}

type conditionalStage struct {
	title       string
	slug        string
	description string
}

var conditionalStages = []conditionalStage{
	{"Reverse Engineering", "reverse-engineering", "Analyze existing codebase. Document architecture, components, tech stack."},
	{"User Stories", "user-stories", "Create user personas and stories with acceptance criteria."},
	{"Application Design", "application-design", "High-level component identification, methods, business rules, service design."},
	{"Units Generation", "units-generation", "Decompose system into units of work with boundaries and dependencies."},
}

// scaffoldConditionalStages creates the stages Workflow Planning may later
// select into the chain. They are created without dependencies on each
// other; Workflow Planning wires them in once it determines execute/skip.
func (s *Supervisor) scaffoldConditionalStages(ctx context.Context, store IssueStore, inceptionEpicID string) {
	for _, cs := range conditionalStages {
		stage, err := store.CreateIssue(ctx, cs.title, "task", 2, issuestore.CreateOptions{
			Description: cs.description,
			Labels:      strings.Join([]string{phaseLabel("inception"), stageLabel(cs.slug), "conditional"}, ","),
		})
		if err != nil {
			s.Logger.Warn("initialize: could not create conditional stage", "stage", cs.title, "error", err)
			continue
		}
		if err := store.AddDependency(ctx, stage.ID, inceptionEpicID, "parent"); err != nil {
			s.Logger.Warn("initialize: failed to wire parent dependency", "issue", stage.ID, "error", err)
		}

		review, err := store.CreateIssue(ctx, fmt.Sprintf("REVIEW: %s - Awaiting Approval", cs.title), "task", 0, issuestore.CreateOptions{
			Description: fmt.Sprintf("Human reviews %s artifacts.", strings.ToLower(cs.title)),
			Labels:      strings.Join([]string{phaseLabel("inception"), labelReviewGate}, ","),
			Assignee:    "human",
		})
		if err != nil {
			s.Logger.Warn("initialize: could not create review gate for conditional stage", "stage", cs.title, "error", err)
			continue
		}
		if err := store.AddDependency(ctx, review.ID, inceptionEpicID, "parent"); err != nil {
			s.Logger.Warn("initialize: failed to wire parent dependency", "issue", review.ID, "error", err)
		}
		if err := store.AddDependency(ctx, review.ID, stage.ID, ""); err != nil {
			s.Logger.Warn("initialize: failed to wire dependency", "issue", review.ID, "error", err)
		}
	}
}

// Advance determines the next ready stage and dispatches it to the
// appropriate worker through the engine.
func (s *Supervisor) Advance(ctx context.Context, projectKey, workspaceRoot string) (string, error) {
	return s.withLock(projectKey, func() (string, error) {
		store := s.Stores(projectKey, workspaceRoot)
		return s.advance(ctx, projectKey, workspaceRoot, store)
	})
}

func (s *Supervisor) advance(ctx context.Context, projectKey, workspaceRoot string, store IssueStore) (string, error) {
	ready, err := store.Ready(ctx, "", false)
	if err != nil {
		s.Logger.Error("advance: failed to get ready issues", "project", projectKey, "error", err)
		ready = nil
	}
	s.Logger.Info("advance: ready set", "project", projectKey, "count", len(ready))

	if len(ready) == 0 {
		if s.allDone(ctx, store) {
			s.Logger.Info("advance: all stages complete", "project", projectKey)
			return "All stages complete. Project finished.", nil
		}
		s.Logger.Warn("advance: no stages ready, pipeline stalled", "project", projectKey)
		return "No stages ready. Waiting on review gates or Q&A.", nil
	}

	var next *issuestore.Issue
	var stageName string
	for i := range ready {
		name := extractStageName(ready[i])
		if name != "" {
			next = &ready[i]
			stageName = name
			break
		}
	}
	if next == nil {
		s.Logger.Warn("advance: no actionable stages in ready set", "project", projectKey, "count", len(ready))
		return "No actionable stages ready. Waiting on dependencies.", nil
	}

	if !isSupportedStage(stageName) {
		s.Logger.Warn("advance: no worker mapped for stage", "stage", stageName)
		return fmt.Sprintf("No agent mapped for stage '%s'", stageName), nil
	}

	artifacts, err := s.gatherInputArtifacts(ctx, store)
	if err != nil {
		s.Logger.Warn("advance: failed to gather input artifacts", "error", err)
	}

	phase := extractPhase(*next)
	dispatch := envelope.New(stageName, next.ID, projectKey, workspaceRoot,
		envelope.WithPhase(envelope.Phase(phase)),
		envelope.WithInputArtifacts(artifacts))

	if err := store.UpdateIssue(ctx, next.ID, issuestore.UpdateFields{Status: "in_progress"}); err != nil {
		s.Logger.Warn("advance: failed to claim issue", "issue", next.ID, "error", err)
	}

	s.notifyDispatch(ctx, projectKey, dispatch)

	if s.Engine != nil {
		if _, err := s.Engine.Spawn(dispatch.Worker, map[string]any{"dispatch": dispatch}, projectKey, next.ID); err != nil {
			s.Logger.Warn("advance: could not spawn worker", "worker", dispatch.Worker, "stage", stageName, "error", err)
		} else {
			s.Logger.Info("advance: dispatched stage", "stage", stageName, "issue", next.ID, "worker", dispatch.Worker)
		}
	} else {
		s.Logger.Warn("advance: no engine reference, cannot spawn", "worker", dispatch.Worker, "stage", stageName)
	}

	return fmt.Sprintf("Dispatched '%s' to %s (issue %s)", stageName, dispatch.Worker, next.ID), nil
}

func (s *Supervisor) notifyDispatch(ctx context.Context, projectKey string, d envelope.Dispatch) {
	if s.Bus == nil {
		return
	}
	msg := messagebus.Message{
		ProjectKey: projectKey,
		From:       "supervisor",
		To:         []string{string(d.Worker)},
		Subject:    fmt.Sprintf("Dispatch: %s", d.StageName),
		Body: fmt.Sprintf("Stage: %s\nIssue: %s\nPhase: %s\nInput artifacts: %s",
			d.StageName, d.IssueID, d.Phase, strings.Join(d.InputArtifacts, ", ")),
		ThreadID: messagebus.DispatchThread(d.IssueID),
	}
	if err := s.Bus.Send(ctx, msg); err != nil {
		s.Logger.Warn("advance: failed to send dispatch notification", "error", err)
	}
}

// HandleCompletion folds a worker's completion back into the issue graph
// and advances to the next stage.
func (s *Supervisor) HandleCompletion(ctx context.Context, projectKey, workspaceRoot string, c envelope.Completion) (string, error) {
	return s.withLock(projectKey, func() (string, error) {
		store := s.Stores(projectKey, workspaceRoot)

		var notes string
		switch c.Status {
		case envelope.StatusCompleted:
			parts := []string{fmt.Sprintf("Completed: %s", c.Summary)}
			for _, a := range c.OutputArtifacts {
				parts = append(parts, fmt.Sprintf("artifact: %s", a))
			}
			notes = strings.Join(parts, "\n")
			if err := store.UpdateIssue(ctx, c.IssueID, issuestore.UpdateFields{Status: "done", AppendNotes: notes}); err != nil {
				s.Logger.Error("handle_completion: failed to update issue", "issue", c.IssueID, "error", err)
				return fmt.Sprintf("Error updating issue %s: %v", c.IssueID, err), nil
			}
			s.Logger.Info("handle_completion: stage completed", "issue", c.IssueID)
		case envelope.StatusNeedsRework:
			notes = fmt.Sprintf("NEEDS REWORK: %s", c.ReworkReason)
			if err := store.UpdateIssue(ctx, c.IssueID, issuestore.UpdateFields{AppendNotes: notes}); err != nil {
				s.Logger.Error("handle_completion: failed to update issue", "issue", c.IssueID, "error", err)
				return fmt.Sprintf("Error updating issue %s: %v", c.IssueID, err), nil
			}
			s.Logger.Info("handle_completion: stage needs rework", "issue", c.IssueID)
		case envelope.StatusFailed:
			notes = fmt.Sprintf("FAILED: %s", c.ErrorDetail)
			if err := store.UpdateIssue(ctx, c.IssueID, issuestore.UpdateFields{AppendNotes: notes}); err != nil {
				s.Logger.Error("handle_completion: failed to update issue", "issue", c.IssueID, "error", err)
				return fmt.Sprintf("Error updating issue %s: %v", c.IssueID, err), nil
			}
			s.Logger.Warn("handle_completion: stage failed", "issue", c.IssueID, "detail", c.ErrorDetail)
		}

		return s.advance(ctx, projectKey, workspaceRoot, store)
	})
}

// RecommendSkip sends a skip recommendation for a stage to the human
// supervisor identity for confirmation.
func (s *Supervisor) RecommendSkip(ctx context.Context, projectKey, stageName, issueID, rationale string) (string, error) {
	if s.Bus != nil {
		msg := messagebus.Message{
			ProjectKey: projectKey,
			From:       "supervisor",
			To:         []string{messagebus.HumanSupervisorIdentity},
			Subject:    fmt.Sprintf("Skip recommendation: %s", stageName),
			Body: fmt.Sprintf("**Stage**: %s\n**Issue**: %s\n**Rationale**: %s\n\nPlease confirm or deny this skip recommendation.",
				stageName, issueID, rationale),
			Importance: messagebus.ImportanceNormal,
		}
		if err := s.Bus.Send(ctx, msg); err != nil {
			s.Logger.Warn("recommend_skip: failed to send recommendation", "error", err)
		}
	}
	s.Logger.Info("recommend_skip: sent", "stage", stageName)
	return fmt.Sprintf("Skip recommendation for '%s' sent to %s.", stageName, messagebus.HumanSupervisorIdentity), nil
}

// CheckReviewGates lists every open review-gate issue.
func (s *Supervisor) CheckReviewGates(ctx context.Context, projectKey, workspaceRoot string) (string, error) {
	store := s.Stores(projectKey, workspaceRoot)
	issues, err := store.ListIssues(ctx, issuestore.ListFilters{Label: labelReviewGate, Status: "open"})
	if err != nil {
		s.Logger.Error("check_review_gates: failed", "error", err)
		return fmt.Sprintf("Error checking review gates: %v", err), nil
	}
	if len(issues) == 0 {
		return "No pending review gates.", nil
	}
	parts := []string{"**Pending Review Gates:**"}
	for _, i := range issues {
		parts = append(parts, fmt.Sprintf("  - %s: %s", i.ID, i.Title))
	}
	return strings.Join(parts, "\n"), nil
}

func (s *Supervisor) allDone(ctx context.Context, store IssueStore) bool {
	all, err := store.ListIssues(ctx, issuestore.ListFilters{})
	if err != nil {
		return false
	}
	for _, i := range all {
		if i.Type == "epic" {
			continue
		}
		if i.Status != "done" && i.Status != "closed" {
			return false
		}
	}
	return true
}

var artifactNotePattern = regexp.MustCompile(`(?m)^artifact:\s*(.+?)\s*$`)

func (s *Supervisor) gatherInputArtifacts(ctx context.Context, store IssueStore) ([]string, error) {
	all, err := store.ListIssues(ctx, issuestore.ListFilters{Status: "done"})
	if err != nil {
		return nil, err
	}

	var artifacts []string
	seen := make(map[string]bool)
	for _, issue := range all {
		if issue.Notes == "" {
			continue
		}
		for _, m := range artifactNotePattern.FindAllStringSubmatch(issue.Notes, -1) {
			path := strings.TrimSpace(m[1])
			if path != "" && !seen[path] {
				seen[path] = true
				artifacts = append(artifacts, path)
			}
		}
	}
	return artifacts, nil
}

func isSupportedStage(stageName string) bool {
	for _, s := range envelope.SupportedStages() {
		if s == stageName {
			return true
		}
	}
	return false
}

func extractStageName(issue issuestore.Issue) string {
	for _, l := range issue.Labels {
		if strings.HasPrefix(l, "stage:") {
			return strings.TrimPrefix(l, "stage:")
		}
	}
	return ""
}

func extractPhase(issue issuestore.Issue) string {
	for _, l := range issue.Labels {
		if strings.HasPrefix(l, "phase:") {
			return strings.TrimPrefix(l, "phase:")
		}
	}
	return "inception"
}
