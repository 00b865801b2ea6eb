// Package review implements the Review/Rework Machine: the approve/reject
// decision point for a human reviewing a review-gate issue. Approval
// closes the gate (optionally overwriting the reviewed artifact with
// edited content) and lets the Supervisor advance on its own; rejection
// appends the feedback to the gate and dispatches the Rework worker with
// a retry count derived from how many times the gate has already been
// rejected.
package review

import (
	"context"
	"fmt"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aidlc/gorilla-troop/internal/engine"
	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
)

const maxReworkIterations = 3

// Store is the subset of issuestore.Client the Machine needs.
type Store interface {
	ShowIssue(ctx context.Context, id string) (issuestore.Issue, error)
	UpdateIssue(ctx context.Context, id string, f issuestore.UpdateFields) error
}

// ArtifactWriter is the capability needed to overwrite an artifact with
// operator-edited content on approval.
type ArtifactWriter interface {
	WriteFile(path, content, agent string, overwrite bool) (string, error)
}

// Spawner hands the Rework dispatch off to the engine.
type Spawner interface {
	Spawn(workerType envelope.WorkerType, taskCtx map[string]any, projectKey, taskID string) (*engine.Instance, error)
}

// Result is the outcome of an approve/reject decision.
type Result struct {
	IssueID    string
	Decision   string
	NextAction string
	Message    string
}

// Machine is the Review/Rework state machine.
type Machine struct {
	Store  Store
	Writer ArtifactWriter
	Engine Spawner
	Bus    messagebus.Sender
	Logger *slog.Logger
}

// New constructs a Machine. Writer, Engine, and Bus may be nil; every use
// of them is best-effort, matching the source's try/except-and-continue
// style around each collaborator call.
func New(store Store, writer ArtifactWriter, eng Spawner, bus messagebus.Sender, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{Store: store, Writer: writer, Engine: eng, Bus: bus, Logger: logger}
}

var artifactPathPattern = regexp.MustCompile(`artifact:\s*(.+?)(?:\n|$)`)

func extractArtifactPath(notes string) string {
	m := artifactPathPattern.FindStringSubmatch(notes)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var rejectedLinePattern = regexp.MustCompile(`(?m)^REJECTED:`)

func countRejections(notes string) int {
	return len(rejectedLinePattern.FindAllStringIndex(notes, -1))
}

// Approve closes a review gate as done, optionally overwriting the
// reviewed artifact with editedContent, and notifies the supervisor so it
// can advance.
func (m *Machine) Approve(ctx context.Context, projectKey, issueID, feedback, editedContent string) (Result, error) {
	notes := "APPROVED."
	if feedback != "" {
		notes = fmt.Sprintf("APPROVED. Feedback: %s", feedback)
	}
	if err := m.Store.UpdateIssue(ctx, issueID, issuestore.UpdateFields{Status: "done", AppendNotes: notes}); err != nil {
		m.Logger.Error("approve: failed to update review gate", "issue", issueID, "error", err)
		return Result{}, fmt.Errorf("review: approve %s: %w", issueID, err)
	}

	if editedContent != "" && m.Writer != nil {
		m.writeBackEditedContent(ctx, issueID, editedContent)
	}

	if m.Bus != nil {
		msg := messagebus.Message{
			ProjectKey: projectKey,
			From:       messagebus.HumanSupervisorIdentity,
			To:         []string{"supervisor"},
			Subject:    fmt.Sprintf("Review approved: %s", issueID),
			Body:       fmt.Sprintf("Review gate %s has been approved.\nFeedback: %s", issueID, feedbackOrNone(feedback)),
			ThreadID:   messagebus.ReviewThread(issueID),
		}
		if err := m.Bus.Send(ctx, msg); err != nil {
			m.Logger.Warn("approve: failed to send approval notification", "error", err)
		}
	}

	m.Logger.Info("review approved", "issue", issueID)
	return Result{
		IssueID:    issueID,
		Decision:   "approved",
		NextAction: "dispatched_next_stage",
		Message:    fmt.Sprintf("Review gate %s approved. Next stage will be dispatched.", issueID),
	}, nil
}

func (m *Machine) writeBackEditedContent(ctx context.Context, issueID, editedContent string) {
	issue, err := m.Store.ShowIssue(ctx, issueID)
	if err != nil {
		m.Logger.Warn("approve: could not reload issue for edited content", "issue", issueID, "error", err)
		return
	}
	artifactPath := extractArtifactPath(issue.Notes)
	if artifactPath == "" {
		return
	}
	if _, err := m.Writer.WriteFile(artifactPath, editedContent, messagebus.HumanSupervisorIdentity, true); err != nil {
		m.Logger.Warn("approve: could not write edited content", "path", artifactPath, "error", err)
		return
	}
	m.Logger.Info("approve: updated artifact content", "path", artifactPath)
}

func feedbackOrNone(feedback string) string {
	if feedback == "" {
		return "None"
	}
	return feedback
}

// Reject appends rejection feedback to the review gate and dispatches
// the Rework worker with a retry count derived from how many times this
// gate has already been rejected (0-based, matching the Rework worker's
// own iteration numbering).
func (m *Machine) Reject(ctx context.Context, projectKey, workspaceRoot, issueID, feedback string) (Result, error) {
	var artifactPath string
	var retryCount int
	if issue, err := m.Store.ShowIssue(ctx, issueID); err != nil {
		m.Logger.Warn("reject: could not read issue before rejecting", "issue", issueID, "error", err)
	} else {
		artifactPath = extractArtifactPath(issue.Notes)
		retryCount = countRejections(issue.Notes)
	}

	if err := m.Store.UpdateIssue(ctx, issueID, issuestore.UpdateFields{AppendNotes: fmt.Sprintf("REJECTED: %s", feedback)}); err != nil {
		m.Logger.Error("reject: failed to add rejection feedback", "issue", issueID, "error", err)
		return Result{}, fmt.Errorf("review: reject %s: %w", issueID, err)
	}

	m.dispatchRework(ctx, projectKey, workspaceRoot, issueID, artifactPath, feedback, retryCount)

	if m.Bus != nil {
		msg := messagebus.Message{
			ProjectKey: projectKey,
			From:       messagebus.HumanSupervisorIdentity,
			To:         []string{"supervisor"},
			Subject:    fmt.Sprintf("Review rejected: %s", issueID),
			Body:       fmt.Sprintf("Review gate %s rejected.\nFeedback: %s", issueID, feedback),
			ThreadID:   messagebus.ReviewThread(issueID),
		}
		if err := m.Bus.Send(ctx, msg); err != nil {
			m.Logger.Warn("reject: failed to send rejection notification", "error", err)
		}
	}

	m.Logger.Info("review rejected", "issue", issueID, "retry_count", retryCount)
	return Result{
		IssueID:    issueID,
		Decision:   "rejected",
		NextAction: "dispatched_rework",
		Message:    fmt.Sprintf("Review gate %s rejected. Rework worker dispatched.", issueID),
	}, nil
}

func (m *Machine) dispatchRework(ctx context.Context, projectKey, workspaceRoot, issueID, artifactPath, feedback string, retryCount int) {
	if m.Engine == nil {
		m.Logger.Warn("reject: no engine reference, cannot dispatch rework", "issue", issueID)
		return
	}

	instructions, err := json.Marshal(struct {
		ReviewGateID string `json:"review_gate_id"`
		Feedback     string `json:"feedback"`
		ArtifactPath string `json:"artifact_path"`
		RetryCount   int    `json:"retry_count"`
	}{ReviewGateID: issueID, Feedback: feedback, ArtifactPath: artifactPath, RetryCount: retryCount})
	if err != nil {
		m.Logger.Error("reject: could not encode rework instructions", "issue", issueID, "error", err)
		return
	}

	dispatch := envelope.New("rework", issueID, projectKey, workspaceRoot,
		envelope.WithReviewGateID(issueID),
		envelope.WithInstructions(string(instructions)),
		envelope.WithWorker(envelope.TroopRework))

	if _, err := m.Engine.Spawn(dispatch.Worker, map[string]any{"dispatch": dispatch}, projectKey, issueID); err != nil {
		m.Logger.Warn("reject: could not spawn rework worker", "issue", issueID, "error", err)
		return
	}
	m.Logger.Info("reject: rework worker dispatched", "issue", issueID, "attempt", retryCount+1, "max", maxReworkIterations)
}
