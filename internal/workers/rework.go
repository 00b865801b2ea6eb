package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
)

// maxReworkAttempts is the fixed retry budget for a rejected artifact.
const maxReworkAttempts = 3

// ReworkInstructions is the structured payload a dispatch's Instructions
// field carries for the Rework worker, produced by the Review/Rework
// Machine on the reject path.
type ReworkInstructions struct {
	ReviewGateID string `json:"review_gate_id"`
	Feedback     string `json:"feedback"`
	ArtifactPath string `json:"artifact_path"`
	RetryCount   int    `json:"retry_count"`
}

// ArtifactWriter is the write-guard capability the rework worker needs.
type ArtifactWriter interface {
	WriteFile(path, content, agent string, overwrite bool) (string, error)
}

// ReworkWorker reads a rejected artifact, asks the LLM to correct it
// against the operator's feedback, and writes the corrected content
// back. It never produces new artifacts, only rewrites existing ones.
type ReworkWorker struct {
	Identity string
	LLM      llmclient.Invoker
	Writer   ArtifactWriter
	Sender   messagebus.Sender
}

func NewReworkWorker(identity string, llm llmclient.Invoker, writer ArtifactWriter, sender messagebus.Sender) *ReworkWorker {
	return &ReworkWorker{Identity: identity, LLM: llm, Writer: writer, Sender: sender}
}

func (r *ReworkWorker) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	var instr ReworkInstructions
	if err := json.Unmarshal([]byte(d.Instructions), &instr); err != nil {
		return envelope.Failed(d.StageName, d.IssueID, "", fmt.Sprintf("rework: invalid instructions: %s", err)), nil
	}

	if instr.ArtifactPath == "" {
		return envelope.Failed(d.StageName, d.IssueID, "", "rework: missing artifact path in instructions"), nil
	}
	if instr.Feedback == "" {
		return envelope.Failed(d.StageName, d.IssueID, "", "rework: missing feedback in instructions"), nil
	}

	if instr.RetryCount >= maxReworkAttempts {
		r.escalate(ctx, d, instr)
		return envelope.NeedsRework(d.StageName, d.IssueID, "rework budget exhausted", "exhausted"), nil
	}

	abs := instr.ArtifactPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(d.WorkspaceRoot, instr.ArtifactPath)
	}
	original, err := os.ReadFile(abs)
	if err != nil {
		return envelope.Failed(d.StageName, d.IssueID, "", fmt.Sprintf("rework: artifact not found: %s", err)), nil
	}

	prompt := r.composePrompt(instr, string(original))
	response, err := r.LLM.Invoke(ctx, prompt)
	if err != nil {
		return envelope.Completion{}, err
	}
	corrected := stripCodeFences(response)
	if strings.TrimSpace(corrected) == "" {
		return envelope.Failed(d.StageName, d.IssueID, "", "rework: LLM returned empty content"), nil
	}

	if _, err := r.Writer.WriteFile(instr.ArtifactPath, corrected, r.Identity, true); err != nil {
		return envelope.Failed(d.StageName, d.IssueID, "", fmt.Sprintf("rework: write failed: %s", err)), nil
	}

	return envelope.Completed(d.StageName, d.IssueID, []string{instr.ArtifactPath}, "artifact reworked per review feedback"), nil
}

func (r *ReworkWorker) composePrompt(instr ReworkInstructions, original string) string {
	var b strings.Builder
	b.WriteString("The following artifact was rejected during review.\n\n")
	fmt.Fprintf(&b, "Feedback:\n%s\n\n", instr.Feedback)
	fmt.Fprintf(&b, "Original content:\n%s\n\n", original)
	b.WriteString("Produce the corrected content only, with no commentary.\n")
	return b.String()
}

func (r *ReworkWorker) escalate(ctx context.Context, d envelope.Dispatch, instr ReworkInstructions) {
	if r.Sender == nil {
		return
	}
	body := fmt.Sprintf(
		"**Artifact**: %s\n**Review gate**: %s\n**Retries**: %d/%d\n**Last feedback**: %s\n",
		instr.ArtifactPath, instr.ReviewGateID, instr.RetryCount, maxReworkAttempts, instr.Feedback,
	)
	_ = r.Sender.Send(ctx, messagebus.Message{
		ProjectKey: d.ProjectKey,
		From:       r.Identity,
		To:         []string{messagebus.HumanSupervisorIdentity},
		Subject:    fmt.Sprintf("[REWORK EXHAUSTED] %s", instr.ArtifactPath),
		Body:       body,
		ThreadID:   messagebus.ReworkEscalationThread(d.IssueID),
		Importance: messagebus.ImportanceHigh,
	})
}

// stripCodeFences removes exactly one opening ``` fence line and one
// trailing ``` fence line, if both are present.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		return trimmed
	}
	last := len(lines) - 1
	if strings.TrimSpace(lines[last]) != "```" {
		return trimmed
	}
	return strings.Join(lines[1:last], "\n")
}
