package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
)

const examinedFileTruncateAt = 2000

// ErrorContext is the structured payload a dispatch's Instructions field
// carries for the Error Investigator.
type ErrorContext struct {
	ErrorMessage     string `json:"error_message"`
	SourceWorker     string `json:"source_agent"`
	AffectedIssueID  string `json:"affected_issue_id"`
}

type investigationAnalysis struct {
	RootCause        string `json:"root_cause"`
	FixSuggested     bool   `json:"fix_suggested"`
	FixDescription   string `json:"fix_description"`
	TargetAgent      string `json:"target_agent"`
	EscalationReason string `json:"escalation_reason"`
}

// IssueReader is the read-only capability the investigator needs from
// the issue store.
type IssueReader interface {
	ShowIssue(ctx context.Context, id string) (issuestore.Issue, error)
}

// ErrorInvestigator inspects a failed stage, asks the LLM to diagnose
// root cause, and either routes a suggested fix back to the source
// worker or escalates to the human supervisor. It never mutates the
// affected issue directly.
type ErrorInvestigator struct {
	Identity string
	LLM      llmclient.Invoker
	Store    IssueReader
	Sender   messagebus.Sender
	LoadCtx  ContextLoader
}

func NewErrorInvestigator(identity string, llm llmclient.Invoker, store IssueReader, sender messagebus.Sender, loadCtx ContextLoader) *ErrorInvestigator {
	return &ErrorInvestigator{Identity: identity, LLM: llm, Store: store, Sender: sender, LoadCtx: loadCtx}
}

func (i *ErrorInvestigator) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	errCtx := parseErrorContext(d)
	if errCtx.AffectedIssueID == "" {
		errCtx.AffectedIssueID = d.IssueID
	}
	if errCtx.ErrorMessage == "" {
		errCtx.ErrorMessage = "unknown error"
	}

	var evidence []string

	if i.LoadCtx != nil {
		if text := strings.TrimSpace(i.LoadCtx(d)); text != "" {
			evidence = append(evidence, "## Attached Context\n"+text)
		}
	}

	evidence = append(evidence, i.issueStateSection(ctx, errCtx.AffectedIssueID))

	if examined := examineArtifactFiles(d); examined != "" {
		evidence = append(evidence, "## Examined Files\n"+examined)
	}

	prompt := buildInvestigationPrompt(d, errCtx, strings.Join(evidence, "\n\n"))

	response, err := i.LLM.Invoke(ctx, prompt)
	if err != nil {
		return envelope.Completion{}, err
	}

	analysis := parseAnalysis(response)
	target := analysis.TargetAgent
	if target == "" {
		target = errCtx.SourceWorker
	}

	var summary string
	if analysis.FixSuggested {
		i.sendFix(ctx, d, errCtx, analysis, target)
		summary = fmt.Sprintf("root cause: %s. fix suggested to %s", analysis.RootCause, target)
	} else {
		i.sendEscalation(ctx, d, errCtx, analysis, response)
		summary = fmt.Sprintf("root cause: %s. escalated to human", analysis.RootCause)
	}

	return envelope.Completed(d.StageName, d.IssueID, nil, summary), nil
}

func parseErrorContext(d envelope.Dispatch) ErrorContext {
	if d.Instructions == "" {
		return ErrorContext{}
	}
	var ec ErrorContext
	if err := json.Unmarshal([]byte(d.Instructions), &ec); err != nil {
		return ErrorContext{ErrorMessage: d.Instructions}
	}
	return ec
}

func (i *ErrorInvestigator) issueStateSection(ctx context.Context, issueID string) string {
	if issueID == "" || i.Store == nil {
		return fmt.Sprintf("## Issue State\nCould not retrieve issue %s.", issueID)
	}
	issue, err := i.Store.ShowIssue(ctx, issueID)
	if err != nil {
		return fmt.Sprintf("## Issue State\nCould not retrieve issue %s.", issueID)
	}
	notes := issue.Notes
	if notes == "" {
		notes = "(none)"
	}
	return fmt.Sprintf(
		"## Issue State\n- ID: %s\n- Title: %s\n- Status: %s\n- Assignee: %s\n- Labels: %v\n- Notes: %s\n",
		issue.ID, issue.Title, issue.Status, issue.Assignee, issue.Labels, notes,
	)
}

func examineArtifactFiles(d envelope.Dispatch) string {
	var parts []string
	all := append(append([]string{}, d.InputArtifacts...), d.ReferenceDocs...)
	for _, p := range all {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(d.WorkspaceRoot, p)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			parts = append(parts, fmt.Sprintf("### %s\n(file not found)", p))
			continue
		}
		preview := string(data)
		suffix := ""
		if len(preview) > examinedFileTruncateAt {
			suffix = fmt.Sprintf("\n... (truncated, %d chars total)", len(preview))
			preview = preview[:examinedFileTruncateAt]
		}
		parts = append(parts, fmt.Sprintf("### %s\n```\n%s%s\n```", p, preview, suffix))
	}
	return strings.Join(parts, "\n\n")
}

func buildInvestigationPrompt(d envelope.Dispatch, ec ErrorContext, evidence string) string {
	var b strings.Builder
	b.WriteString("Investigate the following error report and provide your analysis.\n\n")
	fmt.Fprintf(&b, "## Error Report\n- Source worker: %s\n- Error message: %s\n- Affected issue: %s\n- Stage: %s\n\n",
		ec.SourceWorker, ec.ErrorMessage, ec.AffectedIssueID, d.StageName)
	b.WriteString(evidence)
	b.WriteString("\n\nRespond with a JSON object containing your analysis:\n" +
		"- \"root_cause\": a brief description of the root cause\n" +
		"- \"fix_suggested\": true/false\n" +
		"- \"fix_description\": what to do (if fix_suggested is true)\n" +
		"- \"target_agent\": which worker should apply the fix (if any)\n" +
		"- \"escalation_reason\": why escalation is needed (if fix_suggested is false)\n")
	return b.String()
}

// parseAnalysis extracts the first balanced {...} block from response and
// parses it. If none is found or parsing fails, it returns a
// conservative default that forces escalation.
func parseAnalysis(response string) investigationAnalysis {
	start := strings.Index(response, "{")
	if start >= 0 {
		depth := 0
		for i := start; i < len(response); i++ {
			switch response[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					var a investigationAnalysis
					if err := json.Unmarshal([]byte(response[start:i+1]), &a); err == nil {
						return a
					}
					i = len(response)
				}
			}
		}
	}
	return investigationAnalysis{
		RootCause:        "analysis available but could not be structured",
		FixSuggested:     false,
		EscalationReason: "response could not be parsed into an actionable fix",
	}
}

func (i *ErrorInvestigator) sendFix(ctx context.Context, d envelope.Dispatch, ec ErrorContext, a investigationAnalysis, target string) {
	if i.Sender == nil {
		return
	}
	body := fmt.Sprintf("**Root Cause**: %s\n\n**Suggested Fix**: %s\n\n**Original Error**: %s\n",
		a.RootCause, a.FixDescription, ec.ErrorMessage)
	_ = i.Sender.Send(ctx, messagebus.Message{
		ProjectKey: d.ProjectKey,
		From:       i.Identity,
		To:         []string{target},
		Subject:    fmt.Sprintf("[FIX] Error correction for %s", ec.AffectedIssueID),
		Body:       body,
		ThreadID:   messagebus.ErrorThread(ec.AffectedIssueID),
		Importance: messagebus.ImportanceHigh,
	})
}

func (i *ErrorInvestigator) sendEscalation(ctx context.Context, d envelope.Dispatch, ec ErrorContext, a investigationAnalysis, rawResponse string) {
	if i.Sender == nil {
		return
	}
	body := fmt.Sprintf(
		"**Source Worker**: %s\n**Root Cause**: %s\n**Error**: %s\n**Escalation Reason**: %s\n\n**Full LLM Analysis**:\n%s\n",
		ec.SourceWorker, a.RootCause, ec.ErrorMessage, a.EscalationReason, rawResponse,
	)
	_ = i.Sender.Send(ctx, messagebus.Message{
		ProjectKey: d.ProjectKey,
		From:       i.Identity,
		To:         []string{messagebus.HumanSupervisorIdentity},
		Subject:    fmt.Sprintf("[ESCALATION] Unresolvable error in %s", ec.AffectedIssueID),
		Body:       body,
		ThreadID:   messagebus.EscalationThread(ec.AffectedIssueID),
		Importance: messagebus.ImportanceHigh,
	})
}
