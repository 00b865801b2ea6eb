// Package workers implements the stage specialists and cross-cutting
// workers described by the worker base contract: each is an
// worker.Executor invoked through worker.Base.HandleDispatch.
package workers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/aidlc/gorilla-troop/internal/worker"
)

// PromptSource supplies the system prompt associated with a worker type.
type PromptSource interface {
	Prompt(workerType envelope.WorkerType) string
}

// ContextLoader loads a dispatch's input artifacts and reference docs.
type ContextLoader func(d envelope.Dispatch) string

// artifactPatterns recognise the tolerant forms an LLM response uses to
// announce a file it produced.
var artifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^artifact:\s*(\S+)\s*$`),
	regexp.MustCompile(`(?im)created artifact at:\s*(\S+)`),
	regexp.MustCompile(`(?im)file written:\s*(\S+)`),
}

var failureKeywords = []string{"error:", "failed:", "cannot proceed"}

const summaryMaxChars = 500

// StageWorker is the default executor shared by the eight stage
// specialists. It composes a prompt, invokes the LLM, and extracts
// artifacts/summary/status from the response by the fixed conventions
// every stage worker relies on.
type StageWorker struct {
	WorkerType envelope.WorkerType
	LLM        llmclient.Invoker
	Prompts    PromptSource
	LoadCtx    ContextLoader
}

func NewStageWorker(workerType envelope.WorkerType, llm llmclient.Invoker, prompts PromptSource, loadCtx ContextLoader) *StageWorker {
	return &StageWorker{WorkerType: workerType, LLM: llm, Prompts: prompts, LoadCtx: loadCtx}
}

func (s *StageWorker) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	prompt := s.composePrompt(d)

	response, err := s.LLM.Invoke(ctx, prompt)
	if err != nil {
		return envelope.Completion{}, err
	}

	artifacts := extractArtifacts(response)
	summary := summarise(response)

	if hasFailureKeyword(response) {
		return envelope.NeedsRework(d.StageName, d.IssueID, summary, "response indicated stage could not complete"), nil
	}
	return envelope.Completed(d.StageName, d.IssueID, artifacts, summary), nil
}

func (s *StageWorker) composePrompt(d envelope.Dispatch) string {
	var b strings.Builder
	if s.Prompts != nil {
		if sp := s.Prompts.Prompt(s.WorkerType); sp != "" {
			b.WriteString(sp)
			b.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&b, "Stage: %s\n", d.StageName)
	fmt.Fprintf(&b, "Phase: %s\n", d.Phase)
	fmt.Fprintf(&b, "Tracking issue: %s\n", d.IssueID)
	if d.ReviewGateID != "" {
		fmt.Fprintf(&b, "Review gate: %s\n", d.ReviewGateID)
	}
	if d.UnitName != "" {
		fmt.Fprintf(&b, "Unit: %s\n", d.UnitName)
	}
	if d.Instructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", d.Instructions)
	}
	fmt.Fprintf(&b, "Workspace root: %s\n", d.WorkspaceRoot)
	fmt.Fprintf(&b, "Project key: %s\n", d.ProjectKey)
	b.WriteString("\n")

	if s.LoadCtx != nil {
		b.WriteString(s.LoadCtx(d))
	}
	return b.String()
}

// extractArtifacts returns the artifact paths mentioned in response, in
// first-seen order, deduplicated across all recognised patterns.
func extractArtifacts(response string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(response, "\n") {
		for _, pat := range artifactPatterns {
			for _, m := range pat.FindAllStringSubmatch(line, -1) {
				path := m[1]
				if seen[path] {
					continue
				}
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// summarise takes the first non-blank lines of response, truncated at
// summaryMaxChars.
func summarise(response string) string {
	var lines []string
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
		if len(lines) == 5 {
			break
		}
	}
	summary := strings.Join(lines, " ")
	if len(summary) > summaryMaxChars {
		summary = summary[:summaryMaxChars]
	}
	return summary
}

func hasFailureKeyword(response string) bool {
	lower := strings.ToLower(response)
	for _, kw := range failureKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
