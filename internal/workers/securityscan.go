package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aidlc/gorilla-troop/internal/artifact"
	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
)

const scanFileTruncateAt = 50_000

type scanRequest struct {
	StageName     string   `json:"stage_name"`
	ArtifactPaths []string `json:"artifact_paths"`
	CodePaths     []string `json:"code_paths"`
}

type securityFinding struct {
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	Recommendation string `json:"recommendation"`
}

type securityAnalysis struct {
	Findings []securityFinding `json:"findings"`
	Summary  string            `json:"summary"`
	Passed   bool              `json:"passed"`
}

// SecurityScanner runs the standard prompt flow against a set of target
// files and emits a markdown security report artifact. It never blocks
// a stage by itself — a failing scan returns needs_rework so the
// Supervisor can route it through the normal rework path.
type SecurityScanner struct {
	LLM    llmclient.Invoker
	Writer artifact.Writer
	Agent  string
}

func NewSecurityScanner(llm llmclient.Invoker, writer artifact.Writer, agent string) *SecurityScanner {
	return &SecurityScanner{LLM: llm, Writer: writer, Agent: agent}
}

func (s *SecurityScanner) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	req := parseScanRequest(d)
	stageName := req.StageName
	if stageName == "" {
		stageName = d.StageName
	}

	artifacts := uniqueStrings(append(append([]string{}, req.ArtifactPaths...), d.InputArtifacts...))
	codeFiles := uniqueStrings(req.CodePaths)

	if len(artifacts) == 0 && len(codeFiles) == 0 {
		return envelope.Completed(d.StageName, d.IssueID, nil, "no files provided for security scan"), nil
	}

	var sections []string
	for _, p := range artifacts {
		sections = append(sections, fmt.Sprintf("## Artifact: %s\n```\n%s\n```", p, safeReadFile(d.WorkspaceRoot, p)))
	}
	for _, p := range codeFiles {
		sections = append(sections, fmt.Sprintf("## Code: %s\n```\n%s\n```", p, safeReadFile(d.WorkspaceRoot, p)))
	}

	prompt := buildSecurityPrompt(stageName, strings.Join(sections, "\n\n"))
	response, err := s.LLM.Invoke(ctx, prompt)
	if err != nil {
		return envelope.Completion{}, err
	}

	analysis := parseSecurityAnalysis(response)
	criticalCount := 0
	for _, f := range analysis.Findings {
		if f.Severity == "critical" || f.Severity == "high" {
			criticalCount++
		}
	}

	report := buildSecurityReport(stageName, analysis)
	var outputArtifacts []string
	if path, err := artifact.Create(s.Writer, string(d.Phase), sanitizeStageName(stageName), "security-scan", d.IssueID, d.ReviewGateID, report, s.Agent); err == nil {
		outputArtifacts = append(outputArtifacts, path)
	}

	status := envelope.StatusCompleted
	reworkReason := ""
	if !analysis.Passed {
		status = envelope.StatusNeedsRework
		reworkReason = fmt.Sprintf("%d critical/high security findings", criticalCount)
	}

	result := fmt.Sprintf("security scan for %q: %d finding(s), %d critical/high. %s. %s",
		stageName, len(analysis.Findings), criticalCount, passFailLabel(analysis.Passed), analysis.Summary)

	c := envelope.NewCompletion(d.StageName, d.IssueID).
		Status(status).
		Artifacts(outputArtifacts).
		Summary(result)
	if reworkReason != "" {
		c = c.Rework(reworkReason)
	}
	return c.Build(), nil
}

func passFailLabel(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "FAILED, rework required"
}

func parseScanRequest(d envelope.Dispatch) scanRequest {
	var req scanRequest
	if d.Instructions == "" {
		return req
	}
	_ = json.Unmarshal([]byte(d.Instructions), &req)
	return req
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func safeReadFile(root, relPath string) string {
	abs := relPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, relPath)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("(file not found: %s)", relPath)
	}
	if info.IsDir() {
		return fmt.Sprintf("(not a file: %s)", relPath)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("(read error: %s)", err)
	}
	content := string(data)
	if len(content) > scanFileTruncateAt {
		return content[:scanFileTruncateAt] + fmt.Sprintf("\n... (truncated, %d chars total)", len(content))
	}
	return content
}

func buildSecurityPrompt(stageName, combined string) string {
	return fmt.Sprintf(
		"Perform a security review of the following files from the %q stage.\n\n"+
			"Check for:\n"+
			"1. Dependency vulnerabilities -- known CVEs, outdated packages\n"+
			"2. Hardcoded secrets -- API keys, passwords, tokens in code/config\n"+
			"3. OWASP issues -- injection, XSS, CSRF, broken auth, etc.\n"+
			"4. Insecure configurations -- overly permissive IAM, open ports\n"+
			"5. Injection risks -- SQL injection, command injection, SSRF\n\n"+
			"%s\n\n"+
			"Respond with a JSON object with fields: findings (list of {category, "+
			"severity, title, description, location, recommendation}), summary, passed.\n",
		stageName, combined,
	)
}

func parseSecurityAnalysis(response string) securityAnalysis {
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
					var a securityAnalysis
					if err := json.Unmarshal([]byte(response[start:i+1]), &a); err == nil {
						return a
					}
					i = len(response)
				}
			}
		}
	}
	return securityAnalysis{
		Summary: "response could not be parsed; manual review recommended",
		Passed:  true,
	}
}

func buildSecurityReport(stageName string, a securityAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Security Scan Report: %s\n\n", stageName)
	fmt.Fprintf(&b, "**Result**: %s\n\n", passFailLabel(a.Passed))
	fmt.Fprintf(&b, "**Findings**: %d\n\n", len(a.Findings))
	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", a.Summary)
	b.WriteString("## Findings\n\n")
	if len(a.Findings) == 0 {
		b.WriteString("No security issues detected.\n")
		return b.String()
	}
	for idx, f := range a.Findings {
		fmt.Fprintf(&b, "### %d. [%s] %s\n\n", idx+1, strings.ToUpper(f.Severity), f.Title)
		fmt.Fprintf(&b, "- Category: %s\n", f.Category)
		fmt.Fprintf(&b, "- Severity: %s\n", strings.ToUpper(f.Severity))
		fmt.Fprintf(&b, "- Location: %s\n", f.Location)
		fmt.Fprintf(&b, "- Description: %s\n", f.Description)
		if f.Recommendation != "" {
			fmt.Fprintf(&b, "- Recommendation: %s\n", f.Recommendation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var nonStageNameChars = regexp.MustCompile(`[^a-z0-9-]`)
var repeatedHyphens = regexp.MustCompile(`-+`)
var stageNameSeparators = regexp.MustCompile(`[\s_]+`)

func sanitizeStageName(stageName string) string {
	s := strings.ToLower(strings.TrimSpace(stageName))
	s = stageNameSeparators.ReplaceAllString(s, "-")
	s = nonStageNameChars.ReplaceAllString(s, "")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "security-scan"
	}
	return s
}
