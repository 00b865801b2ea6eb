// Package artifact is the core's view of the artifact/file-scaffolding
// library: it produces markdown files with a standardised header at a
// well-known directory layout, writing them through the write-guard
// layer's Writer. It offers Create and Update only; it has no listing
// operation, and the rework worker and the review machine write artifact
// files through the write guard without going through this package.
package artifact

import (
	"bufio"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Writer is the capability this package needs from the write-guard layer:
// a validated, audited file write.
type Writer interface {
	WriteFile(path, content, agent string, overwrite bool) (string, error)
}

// Path returns the well-known location for an artifact:
// aidlc-docs/<phase>/<stage>/<name>.md
func Path(phase, stage, name string) string {
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return path.Join("aidlc-docs", phase, stage, name)
}

// Header returns the two HTML-comment header lines every artifact carries.
func Header(issueID, reviewGateID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- beads-issue: %s -->\n", issueID)
	if reviewGateID != "" {
		fmt.Fprintf(&b, "<!-- beads-review: %s -->\n", reviewGateID)
	}
	return b.String()
}

var titlePattern = regexp.MustCompile(`(?m)^#\s+\S`)

// HasTitle reports whether content contains at least one "# Title" heading.
func HasTitle(content string) bool {
	return titlePattern.MatchString(content)
}

// Create scaffolds a new artifact file: header, then body. Fails if body
// carries no top-level heading, matching the "each artifact must contain
// at least one # Title heading" requirement.
func Create(w Writer, phase, stage, name, issueID, reviewGateID, body, agent string) (string, error) {
	if !HasTitle(body) {
		return "", fmt.Errorf("artifact: content has no top-level heading")
	}
	content := Header(issueID, reviewGateID) + "\n" + body
	return w.WriteFile(Path(phase, stage, name), content, agent, false)
}

// Update overwrites targetPath with body. When overwriteHeader is true,
// leading beads-issue/beads-review header lines and blank lines are first
// stripped from body; the existing file's header is never carried over.
func Update(w Writer, targetPath, body, agent string, overwriteHeader bool) (string, error) {
	content := body
	if overwriteHeader {
		content = stripHeader(body)
	}
	return w.WriteFile(targetPath, content, agent, true)
}

func stripHeader(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var kept []string
	skippingHeader := true
	for scanner.Scan() {
		line := scanner.Text()
		if skippingHeader && (strings.HasPrefix(strings.TrimSpace(line), "<!-- beads-issue:") ||
			strings.HasPrefix(strings.TrimSpace(line), "<!-- beads-review:") ||
			strings.TrimSpace(line) == "") {
			continue
		}
		skippingHeader = false
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
