package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidlc/gorilla-troop/internal/envelope"
)

// LoadContext reads the union of a dispatch's input artifacts and
// reference docs under its workspace root and concatenates them with
// path headers. A missing file is reported inline rather than raised,
// so one unreadable reference doc never aborts the whole dispatch.
func LoadContext(d envelope.Dispatch) string {
	var b strings.Builder
	seen := make(map[string]bool)

	appendAll := func(paths []string) {
		for _, p := range paths {
			if seen[p] {
				continue
			}
			seen[p] = true
			writeFileSection(&b, d.WorkspaceRoot, p)
		}
	}
	appendAll(d.InputArtifacts)
	appendAll(d.ReferenceDocs)
	return b.String()
}

func writeFileSection(b *strings.Builder, root, relPath string) {
	abs := relPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, relPath)
	}
	fmt.Fprintf(b, "--- %s ---\n", relPath)
	data, err := os.ReadFile(abs)
	if err != nil {
		fmt.Fprintf(b, "[unreadable: %s]\n\n", err)
		return
	}
	b.Write(data)
	b.WriteString("\n\n")
}
