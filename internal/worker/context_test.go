package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/stretchr/testify/assert"
)

func writeWorkspaceFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadContextReadsUnderWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "docs/requirements.md", "the requirements")

	d := envelope.Dispatch{
		WorkspaceRoot:  root,
		InputArtifacts: []string{"docs/requirements.md"},
	}

	out := LoadContext(d)
	assert.Contains(t, out, "--- docs/requirements.md ---")
	assert.Contains(t, out, "the requirements")
}

func TestLoadContextReportsMissingFileInline(t *testing.T) {
	root := t.TempDir()

	d := envelope.Dispatch{
		WorkspaceRoot: root,
		ReferenceDocs: []string{"does/not/exist.md"},
	}

	out := LoadContext(d)
	assert.Contains(t, out, "--- does/not/exist.md ---")
	assert.Contains(t, out, "[unreadable:")
}

func TestLoadContextDeduplicatesSharedPaths(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "shared.md", "shared content")

	d := envelope.Dispatch{
		WorkspaceRoot:  root,
		InputArtifacts: []string{"shared.md"},
		ReferenceDocs:  []string{"shared.md"},
	}

	out := LoadContext(d)
	assert.Equal(t, 1, strings.Count(out, "--- shared.md ---"))
}
