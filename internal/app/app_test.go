package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aidlc/gorilla-troop/config"
)

func writeTestPrompts(t *testing.T, dir string) {
	t.Helper()
	names := []string{
		"workspace-discovery.md", "requirements-analysis.md",
		"story-authoring.md", "planning.md", "architecture.md", "nfr.md",
		"code-generation.md", "build-test.md",
	}
	for _, n := range names {
		path := filepath.Join(dir, n)
		if err := os.WriteFile(path, []byte("# test prompt\n"), 0644); err != nil {
			t.Fatalf("write prompt %s: %v", n, err)
		}
	}
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	workspace := t.TempDir()
	promptsDir := t.TempDir()
	writeTestPrompts(t, promptsDir)

	cfg := config.DefaultConfig()
	cfg.Workspace.Root = workspace
	cfg.Prompts.Dir = promptsDir
	cfg.Bus.BaseURL = "http://127.0.0.1:0"

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	a, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(5 * time.Second)

	if a.Engine == nil {
		t.Fatal("expected non-nil Engine")
	}
	if a.Supervisor == nil {
		t.Fatal("expected non-nil Supervisor")
	}
	if a.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}
	if a.Bus == nil {
		t.Fatal("expected non-nil Bus")
	}
	if a.Prompts == nil {
		t.Fatal("expected non-nil Prompts")
	}
}

func TestStoreForCachesPerProject(t *testing.T) {
	workspace := t.TempDir()
	promptsDir := t.TempDir()
	writeTestPrompts(t, promptsDir)

	cfg := config.DefaultConfig()
	cfg.Workspace.Root = workspace
	cfg.Prompts.Dir = promptsDir
	cfg.Bus.BaseURL = "http://127.0.0.1:0"

	a, err := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(5 * time.Second)

	first := a.storeFor("proj-a", workspace)
	second := a.storeFor("proj-a", workspace)
	if first != second {
		t.Fatal("expected storeFor to return the cached client for the same project key")
	}

	other := a.storeFor("proj-b", workspace)
	if other == first {
		t.Fatal("expected storeFor to return a distinct client for a different project key")
	}
}

func TestReviewMachineForBuildsPerCall(t *testing.T) {
	workspace := t.TempDir()
	promptsDir := t.TempDir()
	writeTestPrompts(t, promptsDir)

	cfg := config.DefaultConfig()
	cfg.Workspace.Root = workspace
	cfg.Prompts.Dir = promptsDir
	cfg.Bus.BaseURL = "http://127.0.0.1:0"

	a, err := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(5 * time.Second)

	m := a.ReviewMachineFor("proj-a", workspace)
	if m == nil {
		t.Fatal("expected non-nil Machine")
	}
}
