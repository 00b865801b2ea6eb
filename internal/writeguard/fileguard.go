package writeguard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxArtifactSize = 1_048_576 // 1 MB
	maxCodeSize     = 512_000   // 500 KB
)

// directoryRules maps a top-level (or nested) directory prefix to the set
// of file extensions allowed under it. Matching is glob-aware via
// doublestar so a rule like "templates" also covers "templates/sub/x.md".
var directoryRules = map[string][]string{
	"aidlc-docs": {".md"},
	"templates":  {".md"},
	"orchestrator": {".go"},
	"tests":      {".go"},
	"scripts":    {".go", ".sh", ".ps1"},
	"cli":        {".go"},
	"dashboard":  {".ts", ".tsx", ".js", ".jsx", ".css", ".html", ".json", ".md"},
	"infra":      {".yml", ".yaml", ".dockerfile", ".env", ".sh", ".md", ".toml"},
	"docs":       {".md", ".mmd", ".png", ".jpg", ".svg"},
}

var forbiddenDirectories = map[string]bool{".git": true, ".beads": true}

var protectedFiles = map[string]bool{"AGENTS.md": true, "README.md": true, ".gitignore": true}

// ValidationResult is the outcome of a path validation check.
type ValidationResult struct {
	Allowed bool
	Reason  string
}

// FileGuard validates and executes filesystem write operations. All file
// writes by workers flow through this guard.
type FileGuard struct {
	audit *AuditLog
	root  string
}

func NewFileGuard(audit *AuditLog, workspaceRoot string) *FileGuard {
	return &FileGuard{audit: audit, root: workspaceRoot}
}

func (g *FileGuard) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Clean(filepath.Join(g.root, p)), nil
}

// ValidatePath checks whether path is allowed as a write or delete
// target; the same rules apply to both.
func (g *FileGuard) ValidatePath(p string) ValidationResult {
	abs, err := g.resolve(p)
	if err != nil {
		return ValidationResult{false, err.Error()}
	}

	rel, err := filepath.Rel(g.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ValidationResult{false, fmt.Sprintf("path is outside workspace: %s", abs)}
	}

	if strings.Contains(abs, "\x00") {
		return ValidationResult{false, "path contains null bytes"}
	}

	relSlash := filepath.ToSlash(rel)
	parts := strings.Split(relSlash, "/")
	if len(parts) == 0 || parts[0] == "" {
		return ValidationResult{false, "empty path"}
	}

	topDir := parts[0]
	if forbiddenDirectories[topDir] {
		return ValidationResult{false, fmt.Sprintf("direct writes to %s/ are forbidden", topDir)}
	}

	for _, part := range parts {
		if strings.HasPrefix(part, ".") && part != ".gitkeep" {
			return ValidationResult{false, fmt.Sprintf("hidden file/directory not allowed: %s", part)}
		}
	}

	suffix := strings.ToLower(filepath.Ext(relSlash))
	for prefix, allowedExts := range directoryRules {
		matched, _ := doublestar.Match(prefix+"/**", relSlash)
		if topDir == prefix || matched {
			if !containsExt(allowedExts, suffix) {
				sorted := append([]string(nil), allowedExts...)
				sort.Strings(sorted)
				return ValidationResult{false, fmt.Sprintf("file type %q not allowed in %s/. allowed: %v", suffix, prefix, sorted)}
			}
			break
		}
	}

	return ValidationResult{true, "path is valid"}
}

func containsExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// WriteFile validates, then atomically writes content to path.
func (g *FileGuard) WriteFile(p, content, agent string, overwrite bool) (string, error) {
	abs, err := g.resolve(p)
	if err != nil {
		return "", err
	}
	details := map[string]any{"path": abs, "size": len(content), "overwrite": overwrite}

	result := g.ValidatePath(p)
	if !result.Allowed {
		g.audit.LogDenied("file", "write_file", agent, result.Reason, details)
		return "", fmt.Errorf("file-guard denied write: %s", result.Reason)
	}

	rel, _ := filepath.Rel(g.root, abs)
	topDir := strings.Split(filepath.ToSlash(rel), "/")[0]
	maxSize := maxCodeSize
	if topDir == "aidlc-docs" || topDir == "docs" || topDir == "templates" {
		maxSize = maxArtifactSize
	}
	if len(content) > maxSize {
		reason := fmt.Sprintf("file size %d exceeds limit %d bytes", len(content), maxSize)
		g.audit.LogDenied("file", "write_file", agent, reason, details)
		return "", fmt.Errorf("file-guard denied write: %s", reason)
	}

	if _, err := os.Stat(abs); err == nil && !overwrite {
		reason := "file already exists and overwrite=false"
		g.audit.LogDenied("file", "write_file", agent, reason, details)
		return "", fmt.Errorf("file-guard denied write: %s", reason)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("file-guard: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".bonobo_*.tmp")
	if err != nil {
		return "", fmt.Errorf("file-guard: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("file-guard: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("file-guard: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("file-guard: rename temp: %w", err)
	}

	g.audit.LogAllowed("file", "write_file", agent, details)
	return abs, nil
}

// DeleteFile validates, then deletes a file. Protected files can never be
// deleted.
func (g *FileGuard) DeleteFile(p, agent string) error {
	abs, err := g.resolve(p)
	if err != nil {
		return err
	}
	details := map[string]any{"path": abs}

	result := g.ValidatePath(p)
	if !result.Allowed {
		g.audit.LogDenied("file", "delete_file", agent, result.Reason, details)
		return fmt.Errorf("file-guard denied delete: %s", result.Reason)
	}

	if protectedFiles[filepath.Base(abs)] {
		reason := fmt.Sprintf("file is protected: %s", filepath.Base(abs))
		g.audit.LogDenied("file", "delete_file", agent, reason, details)
		return fmt.Errorf("file-guard denied delete: %s", reason)
	}

	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("file not found: %s", abs)
	}

	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("file-guard: remove: %w", err)
	}
	g.audit.LogAllowed("file", "delete_file", agent, details)
	return nil
}

// ListAllowedDirectories returns the directory write rules.
func (g *FileGuard) ListAllowedDirectories() map[string][]string {
	out := make(map[string][]string, len(directoryRules))
	for k, v := range directoryRules {
		sorted := append([]string(nil), v...)
		sort.Strings(sorted)
		out[k] = sorted
	}
	return out
}
