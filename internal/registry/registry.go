// Package registry persists the set of projects a running process knows
// about: key, name, workspace path, lifecycle status, and the minder
// agent instance driving it. State lives in a single JSON file under
// the workspace's .gorilla-troop directory and is replaced atomically
// (write-temp-then-rename) on every save, matching the write-guard's
// own atomic-write idiom. One Registry serializes all writers with a
// mutex; the process owning a workspace is expected to hold a single
// Registry for it.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

const (
	registryDir  = ".gorilla-troop"
	registryFile = "projects.json"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ProjectState is one tracked project's persisted record.
type ProjectState struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	WorkspacePath string `json:"workspace_path"`
	Status        string `json:"status"` // active, paused, completed
	MinderAgentID string `json:"minder_agent_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	PausedAt      string `json:"paused_at,omitempty"`
}

// UpdateFields carries optional patches for UpdateProject. A zero value
// for any field leaves that field unchanged, matching the struct-based
// partial-update convention used across this codebase's clients.
type UpdateFields struct {
	Name          string
	Status        string
	MinderAgentID string
}

// Registry is the in-memory, disk-backed table of known projects.
type Registry struct {
	mu       sync.Mutex
	path     string
	projects map[string]*ProjectState
	now      func() time.Time
}

// Load reads the registry file under workspaceRoot/.gorilla-troop, or
// starts empty if it doesn't exist yet.
func Load(workspaceRoot string) (*Registry, error) {
	dir := filepath.Join(workspaceRoot, registryDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, registryFile)
	r := &Registry{path: path, projects: make(map[string]*ProjectState), now: time.Now}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var records []ProjectState
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	for i := range records {
		r.projects[records[i].Key] = &records[i]
	}
	return r, nil
}

func (r *Registry) save() error {
	records := make([]ProjectState, 0, len(r.projects))
	for _, p := range r.projects {
		records = append(records, *p)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".registry_*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: rename temp: %w", err)
	}
	return nil
}

// CreateProject registers a new project. key must be unique and
// contain only letters, digits, hyphens, and underscores.
func (r *Registry) CreateProject(key, name, workspacePath string) (ProjectState, error) {
	if !keyPattern.MatchString(key) {
		return ProjectState{}, fmt.Errorf("registry: invalid project key %q: must be alphanumeric, - or _", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[key]; exists {
		return ProjectState{}, fmt.Errorf("registry: project %q already exists", key)
	}

	p := &ProjectState{
		Key:           key,
		Name:          name,
		WorkspacePath: workspacePath,
		Status:        "active",
		CreatedAt:     r.now().UTC().Format(time.RFC3339),
	}
	r.projects[key] = p
	if err := r.save(); err != nil {
		delete(r.projects, key)
		return ProjectState{}, err
	}
	return *p, nil
}

// GetProject returns a project's record and whether it exists.
func (r *Registry) GetProject(key string) (ProjectState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[key]
	if !ok {
		return ProjectState{}, false
	}
	return *p, true
}

// ListProjects returns every project, sorted by key, optionally
// filtered to one status. An empty status matches all.
func (r *Registry) ListProjects(status string) []ProjectState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProjectState, 0, len(r.projects))
	for _, p := range r.projects {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// PauseProject marks a project paused, recording the pause time.
func (r *Registry) PauseProject(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[key]
	if !ok {
		return fmt.Errorf("registry: project %q not found", key)
	}
	p.Status = "paused"
	p.PausedAt = r.now().UTC().Format(time.RFC3339)
	return r.save()
}

// ResumeProject marks a paused project active again, clearing the
// paused-at timestamp.
func (r *Registry) ResumeProject(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[key]
	if !ok {
		return fmt.Errorf("registry: project %q not found", key)
	}
	p.Status = "active"
	p.PausedAt = ""
	return r.save()
}

// UpdateProject applies the non-zero fields in f to an existing project.
func (r *Registry) UpdateProject(key string, f UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[key]
	if !ok {
		return fmt.Errorf("registry: project %q not found", key)
	}
	if f.Name != "" {
		p.Name = f.Name
	}
	if f.Status != "" {
		p.Status = f.Status
	}
	if f.MinderAgentID != "" {
		p.MinderAgentID = f.MinderAgentID
	}
	return r.save()
}

// DeleteProject removes a project's record entirely.
func (r *Registry) DeleteProject(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[key]; !ok {
		return fmt.Errorf("registry: project %q not found", key)
	}
	delete(r.projects, key)
	return r.save()
}
