package writeguard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aidlc/gorilla-troop/internal/issuestore"
)

// OperationRequest is the structured operation request a dispatch's
// Instructions field carries for the Write-Guard gateway worker.
type OperationRequest struct {
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params"`
}

// OperationResult is the gateway's semantic result, serialisable into a
// Completion's summary/artifacts by the caller.
type OperationResult struct {
	Path    string `json:"path,omitempty"`
	IssueID string `json:"issue_id,omitempty"`
}

// Gateway parses a structured operation request and dispatches to the
// appropriate guard, mirroring the source's operation-name dispatch table.
type Gateway struct {
	files *FileGuard
	git   *GitGuard
	beads *BeadsGuard
}

func NewGateway(files *FileGuard, git *GitGuard, beads *BeadsGuard) *Gateway {
	return &Gateway{files: files, git: git, beads: beads}
}

// Dispatch executes one operation request on behalf of agent.
func (g *Gateway) Dispatch(ctx context.Context, agent string, req OperationRequest) (OperationResult, error) {
	switch req.Operation {
	case "file.write":
		var p struct {
			Path      string `json:"path"`
			Content   string `json:"content"`
			Overwrite bool   `json:"overwrite"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, fmt.Errorf("write-guard: bad params for file.write: %w", err)
		}
		written, err := g.files.WriteFile(p.Path, p.Content, agent, p.Overwrite)
		if err != nil {
			return OperationResult{}, err
		}
		return OperationResult{Path: written}, nil

	case "file.delete":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, fmt.Errorf("write-guard: bad params for file.delete: %w", err)
		}
		if err := g.files.DeleteFile(p.Path, agent); err != nil {
			return OperationResult{}, err
		}
		return OperationResult{Path: p.Path}, nil

	case "file.validate_path":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, fmt.Errorf("write-guard: bad params for file.validate_path: %w", err)
		}
		result := g.files.ValidatePath(p.Path)
		if !result.Allowed {
			return OperationResult{}, fmt.Errorf("write-guard denied: %s", result.Reason)
		}
		return OperationResult{Path: p.Path}, nil

	case "git.create_branch":
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		return OperationResult{}, g.git.CreateBranch(ctx, p.Name, agent)

	case "git.checkout":
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		return OperationResult{}, g.git.Checkout(ctx, p.Name, agent)

	case "git.commit":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		return OperationResult{}, g.git.Commit(ctx, p.Message, agent)

	case "git.merge":
		var p struct {
			Branch string `json:"branch"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		return OperationResult{}, g.git.Merge(ctx, p.Branch, agent)

	case "beads.create_issue":
		var p struct {
			Title       string `json:"title"`
			Type        string `json:"type"`
			Priority    int    `json:"priority"`
			Description string `json:"description"`
			Labels      string `json:"labels"`
			Assignee    string `json:"assignee"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		issue, err := g.beads.CreateIssue(ctx, agent, p.Title, p.Type, p.Priority, issuestore.CreateOptions{
			Description: p.Description,
			Labels:      p.Labels,
			Assignee:    p.Assignee,
		})
		if err != nil {
			return OperationResult{}, err
		}
		return OperationResult{IssueID: issue.ID}, nil

	case "beads.update_issue":
		var p struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Notes    string `json:"notes"`
			Assignee string `json:"assignee"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		fields := issuestore.UpdateFields{Status: p.Status, Notes: p.Notes, Assignee: p.Assignee}
		return OperationResult{IssueID: p.ID}, g.beads.UpdateIssue(ctx, agent, p.ID, fields)

	case "beads.add_dependency":
		var p struct {
			Blocked string `json:"blocked"`
			Blocker string `json:"blocker"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return OperationResult{}, err
		}
		return OperationResult{}, g.beads.AddDependency(ctx, agent, p.Blocked, p.Blocker, "blocks")

	default:
		return OperationResult{}, fmt.Errorf("%w: %q", errUnknownOperation, req.Operation)
	}
}
