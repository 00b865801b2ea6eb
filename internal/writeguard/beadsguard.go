package writeguard

import (
	"context"
	"fmt"

	"github.com/aidlc/gorilla-troop/internal/issuestore"
)

// BeadsGuard audits issue-store mutations requested through the
// write-guard gateway (create/update/close issue, add dependency). It
// applies no authorisation policy: every request is forwarded to the
// store, and the store's outcome is recorded in the audit log as allowed
// or denied.
type BeadsGuard struct {
	audit *AuditLog
	store *issuestore.Client
}

func NewBeadsGuard(audit *AuditLog, store *issuestore.Client) *BeadsGuard {
	return &BeadsGuard{audit: audit, store: store}
}

func (g *BeadsGuard) CreateIssue(ctx context.Context, agent, title, issueType string, priority int, opts issuestore.CreateOptions) (issuestore.Issue, error) {
	details := map[string]any{"title": title, "type": issueType}
	issue, err := g.store.CreateIssue(ctx, title, issueType, priority, opts)
	if err != nil {
		g.audit.LogDenied("beads", "create_issue", agent, err.Error(), details)
		return issuestore.Issue{}, err
	}
	g.audit.LogAllowed("beads", "create_issue", agent, details)
	return issue, nil
}

func (g *BeadsGuard) UpdateIssue(ctx context.Context, agent, id string, f issuestore.UpdateFields) error {
	details := map[string]any{"id": id}
	if err := g.store.UpdateIssue(ctx, id, f); err != nil {
		g.audit.LogDenied("beads", "update_issue", agent, err.Error(), details)
		return err
	}
	g.audit.LogAllowed("beads", "update_issue", agent, details)
	return nil
}

func (g *BeadsGuard) CloseIssue(ctx context.Context, agent, id, reason string) error {
	details := map[string]any{"id": id, "reason": reason}
	if err := g.store.CloseIssue(ctx, id, reason); err != nil {
		g.audit.LogDenied("beads", "close_issue", agent, err.Error(), details)
		return err
	}
	g.audit.LogAllowed("beads", "close_issue", agent, details)
	return nil
}

func (g *BeadsGuard) AddDependency(ctx context.Context, agent, blockedID, blockerID, depType string) error {
	details := map[string]any{"blocked": blockedID, "blocker": blockerID}
	if err := g.store.AddDependency(ctx, blockedID, blockerID, depType); err != nil {
		g.audit.LogDenied("beads", "add_dependency", agent, err.Error(), details)
		return err
	}
	g.audit.LogAllowed("beads", "add_dependency", agent, details)
	return nil
}

var errUnknownOperation = fmt.Errorf("write-guard: unknown operation")
