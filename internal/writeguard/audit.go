// Package writeguard is the core's view of the write-guard capability
// layer: the gateway worker (in scope) dispatches structured operation
// requests to file, git, and issue sub-guards (whose validation rules are
// data the core owns, per spec.md §4.4, even though their deep internals
// are out of scope).
package writeguard

import (
	"context"
	"log/slog"
	"time"

	"github.com/aidlc/gorilla-troop/internal/messagebus"
)

// AuditLog records every guard decision and, best-effort, forwards a line
// to the message bus's #ops thread so a human operator can watch denials
// as they happen.
type AuditLog struct {
	logger *slog.Logger
	sender messagebus.Sender
	identity string
}

func NewAuditLog(logger *slog.Logger, sender messagebus.Sender, identity string) *AuditLog {
	return &AuditLog{logger: logger, sender: sender, identity: identity}
}

func (a *AuditLog) LogAllowed(guard, operation, agent string, details map[string]any) {
	a.logger.Info("write-guard allowed", "guard", guard, "operation", operation, "agent", agent, "details", details)
}

func (a *AuditLog) LogDenied(guard, operation, agent, reason string, details map[string]any) {
	a.logger.Warn("write-guard denied", "guard", guard, "operation", operation, "agent", agent, "reason", reason, "details", details)
	if a.sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.sender.Send(ctx, messagebus.Message{
		From:       a.identity,
		To:         []string{messagebus.HumanSupervisorIdentity},
		Subject:    "[DENIED] " + guard + "." + operation,
		Body:       agent + ": " + reason,
		ThreadID:   messagebus.OpsThread,
		Importance: messagebus.ImportanceNormal,
	})
}
