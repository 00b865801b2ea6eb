package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/writeguard"
)

// WriteGuardWorker parses a structured operation request from the
// dispatch instructions, dispatches it to the write-guard gateway, and
// reports the result as a completion.
type WriteGuardWorker struct {
	Gateway *writeguard.Gateway
}

func NewWriteGuardWorker(gw *writeguard.Gateway) *WriteGuardWorker {
	return &WriteGuardWorker{Gateway: gw}
}

func (w *WriteGuardWorker) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	if d.Instructions == "" {
		return envelope.Failed(d.StageName, d.IssueID, "", "write-guard: no operation request in instructions"), nil
	}

	var req writeguard.OperationRequest
	if err := json.Unmarshal([]byte(d.Instructions), &req); err != nil {
		return envelope.Failed(d.StageName, d.IssueID, "", fmt.Sprintf("write-guard: invalid operation request: %s", err)), nil
	}

	result, err := w.Gateway.Dispatch(ctx, d.ProjectKey, req)
	if err != nil {
		return envelope.Failed(d.StageName, d.IssueID, "", err.Error()), nil
	}

	var artifacts []string
	if result.Path != "" {
		artifacts = []string{result.Path}
	}
	summary := fmt.Sprintf("%s: ok", req.Operation)
	if result.IssueID != "" {
		summary = fmt.Sprintf("%s: %s", req.Operation, result.IssueID)
	}
	return envelope.Completed(d.StageName, d.IssueID, artifacts, summary), nil
}
