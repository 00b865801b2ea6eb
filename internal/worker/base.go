// Package worker implements the shared dispatch-handling contract every
// stage and cross-cutting worker is built on: retry-wrapped execution,
// automatic error reporting, and the tool-permission table.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
	"github.com/aidlc/gorilla-troop/internal/retry"
)

// ErrorInvestigatorIdentity is the message-bus identity structured error
// reports are addressed to.
const ErrorInvestigatorIdentity = "error-investigator"

// Executor is the per-worker-type logic a Base wraps with retry and
// error reporting. Implementations perform the stage-specific work.
type Executor interface {
	Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error)
}

// ExecutorFunc adapts a plain function to an Executor.
type ExecutorFunc func(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error)

func (f ExecutorFunc) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	return f(ctx, d)
}

// Base is the shared dispatch handler every worker type embeds or wraps.
type Base struct {
	identity    string
	retryConfig retry.Config
	sender      messagebus.Sender
	logger      *slog.Logger
	guard       ToolGuard
}

// Option customises Base construction.
type Option func(*Base)

func WithRetryConfig(cfg retry.Config) Option { return func(b *Base) { b.retryConfig = cfg } }
func WithLogger(l *slog.Logger) Option        { return func(b *Base) { b.logger = l } }

// NewBase constructs a Base that reports errors as identity over sender.
func NewBase(identity string, sender messagebus.Sender, opts ...Option) *Base {
	b := &Base{
		identity:    identity,
		retryConfig: retry.DefaultConfig(),
		sender:      sender,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanUseTool reports whether workerType may call tool.
func (b *Base) CanUseTool(workerType envelope.WorkerType, tool string) bool {
	return b.guard.Allowed(workerType, tool)
}

// AllowedTools returns the tools workerType may call.
func (b *Base) AllowedTools(workerType envelope.WorkerType) []string {
	return b.guard.AllowedTools(workerType)
}

// HandleDispatch invokes exec.Execute through the retry helper. On
// success it returns the executor's completion unchanged. On final
// failure it sends a structured error report to the Error Investigator
// over the message bus and returns a failed completion, never an error
// — the caller (the engine) always sees a completion value.
func (b *Base) HandleDispatch(ctx context.Context, exec Executor, d envelope.Dispatch) envelope.Completion {
	b.logger.Info("handling dispatch", "worker", d.Worker, "stage", d.StageName, "issue", d.IssueID)

	var result envelope.Completion
	op := func(ctx context.Context, attempt int) error {
		c, err := exec.Execute(ctx, d)
		if err != nil {
			return err
		}
		result = c
		return nil
	}

	if err := retry.Do(ctx, b.retryConfig, op); err != nil {
		b.logger.Error("dispatch failed after retries", "worker", d.Worker, "stage", d.StageName, "issue", d.IssueID, "error", err)
		b.reportError(ctx, d, err)
		return envelope.Failed(d.StageName, d.IssueID, "execution failed", err.Error())
	}
	return result
}

func (b *Base) reportError(ctx context.Context, d envelope.Dispatch, cause error) {
	if b.sender == nil {
		return
	}
	reason := cause.Error()
	body := fmt.Sprintf(
		"**Worker**: %s\n**Stage**: %s\n**Issue**: %s\n**Error**: %s\n",
		b.identity, d.StageName, d.IssueID, cause,
	)
	msg := messagebus.Message{
		ProjectKey: d.ProjectKey,
		From:       b.identity,
		To:         []string{ErrorInvestigatorIdentity},
		Subject:    fmt.Sprintf("[ERROR] %s: %s", b.identity, reason),
		Body:       body,
		ThreadID:   messagebus.ErrorThread(d.IssueID),
		Importance: messagebus.ImportanceHigh,
	}
	if sendErr := b.sender.Send(ctx, msg); sendErr != nil {
		b.logger.Warn("failed to send error report", "error", sendErr)
	}
}
