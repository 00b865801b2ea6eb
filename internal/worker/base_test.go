package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aidlc/gorilla-troop/internal/corekit/errs"
	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
	"github.com/aidlc/gorilla-troop/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []messagebus.Message
}

func (f *fakeSender) Send(_ context.Context, msg messagebus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func testDispatch() envelope.Dispatch {
	return envelope.New("requirements-analysis", "proj-1", "proj-1", "/workspace")
}

func TestHandleDispatchSuccess(t *testing.T) {
	sender := &fakeSender{}
	b := NewBase("troop-requirements-analysis", sender)

	exec := ExecutorFunc(func(_ context.Context, d envelope.Dispatch) (envelope.Completion, error) {
		return envelope.Completed(d.StageName, d.IssueID, []string{"aidlc-docs/x.md"}, "done"), nil
	})

	c := b.HandleDispatch(context.Background(), exec, testDispatch())
	assert.Equal(t, envelope.StatusCompleted, c.Status)
	assert.Empty(t, sender.sent)
}

func TestHandleDispatchFatalFailureReportsError(t *testing.T) {
	sender := &fakeSender{}
	b := NewBase("troop-requirements-analysis", sender)

	calls := 0
	exec := ExecutorFunc(func(_ context.Context, d envelope.Dispatch) (envelope.Completion, error) {
		calls++
		return envelope.Completion{}, errs.NewFatal(errors.New("boom"))
	})

	c := b.HandleDispatch(context.Background(), exec, testDispatch())
	assert.Equal(t, envelope.StatusFailed, c.Status)
	assert.Equal(t, 1, calls, "fatal errors must not be retried")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, ErrorInvestigatorIdentity, sender.sent[0].To[0])
	assert.Equal(t, messagebus.ImportanceHigh, sender.sent[0].Importance)
}

func TestHandleDispatchRetriesTransientThenFails(t *testing.T) {
	sender := &fakeSender{}
	b := NewBase("troop-requirements-analysis", sender, WithRetryConfig(fastRetryConfig()))

	calls := 0
	exec := ExecutorFunc(func(_ context.Context, d envelope.Dispatch) (envelope.Completion, error) {
		calls++
		return envelope.Completion{}, errs.NewTransient(errors.New("flaky"))
	})

	c := b.HandleDispatch(context.Background(), exec, testDispatch())
	assert.Equal(t, envelope.StatusFailed, c.Status)
	assert.Equal(t, 3, calls)
}

func TestToolGuardDeniesUnknownTool(t *testing.T) {
	b := NewBase("x", nil)
	assert.True(t, b.CanUseTool(envelope.TroopCodeGeneration, "write_code_file"))
	assert.False(t, b.CanUseTool(envelope.TroopCodeGeneration, "beads_close"))
}
