package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []messagebus.Message
}

func (f *fakeSender) Send(_ context.Context, msg messagebus.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fakeWriter struct {
	lastPath    string
	lastContent string
}

func (f *fakeWriter) WriteFile(path, content, agent string, overwrite bool) (string, error) {
	f.lastPath, f.lastContent = path, content
	return path, nil
}

func reworkDispatch(t *testing.T, instructions string) envelope.Dispatch {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "orig.md"), []byte("# Title\nold content"), 0o644))
	return envelope.New("rework", "issue-1", "proj-1", root, envelope.WithInstructions(instructions))
}

func TestStripCodeFencesRemovesOneFencePair(t *testing.T) {
	assert.Equal(t, "body line", stripCodeFences("```\nbody line\n```"))
	assert.Equal(t, "no fence", stripCodeFences("no fence"))
}

func TestReworkWorkerRewritesArtifact(t *testing.T) {
	writer := &fakeWriter{}
	llm := llmclient.InvokerFunc(func(_ context.Context, prompt string) (string, error) {
		return "```\n# Title\nfixed content\n```", nil
	})
	w := NewReworkWorker("troop-rework", llm, writer, nil)

	d := reworkDispatch(t, `{"review_gate_id":"gate-1","feedback":"fix it","artifact_path":"orig.md","retry_count":0}`)
	c, err := w.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, c.Status)
	assert.Equal(t, "# Title\nfixed content", writer.lastContent)
}

func TestReworkWorkerEscalatesWhenBudgetExhausted(t *testing.T) {
	sender := &fakeSender{}
	calls := 0
	llm := llmclient.InvokerFunc(func(_ context.Context, prompt string) (string, error) {
		calls++
		return "should not be called", nil
	})
	w := NewReworkWorker("troop-rework", llm, &fakeWriter{}, sender)

	d := reworkDispatch(t, `{"review_gate_id":"gate-1","feedback":"fix it","artifact_path":"orig.md","retry_count":3}`)
	c, err := w.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusNeedsRework, c.Status)
	assert.Equal(t, "exhausted", c.ReworkReason)
	assert.Equal(t, 0, calls, "LLM must not be invoked once budget is exhausted")
	require.Len(t, sender.sent, 1)
}

func TestReworkWorkerFailsOnMissingFeedback(t *testing.T) {
	w := NewReworkWorker("troop-rework", nil, &fakeWriter{}, nil)
	d := reworkDispatch(t, `{"artifact_path":"orig.md","retry_count":0}`)
	c, err := w.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusFailed, c.Status)
}
