package workers

import (
	"context"
	"testing"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageWorkerExtractsArtifactsAndCompletes(t *testing.T) {
	llm := llmclient.InvokerFunc(func(_ context.Context, prompt string) (string, error) {
		return "Work is done.\nartifact: aidlc-docs/inception/requirements-analysis/req.md\nFile written: orchestrator/foo.go\n", nil
	})
	w := NewStageWorker(envelope.TroopRequirementsAnalysis, llm, nil, nil)

	d := envelope.New("requirements-analysis", "proj-1", "proj-1", "/workspace")
	c, err := w.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, c.Status)
	assert.Equal(t, []string{"aidlc-docs/inception/requirements-analysis/req.md", "orchestrator/foo.go"}, c.OutputArtifacts)
	assert.Equal(t, "Work is done. artifact: aidlc-docs/inception/requirements-analysis/req.md File written: orchestrator/foo.go", c.Summary)
}

func TestStageWorkerDetectsFailureKeyword(t *testing.T) {
	llm := llmclient.InvokerFunc(func(_ context.Context, prompt string) (string, error) {
		return "Error: cannot continue without more context.", nil
	})
	w := NewStageWorker(envelope.TroopRequirementsAnalysis, llm, nil, nil)

	d := envelope.New("requirements-analysis", "proj-1", "proj-1", "/workspace")
	c, err := w.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusNeedsRework, c.Status)
}

func TestSummariseTruncatesAt500Chars(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "x"
	}
	assert.Len(t, summarise(long), summaryMaxChars)
}

func TestExtractArtifactsDeduplicatesPreservingOrder(t *testing.T) {
	response := "artifact: a.md\nartifact: b.md\nartifact: a.md\n"
	assert.Equal(t, []string{"a.md", "b.md"}, extractArtifacts(response))
}
