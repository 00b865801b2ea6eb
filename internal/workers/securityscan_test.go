package workers

import (
	"context"
	"testing"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/llmclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityScannerNoFilesSkipsScan(t *testing.T) {
	s := NewSecurityScanner(nil, &fakeWriter{}, "troop-security-scanner")
	d := envelope.New("code-generation", "issue-1", "proj-1", "/workspace")
	c, err := s.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, c.Status)
}

func TestSecurityScannerFailsClosedOnCriticalFindings(t *testing.T) {
	llm := llmclient.InvokerFunc(func(_ context.Context, prompt string) (string, error) {
		return `{"findings":[{"category":"hardcoded_secrets","severity":"critical","title":"API key in source","description":"d","location":"main.go:10","recommendation":"use env var"}],"summary":"found a secret","passed":false}`, nil
	})
	writer := &fakeWriter{}
	s := NewSecurityScanner(llm, writer, "troop-security-scanner")
	d := envelope.New("code-generation", "issue-1", "proj-1", "/workspace", envelope.WithInputArtifacts([]string{"aidlc-docs/x.md"}))

	c, err := s.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusNeedsRework, c.Status)
	assert.Contains(t, c.ReworkReason, "critical/high")
}

func TestSanitizeStageName(t *testing.T) {
	assert.Equal(t, "code-generation", sanitizeStageName("Code Generation"))
	assert.Equal(t, "security-scan", sanitizeStageName("???"))
}
