package workers

import (
	"context"
	"testing"
	"time"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssueLister struct {
	byStatusLabel map[string][]issuestore.Issue
}

func (f *fakeIssueLister) ListIssues(_ context.Context, filt issuestore.ListFilters) ([]issuestore.Issue, error) {
	return f.byStatusLabel[filt.Status+"|"+filt.Label], nil
}

func TestMonitorFlagsStaleInProgressIssue(t *testing.T) {
	fixedNow := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	old := fixedNow.Add(-72 * time.Hour).Format(time.RFC3339)

	store := &fakeIssueLister{byStatusLabel: map[string][]issuestore.Issue{
		"in_progress|": {{ID: "issue-1", Title: "stuck", UpdatedAt: old}},
	}}
	m := NewMonitor("monitor", store, nil, nil)
	m.Now = func() time.Time { return fixedNow }

	d := envelope.New("monitor", "issue-0", "proj-1", "/workspace")
	c, err := m.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, c.Status)
	require.Len(t, c.DiscoveredIssues, 1)
	assert.Equal(t, "stale_issue", c.DiscoveredIssues[0]["type"])
}

func TestMonitorNoIssuesNoDiscoveredItems(t *testing.T) {
	store := &fakeIssueLister{byStatusLabel: map[string][]issuestore.Issue{}}
	m := NewMonitor("monitor", store, nil, nil)

	d := envelope.New("monitor", "issue-0", "proj-1", "/workspace")
	c, err := m.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, c.DiscoveredIssues)
}
