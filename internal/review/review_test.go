package review

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aidlc/gorilla-troop/internal/engine"
	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	issue issuestore.Issue
	updates []issuestore.UpdateFields
}

func (f *fakeStore) ShowIssue(_ context.Context, _ string) (issuestore.Issue, error) {
	return f.issue, nil
}

func (f *fakeStore) UpdateIssue(_ context.Context, _ string, upd issuestore.UpdateFields) error {
	f.updates = append(f.updates, upd)
	if upd.Status != "" {
		f.issue.Status = upd.Status
	}
	if upd.AppendNotes != "" {
		if f.issue.Notes != "" {
			f.issue.Notes += "\n"
		}
		f.issue.Notes += upd.AppendNotes
	}
	return nil
}

type fakeWriter struct {
	path, content string
}

func (f *fakeWriter) WriteFile(path, content, _ string, _ bool) (string, error) {
	f.path, f.content = path, content
	return path, nil
}

type fakeSpawner struct {
	workerType envelope.WorkerType
	taskCtx    map[string]any
}

func (f *fakeSpawner) Spawn(workerType envelope.WorkerType, taskCtx map[string]any, _ string, _ string) (*engine.Instance, error) {
	f.workerType, f.taskCtx = workerType, taskCtx
	return nil, nil
}

type fakeSender struct {
	sent []messagebus.Message
}

func (f *fakeSender) Send(_ context.Context, msg messagebus.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestApproveMarksDoneAndWritesEditedContent(t *testing.T) {
	store := &fakeStore{issue: issuestore.Issue{ID: "gate-1", Notes: "artifact: aidlc-docs/x.md"}}
	writer := &fakeWriter{}
	sender := &fakeSender{}
	m := New(store, writer, nil, sender, nil)

	res, err := m.Approve(context.Background(), "proj-1", "gate-1", "looks good", "# X\nfixed")
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Decision)
	assert.Equal(t, "done", store.issue.Status)
	assert.Equal(t, "aidlc-docs/x.md", writer.path)
	assert.Equal(t, "# X\nfixed", writer.content)
	require.Len(t, sender.sent, 1)
}

func TestRejectDispatchesReworkWithZeroRetryCountFirstTime(t *testing.T) {
	store := &fakeStore{issue: issuestore.Issue{ID: "gate-1", Notes: "artifact: aidlc-docs/x.md"}}
	spawner := &fakeSpawner{}
	m := New(store, nil, spawner, nil, nil)

	res, err := m.Reject(context.Background(), "proj-1", "/workspace", "gate-1", "fix the intro")
	require.NoError(t, err)
	assert.Equal(t, "rejected", res.Decision)
	assert.Contains(t, store.issue.Notes, "REJECTED: fix the intro")
	assert.Equal(t, envelope.TroopRework, spawner.workerType)

	d := spawner.taskCtx["dispatch"].(envelope.Dispatch)
	var instr struct {
		ArtifactPath string `json:"artifact_path"`
		RetryCount   int    `json:"retry_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(d.Instructions), &instr))
	assert.Equal(t, 0, instr.RetryCount)
	assert.Equal(t, "aidlc-docs/x.md", instr.ArtifactPath)
}

func TestRejectIncrementsRetryCountOnSubsequentRejections(t *testing.T) {
	store := &fakeStore{issue: issuestore.Issue{ID: "gate-1", Notes: "artifact: aidlc-docs/x.md\nREJECTED: first pass\nREJECTED: second pass"}}
	spawner := &fakeSpawner{}
	m := New(store, nil, spawner, nil, nil)

	_, err := m.Reject(context.Background(), "proj-1", "/workspace", "gate-1", "third pass feedback")
	require.NoError(t, err)

	d := spawner.taskCtx["dispatch"].(envelope.Dispatch)
	var instr struct {
		RetryCount int `json:"retry_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(d.Instructions), &instr))
	assert.Equal(t, 2, instr.RetryCount)
}
