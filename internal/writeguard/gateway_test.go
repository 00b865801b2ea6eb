package writeguard

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	root := t.TempDir()
	audit := NewAuditLog(slog.New(slog.NewTextHandler(os.Stdout, nil)), nil, "write-guard")
	files := NewFileGuard(audit, root)
	git := NewGitGuard(audit, root)
	return NewGateway(files, git, nil), root
}

func TestGatewayFileWriteRoundTrip(t *testing.T) {
	g, root := newTestGateway(t)
	req := OperationRequest{
		Operation: "file.write",
		Params:    json.RawMessage(`{"path":"aidlc-docs/inception/workspace-detection/notes.md","content":"# Notes\n\nbody","overwrite":false}`),
	}

	result, err := g.Dispatch(context.Background(), "troop-workspace-discovery", req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "aidlc-docs/inception/workspace-detection/notes.md"), result.Path)

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\nbody", string(data))
}

func TestGatewayFileWriteDeniedWrongExtension(t *testing.T) {
	g, _ := newTestGateway(t)
	req := OperationRequest{
		Operation: "file.write",
		Params:    json.RawMessage(`{"path":"aidlc-docs/notes.txt","content":"x","overwrite":false}`),
	}

	_, err := g.Dispatch(context.Background(), "troop-workspace-discovery", req)
	require.Error(t, err)
}

func TestGatewayFileValidatePath(t *testing.T) {
	g, _ := newTestGateway(t)
	req := OperationRequest{
		Operation: "file.validate_path",
		Params:    json.RawMessage(`{"path":"aidlc-docs/x.md"}`),
	}
	_, err := g.Dispatch(context.Background(), "troop-workspace-discovery", req)
	assert.NoError(t, err)

	req.Params = json.RawMessage(`{"path":"../escape.md"}`)
	_, err = g.Dispatch(context.Background(), "troop-workspace-discovery", req)
	assert.Error(t, err)
}

func TestGatewayUnknownOperation(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.Dispatch(context.Background(), "troop-workspace-discovery", OperationRequest{Operation: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnknownOperation)
}
