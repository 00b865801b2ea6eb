// Package messagebus is the core's client for the external inter-agent
// message bus (an HTTP service reached over JSON-RPC). Only the operations
// the core depends on are implemented here; the bus's own internals are
// out of scope.
package messagebus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aidlc/gorilla-troop/internal/corekit/errs"
)

// Importance is the priority tag carried on a Message.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// Message is one piece of mail exchanged between agent identities.
type Message struct {
	ProjectKey        string     `json:"project_key"`
	From              string     `json:"from"`
	To                []string   `json:"to"`
	CC                []string   `json:"cc,omitempty"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	ThreadID          string     `json:"thread_id,omitempty"`
	Importance        Importance `json:"importance,omitempty"`
	AckRequired       bool       `json:"ack_required,omitempty"`
}

// Inbound is a received mail message, as returned by FetchInbox.
type Inbound struct {
	ID        string     `json:"id"`
	From      string     `json:"from_agent"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	ThreadID  string     `json:"thread_id"`
	Importance Importance `json:"importance"`
	CreatedAt time.Time  `json:"created_at"`
}

// Sender is the minimal capability the worker base contract and the
// cross-cutting workers need: sending a message. Defined narrowly so test
// doubles are trivial to write.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Thread id conventions the core establishes.
func DispatchThread(issueID string) string         { return issueID + "-dispatch" }
func ReviewThread(issueID string) string            { return issueID + "-review" }
func QAThread(issueID string) string                { return issueID + "-qa" }
func ErrorThread(issueID string) string              { return issueID + "-error" }
func EscalationThread(issueID string) string         { return issueID + "-escalation" }
func ReworkEscalationThread(issueID string) string   { return issueID + "-rework-escalation" }

const OpsThread = "#ops"

// HumanSupervisorIdentity is the agent identity escalations and critical
// notifications are addressed to.
const HumanSupervisorIdentity = "harmbe"

// Client is an HTTP JSON-RPC client for the message bus.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customises Client construction.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }
func WithLogger(l *slog.Logger) Option     { return func(c *Client) { c.logger = l } }

// New constructs a message bus client pointed at baseURL (the bus's
// JSON-RPC endpoint, e.g. "http://localhost:8765/mcp").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: "1", Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return errs.NewFatal(fmt.Errorf("messagebus: encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return errs.NewFatal(fmt.Errorf("messagebus: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errs.NewTransient(fmt.Errorf("messagebus: %s: %w", method, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return errs.NewTransient(fmt.Errorf("messagebus: read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return errs.NewTransient(fmt.Errorf("messagebus: %s: server error %d: %s", method, resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		return errs.NewFatal(fmt.Errorf("messagebus: %s: client error %d: %s", method, resp.StatusCode, raw))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return errs.NewFatal(fmt.Errorf("messagebus: decode response: %w", err))
	}
	if rpcResp.Error != nil {
		return errs.NewFatal(fmt.Errorf("messagebus: %s: %s", method, rpcResp.Error.Message))
	}

	if result == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

// EnsureProject registers a project with the bus if it does not already
// exist.
func (c *Client) EnsureProject(ctx context.Context, projectKey, name string) error {
	return c.call(ctx, "ensure_project", map[string]any{"project_key": projectKey, "name": name}, nil)
}

// RegisterAgent registers an agent identity for a project.
func (c *Client) RegisterAgent(ctx context.Context, projectKey, identity string) error {
	return c.call(ctx, "register_agent", map[string]any{"project_key": projectKey, "identity": identity}, nil)
}

// Send delivers one message. Importance defaults to normal.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.Importance == "" {
		msg.Importance = ImportanceNormal
	}
	return c.call(ctx, "send_message", msg, nil)
}

// FetchInbox retrieves messages for identity, optionally filtered to
// unread only and bounded by limit.
func (c *Client) FetchInbox(ctx context.Context, projectKey, identity string, unreadOnly bool, limit int) ([]Inbound, error) {
	var out []Inbound
	err := c.call(ctx, "fetch_inbox", map[string]any{
		"project_key": projectKey,
		"identity":    identity,
		"unread_only": unreadOnly,
		"limit":       limit,
	}, &out)
	return out, err
}

// AcknowledgeMessage marks a message read.
func (c *Client) AcknowledgeMessage(ctx context.Context, projectKey, identity, messageID string) error {
	return c.call(ctx, "acknowledge_message", map[string]any{
		"project_key": projectKey,
		"identity":    identity,
		"message_id":  messageID,
	}, nil)
}

// SearchMessages searches the bus's message history by text.
func (c *Client) SearchMessages(ctx context.Context, projectKey, query string) ([]Inbound, error) {
	var out []Inbound
	err := c.call(ctx, "search_messages", map[string]any{"project_key": projectKey, "query": query}, &out)
	return out, err
}

// ReserveFiles takes out an advisory lease on a set of file paths.
func (c *Client) ReserveFiles(ctx context.Context, projectKey, identity string, paths []string) error {
	return c.call(ctx, "reserve_files", map[string]any{
		"project_key": projectKey,
		"identity":    identity,
		"paths":       paths,
	}, nil)
}

// ReleaseFiles releases a previously reserved set of file paths.
func (c *Client) ReleaseFiles(ctx context.Context, projectKey, identity string, paths []string) error {
	return c.call(ctx, "release_files", map[string]any{
		"project_key": projectKey,
		"identity":    identity,
		"paths":       paths,
	}, nil)
}

// ListAgents lists registered agent identities for a project.
func (c *Client) ListAgents(ctx context.Context, projectKey string) ([]string, error) {
	var out []string
	err := c.call(ctx, "list_agents", map[string]any{"project_key": projectKey}, &out)
	return out, err
}
