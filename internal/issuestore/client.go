// Package issuestore is the core's client for the external issue-tracking
// CLI. Every operation shells out to the `bd` binary and parses its JSON
// (or, for create, text) output. No operation here owns the issue graph;
// the external store does.
package issuestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/aidlc/gorilla-troop/internal/corekit/errs"
)

// Client shells out to the `bd` CLI, optionally scoped to a workspace
// directory so multiple project checkouts can coexist.
type Client struct {
	binary    string
	workspace string
	logger    *slog.Logger
}

// Option customises Client construction.
type Option func(*Client)

// WithBinary overrides the CLI executable name/path (default "bd").
func WithBinary(path string) Option { return func(c *Client) { c.binary = path } }

// WithWorkspace scopes every invocation's working directory, mirroring
// the source client's per-call workspace keyword argument.
func WithWorkspace(path string) Option { return func(c *Client) { c.workspace = path } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func New(opts ...Option) *Client {
	c := &Client{binary: "bd", logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.workspace != "" {
		cmd.Dir = c.workspace
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return "", errs.NewUnavailable(fmt.Errorf("issuestore: %s not found on PATH: %w", c.binary, err))
		}
		if ctx.Err() != nil {
			return "", errs.NewTimeout(ctx.Err())
		}
		return "", errs.NewTransient(fmt.Errorf("issuestore: %s %v: %w: %s", c.binary, args, err, stderr.String()))
	}
	return stdout.String(), nil
}

func (c *Client) runJSON(ctx context.Context, args ...string) (json.RawMessage, error) {
	out, err := c.run(ctx, append(args, "--json")...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(out), nil
}

func parseIssues(raw json.RawMessage) ([]Issue, error) {
	var asList []Issue
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	var asWrapped struct {
		Issues []Issue `json:"issues"`
		Items  []Issue `json:"items"`
	}
	if err := json.Unmarshal(raw, &asWrapped); err == nil {
		if len(asWrapped.Issues) > 0 {
			return asWrapped.Issues, nil
		}
		if len(asWrapped.Items) > 0 {
			return asWrapped.Items, nil
		}
	}

	var single Issue
	if err := json.Unmarshal(raw, &single); err == nil && single.ID != "" {
		return []Issue{single}, nil
	}
	return nil, fmt.Errorf("issuestore: could not parse issue list from: %s", raw)
}

// CreateOptions carries the optional fields for CreateIssue.
type CreateOptions struct {
	Description string
	Labels      string
	Assignee    string
	Notes       string
	Acceptance  string
	Thread      string
}

var createdIDPattern = regexp.MustCompile(`Created issue:\s*(\S+)`)
var fallbackIDPattern = regexp.MustCompile(`([\w]+-\d+)`)

// CreateIssue creates an issue and returns its full record.
func (c *Client) CreateIssue(ctx context.Context, title, issueType string, priority int, opts CreateOptions) (Issue, error) {
	args := []string{"create", title, "-t", issueType, "-p", strconv.Itoa(priority)}
	if opts.Description != "" {
		args = append(args, "--description", opts.Description)
	}
	if opts.Labels != "" {
		args = append(args, "--labels", opts.Labels)
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee", opts.Assignee)
	}
	if opts.Notes != "" {
		args = append(args, "--notes", opts.Notes)
	}
	if opts.Acceptance != "" {
		args = append(args, "--acceptance", opts.Acceptance)
	}
	if opts.Thread != "" {
		args = append(args, "--thread", opts.Thread)
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return Issue{}, err
	}

	id := ""
	if m := createdIDPattern.FindStringSubmatch(out); m != nil {
		id = m[1]
	} else if m := fallbackIDPattern.FindStringSubmatch(out); m != nil {
		id = m[1]
	}
	if id == "" {
		return Issue{}, fmt.Errorf("issuestore: could not parse issue id from create output: %.300s", out)
	}
	return c.ShowIssue(ctx, id)
}

// ShowIssue fetches the full record for one issue.
func (c *Client) ShowIssue(ctx context.Context, id string) (Issue, error) {
	raw, err := c.runJSON(ctx, "show", id)
	if err != nil {
		return Issue{}, err
	}
	issues, err := parseIssues(raw)
	if err != nil {
		return Issue{}, err
	}
	if len(issues) == 0 {
		return Issue{}, fmt.Errorf("issuestore: show %s returned no issue", id)
	}
	return issues[0], nil
}

// UpdateFields carries the optional fields supported by UpdateIssue.
type UpdateFields struct {
	Claim       bool
	Status      string
	Notes       string
	AppendNotes string
	Assignee    string
	Priority    *int
	AddLabel    string
	RemoveLabel string
}

// UpdateIssue patches fields on an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, id string, f UpdateFields) error {
	args := []string{"update", id}
	if f.Claim {
		args = append(args, "--claim")
	}
	if f.Status != "" {
		args = append(args, "--status", f.Status)
	}
	if f.Notes != "" {
		args = append(args, "--notes", f.Notes)
	}
	if f.AppendNotes != "" {
		args = append(args, "--append-notes", f.AppendNotes)
	}
	if f.Assignee != "" {
		args = append(args, "--assignee", f.Assignee)
	}
	if f.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(*f.Priority))
	}
	if f.AddLabel != "" {
		args = append(args, "--add-label", f.AddLabel)
	}
	if f.RemoveLabel != "" {
		args = append(args, "--remove-label", f.RemoveLabel)
	}
	_, err := c.run(ctx, args...)
	return err
}

// CloseIssue closes an issue with an optional reason.
func (c *Client) CloseIssue(ctx context.Context, id, reason string) error {
	args := []string{"close", id}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ReopenIssue reopens a closed issue with an optional reason.
func (c *Client) ReopenIssue(ctx context.Context, id, reason string) error {
	args := []string{"reopen", id}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ListFilters carries the supported filters for ListIssues.
type ListFilters struct {
	Status        string
	Label         string
	LabelAny      string
	Assignee      string
	Type          string
	Parent        string
	Priority      string
	Title         string
	NotesContains string
	Sort          string
	Limit         int
	Reverse       bool
	NoAssignee    bool
}

// ListIssues lists issues matching the given filters.
func (c *Client) ListIssues(ctx context.Context, f ListFilters) ([]Issue, error) {
	args := []string{"list"}
	addFlag(&args, "--status", f.Status)
	addFlag(&args, "--label", f.Label)
	addFlag(&args, "--label-any", f.LabelAny)
	addFlag(&args, "--assignee", f.Assignee)
	addFlag(&args, "--type", f.Type)
	addFlag(&args, "--parent", f.Parent)
	addFlag(&args, "--priority", f.Priority)
	addFlag(&args, "--title", f.Title)
	addFlag(&args, "--notes-contains", f.NotesContains)
	addFlag(&args, "--sort", f.Sort)
	if f.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(f.Limit))
	}
	if f.Reverse {
		args = append(args, "--reverse")
	}
	if f.NoAssignee {
		args = append(args, "--no-assignee")
	}

	raw, err := c.runJSON(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseIssues(raw)
}

func addFlag(args *[]string, flag, value string) {
	if value != "" {
		*args = append(*args, flag, value)
	}
}

// Ready returns the unblocked, open issues (the "ready set").
func (c *Client) Ready(ctx context.Context, assignee string, unassigned bool) ([]Issue, error) {
	args := []string{"ready"}
	if assignee != "" {
		args = append(args, "--assignee", assignee)
	}
	if unassigned {
		args = append(args, "--unassigned")
	}
	raw, err := c.runJSON(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseIssues(raw)
}

// Blocked returns the currently blocked issues.
func (c *Client) Blocked(ctx context.Context) ([]Issue, error) {
	raw, err := c.runJSON(ctx, "blocked")
	if err != nil {
		return nil, err
	}
	return parseIssues(raw)
}

// Search searches issues by free text.
func (c *Client) Search(ctx context.Context, query string) ([]Issue, error) {
	raw, err := c.runJSON(ctx, "search", query)
	if err != nil {
		return nil, err
	}
	return parseIssues(raw)
}

// AddDependency records that blockerID blocks blockedID.
func (c *Client) AddDependency(ctx context.Context, blockedID, blockerID, depType string) error {
	args := []string{"dep", "add", blockedID, blockerID}
	if depType != "" && depType != "blocks" {
		args = append(args, "--type", depType)
	}
	_, err := c.run(ctx, args...)
	return err
}

// RemoveDependency removes a dependency edge.
func (c *Client) RemoveDependency(ctx context.Context, issueID, dependsOnID string) error {
	_, err := c.run(ctx, "dep", "remove", issueID, dependsOnID)
	return err
}

// Sync synchronises the issue store's database.
func (c *Client) Sync(ctx context.Context, force, full, importMode bool) error {
	args := []string{"sync"}
	if force {
		args = append(args, "--force")
	}
	if full {
		args = append(args, "--full")
	}
	if importMode {
		args = append(args, "--import")
	}
	_, err := c.run(ctx, args...)
	return err
}
