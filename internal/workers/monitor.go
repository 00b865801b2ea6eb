package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aidlc/gorilla-troop/internal/envelope"
	"github.com/aidlc/gorilla-troop/internal/issuestore"
	"github.com/aidlc/gorilla-troop/internal/messagebus"
)

const (
	staleInProgressThreshold = 48 * time.Hour
	overdueReviewThreshold   = 24 * time.Hour
	inboxFetchLimit          = 50
)

// IssueLister is the read-only capability the Monitor needs from the
// issue store.
type IssueLister interface {
	ListIssues(ctx context.Context, f issuestore.ListFilters) ([]issuestore.Issue, error)
}

// Monitor is the deterministic, LLM-free worker that inspects the issue
// store and the operator's inbox for stale or overdue work and reports
// to the supervisor.
type Monitor struct {
	Identity string
	Store    IssueLister
	Bus      *messagebus.Client
	Sender   messagebus.Sender
	Now      func() time.Time
}

func NewMonitor(identity string, store IssueLister, bus *messagebus.Client, sender messagebus.Sender) *Monitor {
	return &Monitor{Identity: identity, Store: store, Bus: bus, Sender: sender, Now: time.Now}
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Monitor) Execute(ctx context.Context, d envelope.Dispatch) (envelope.Completion, error) {
	var sections []string
	var discovered []envelope.DiscoveredItem

	if section := m.checkInbox(ctx, d.ProjectKey); section != "" {
		sections = append(sections, section)
	}

	staleSection, staleItems := m.checkStaleIssues(ctx)
	sections = append(sections, staleSection)
	discovered = append(discovered, staleItems...)

	overdueSection, overdueItems := m.checkOverdueReviews(ctx)
	sections = append(sections, overdueSection)
	discovered = append(discovered, overdueItems...)

	if len(sections) == 0 {
		sections = append(sections, "No notable events or issues detected.")
	}

	report := "# Monitor Report\n\n" + strings.Join(sections, "\n\n")
	m.sendReport(ctx, d.ProjectKey, report, discovered)

	summary := report
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return envelope.NewCompletion(d.StageName, d.IssueID).
		Status(envelope.StatusCompleted).
		Summary(summary).
		Discovered(discovered).
		Build(), nil
}

func (m *Monitor) checkInbox(ctx context.Context, projectKey string) string {
	if m.Bus == nil {
		return ""
	}
	messages, err := m.Bus.FetchInbox(ctx, projectKey, m.Identity, true, inboxFetchLimit)
	if err != nil {
		return fmt.Sprintf("## Inbox\nFailed to fetch inbox: %s", err)
	}
	if len(messages) == 0 {
		return "## Inbox\nNo unread messages."
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("## Inbox (%d unread messages)\n", len(messages)))
	errorCount, stateCount, otherCount := 0, 0, 0
	for _, msg := range messages {
		prefix := "   "
		switch {
		case strings.Contains(msg.Subject, "[ERROR]") || strings.Contains(msg.Subject, "[ESCALATION]"):
			errorCount++
			prefix = "!!!"
		case strings.Contains(strings.ToLower(msg.Subject), "state") || strings.Contains(strings.ToLower(msg.Subject), "status"):
			stateCount++
			prefix = "-->"
		default:
			otherCount++
		}
		lines = append(lines, fmt.Sprintf("- %s **%s**: %s", prefix, msg.From, msg.Subject))
		if msg.ID != "" {
			_ = m.Bus.AcknowledgeMessage(ctx, projectKey, m.Identity, msg.ID)
		}
	}
	lines = append(lines, fmt.Sprintf("\nSummary: %d errors/escalations, %d state changes, %d other.", errorCount, stateCount, otherCount))
	return strings.Join(lines, "\n")
}

func (m *Monitor) checkStaleIssues(ctx context.Context) (string, []envelope.DiscoveredItem) {
	if m.Store == nil {
		return "## Stale Issues\nNo issue store configured.", nil
	}
	inProgress, err := m.Store.ListIssues(ctx, issuestore.ListFilters{Status: "in_progress"})
	if err != nil {
		return fmt.Sprintf("## Stale Issues\nFailed to query issue store: %s", err), nil
	}
	if len(inProgress) == 0 {
		return "## Stale Issues\nNo in-progress issues found.", nil
	}

	now := m.now()
	var stale []string
	var discovered []envelope.DiscoveredItem
	for _, issue := range inProgress {
		age, ok := issue.Age(now)
		if !ok || age <= staleInProgressThreshold {
			continue
		}
		stale = append(stale, fmt.Sprintf("- **%s** (%s): in_progress for %.0fh (threshold: %.0fh)",
			issue.ID, issue.Title, age.Hours(), staleInProgressThreshold.Hours()))
		discovered = append(discovered, envelope.DiscoveredItem{
			"type": "stale_issue", "issue_id": issue.ID, "title": issue.Title, "age_hours": age.Hours(),
		})
	}
	if len(stale) == 0 {
		return fmt.Sprintf("## Stale Issues\n%d in-progress issues, none stale.", len(inProgress)), nil
	}
	return fmt.Sprintf("## Stale Issues (%d detected)\n%s", len(stale), strings.Join(stale, "\n")), discovered
}

func (m *Monitor) checkOverdueReviews(ctx context.Context) (string, []envelope.DiscoveredItem) {
	if m.Store == nil {
		return "## Overdue Reviews\nNo issue store configured.", nil
	}
	gates, err := m.Store.ListIssues(ctx, issuestore.ListFilters{Label: "type:review-gate", Status: "open"})
	if err != nil {
		return fmt.Sprintf("## Overdue Reviews\nFailed to query issue store: %s", err), nil
	}
	if len(gates) == 0 {
		return "## Overdue Reviews\nNo open review gates found.", nil
	}

	now := m.now()
	var overdue []string
	var discovered []envelope.DiscoveredItem
	for _, issue := range gates {
		age, ok := issue.Age(now)
		if !ok || age <= overdueReviewThreshold {
			continue
		}
		overdue = append(overdue, fmt.Sprintf("- **%s** (%s): open for %.0fh (threshold: %.0fh)",
			issue.ID, issue.Title, age.Hours(), overdueReviewThreshold.Hours()))
		discovered = append(discovered, envelope.DiscoveredItem{
			"type": "overdue_review", "issue_id": issue.ID, "title": issue.Title, "age_hours": age.Hours(),
		})
	}
	if len(overdue) == 0 {
		return fmt.Sprintf("## Overdue Reviews\n%d open review gates, none overdue.", len(gates)), nil
	}
	return fmt.Sprintf("## Overdue Reviews (%d detected)\n%s", len(overdue), strings.Join(overdue, "\n")), discovered
}

func (m *Monitor) sendReport(ctx context.Context, projectKey, report string, discovered []envelope.DiscoveredItem) {
	if m.Sender == nil {
		return
	}
	importance := messagebus.ImportanceNormal
	subject := "[STATUS] Monitor report"
	if len(discovered) > 0 {
		importance = messagebus.ImportanceHigh
		subject = fmt.Sprintf("[STATUS] Monitor report (%d items flagged)", len(discovered))
	}
	_ = m.Sender.Send(ctx, messagebus.Message{
		ProjectKey: projectKey,
		From:       m.Identity,
		To:         []string{messagebus.HumanSupervisorIdentity},
		Subject:    subject,
		Body:       report,
		ThreadID:   "monitor-report",
		Importance: importance,
	})
}
