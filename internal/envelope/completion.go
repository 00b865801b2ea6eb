package envelope

// Status is the outcome of a worker's invocation.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusNeedsRework Status = "needs_rework"
)

// DiscoveredItem is a semantic mapping describing work a worker noticed
// but did not create an issue for itself (the Supervisor / Monitor decide
// whether to track it).
type DiscoveredItem map[string]any

// Completion is the immutable outcome produced by one worker and consumed
// by the Supervisor.
type Completion struct {
	StageName         string           `json:"stage_name"`
	IssueID           string           `json:"issue_id"`
	Status            Status           `json:"status"`
	OutputArtifacts   []string         `json:"output_artifacts"`
	Summary           string           `json:"summary"`
	DiscoveredIssues  []DiscoveredItem `json:"discovered_issues,omitempty"`
	ErrorDetail       string           `json:"error_detail,omitempty"`
	ReworkReason      string           `json:"rework_reason,omitempty"`
}

// Builder constructs Completion values with sensible zero values for the
// optional fields, mirroring the source's build_completion helper.
type Builder struct {
	c Completion
}

func NewCompletion(stageName, issueID string) *Builder {
	return &Builder{c: Completion{
		StageName:       stageName,
		IssueID:         issueID,
		OutputArtifacts: []string{},
	}}
}

func (b *Builder) Status(s Status) *Builder               { b.c.Status = s; return b }
func (b *Builder) Artifacts(paths []string) *Builder       { b.c.OutputArtifacts = paths; return b }
func (b *Builder) Summary(s string) *Builder                { b.c.Summary = s; return b }
func (b *Builder) Discovered(items []DiscoveredItem) *Builder {
	b.c.DiscoveredIssues = items
	return b
}
func (b *Builder) Error(detail string) *Builder  { b.c.ErrorDetail = detail; return b }
func (b *Builder) Rework(reason string) *Builder { b.c.ReworkReason = reason; return b }

func (b *Builder) Build() Completion { return b.c }

// Completed builds a terminal success Completion in one call.
func Completed(stageName, issueID string, artifacts []string, summary string) Completion {
	return NewCompletion(stageName, issueID).
		Status(StatusCompleted).
		Artifacts(artifacts).
		Summary(summary).
		Build()
}

// Failed builds a terminal failure Completion in one call.
func Failed(stageName, issueID, summary, errorDetail string) Completion {
	return NewCompletion(stageName, issueID).
		Status(StatusFailed).
		Summary(summary).
		Error(errorDetail).
		Build()
}

// NeedsRework builds a rework-requested Completion in one call.
func NeedsRework(stageName, issueID, summary, reason string) Completion {
	return NewCompletion(stageName, issueID).
		Status(StatusNeedsRework).
		Summary(summary).
		Rework(reason).
		Build()
}
