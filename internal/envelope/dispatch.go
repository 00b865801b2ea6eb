// Package envelope defines the two immutable values exchanged between the
// Supervisor and a worker: the Dispatch envelope describing work to
// perform, and the Completion envelope describing its outcome.
package envelope

// Phase tags a dispatch as belonging to the inception or construction half
// of a project's lifecycle.
type Phase string

const (
	PhaseInception    Phase = "inception"
	PhaseConstruction Phase = "construction"
)

// WorkerType names one of the registered runner types the Engine can
// dispatch to. It is a closed enumeration: every stage maps to exactly one
// of these via Route (see stagemap.go), with TroopGeneric as the
// catch-all fallback.
type WorkerType string

const (
	TroopWorkspaceDiscovery   WorkerType = "workspace-discovery"
	TroopRequirementsAnalysis WorkerType = "requirements-analysis"
	TroopStoryAuthoring       WorkerType = "story-authoring"
	TroopPlanning             WorkerType = "planning"
	TroopArchitecture         WorkerType = "architecture"
	TroopNFR                  WorkerType = "nfr"
	TroopCodeGeneration       WorkerType = "code-generation"
	TroopBuildTest            WorkerType = "build-test"
	TroopSupervisor           WorkerType = "supervisor"
	TroopErrorInvestigator    WorkerType = "error-investigator"
	TroopRework               WorkerType = "rework"
	TroopSecurityScanner      WorkerType = "security-scanner"
	TroopMonitor              WorkerType = "monitor"
	TroopWriteGuard           WorkerType = "write-guard"
	TroopGeneric              WorkerType = "generic"
)

// Dispatch is the immutable description of work handed from the Supervisor
// to one worker through the Engine. Created by the Supervisor, consumed
// once by one worker, never mutated afterward.
type Dispatch struct {
	StageName         string     `json:"stage_name"`
	StageType         WorkerType `json:"stage_type"`
	IssueID           string     `json:"issue_id"`
	ReviewGateID      string     `json:"review_gate_id,omitempty"`
	UnitName          string     `json:"unit_name,omitempty"`
	Phase             Phase      `json:"phase"`
	InputArtifacts    []string   `json:"input_artifacts"`
	ReferenceDocs     []string   `json:"reference_docs"`
	ProjectKey        string     `json:"project_key"`
	WorkspaceRoot     string     `json:"workspace_root"`
	Worker            WorkerType `json:"worker"`
	Instructions      string     `json:"instructions,omitempty"`
}

// New builds a Dispatch from the required fields, resolving Worker from
// StageName via Route, and normalising nil slices to empty so
// serialisation is stable.
func New(stageName, issueID, projectKey, workspaceRoot string, opts ...Option) Dispatch {
	d := Dispatch{
		StageName:      stageName,
		IssueID:        issueID,
		ProjectKey:     projectKey,
		WorkspaceRoot:  workspaceRoot,
		Phase:          PhaseInception,
		InputArtifacts: []string{},
		ReferenceDocs:  []string{},
	}
	d.StageType = Route(stageName)
	d.Worker = d.StageType
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Option customises an optional Dispatch field.
type Option func(*Dispatch)

func WithReviewGateID(id string) Option { return func(d *Dispatch) { d.ReviewGateID = id } }
func WithUnitName(name string) Option   { return func(d *Dispatch) { d.UnitName = name } }
func WithPhase(p Phase) Option          { return func(d *Dispatch) { d.Phase = p } }
func WithInputArtifacts(paths []string) Option {
	return func(d *Dispatch) { d.InputArtifacts = paths }
}
func WithReferenceDocs(paths []string) Option {
	return func(d *Dispatch) { d.ReferenceDocs = paths }
}
func WithInstructions(s string) Option { return func(d *Dispatch) { d.Instructions = s } }
func WithWorker(w WorkerType) Option    { return func(d *Dispatch) { d.Worker = w } }
