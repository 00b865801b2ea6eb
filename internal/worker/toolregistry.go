package worker

import "github.com/aidlc/gorilla-troop/internal/envelope"

// toolTable is the static mapping from worker type to the tool names it
// is authorised to call. It is the authorisation boundary consulted by
// any tool-invoking helper; the permissions themselves are plain data.
var toolTable = map[envelope.WorkerType][]string{
	envelope.TroopWorkspaceDiscovery: {
		"read_file", "list_directory", "search_code",
		"scribe_create_artifact", "scribe_validate", "scribe_list_artifacts",
	},
	envelope.TroopRequirementsAnalysis: {
		"read_artifact", "scribe_create_artifact", "scribe_update_artifact",
		"search_beads_history", "scribe_list_artifacts",
	},
	envelope.TroopStoryAuthoring: {
		"read_artifact", "scribe_create_artifact", "search_prior_artifacts",
	},
	envelope.TroopPlanning: {
		"read_artifact", "scribe_create_artifact",
		"beads_list_issues", "beads_create_issue", "beads_add_dependency",
	},
	envelope.TroopArchitecture: {
		"read_artifact", "scribe_create_artifact", "read_file", "list_directory",
	},
	envelope.TroopNFR: {
		"read_artifact", "scribe_create_artifact", "search_prior_artifacts",
	},
	envelope.TroopCodeGeneration: {
		"read_artifact", "read_file", "write_code_file", "git_commit", "run_linter",
	},
	envelope.TroopBuildTest: {
		"read_artifact", "read_file", "write_test_file", "run_tests", "run_linter", "git_commit",
	},
	envelope.TroopSupervisor: {
		"dispatch_stage", "check_ready", "check_blocked",
		"create_review_gate", "recommend_skip",
		"update_stage_status", "file_reservation",
	},
	envelope.TroopWriteGuard: {
		"write_file", "delete_file",
		"git_commit", "git_create_branch", "git_checkout", "git_merge",
		"beads_create", "beads_update", "beads_close",
	},
	envelope.TroopMonitor: {
		"check_inbox", "compile_status_report",
		"detect_stale", "notify_supervisor",
	},
	envelope.TroopSecurityScanner: {
		"scan_artifact", "scan_code", "scan_dependencies",
		"generate_security_report",
	},
	envelope.TroopErrorInvestigator: {
		"read_file", "read_beads_issue", "read_agent_mail_thread",
		"attempt_fix", "escalate",
	},
	envelope.TroopRework: {
		"read_artifact", "read_review_feedback",
		"scribe_create_artifact", "scribe_update_artifact",
		"write_code_file", "run_tests",
	},
	envelope.TroopGeneric: {
		"read_file", "read_artifact", "write_file",
		"scribe_create_artifact", "scribe_update_artifact",
		"beads_list_issues",
	},
}

// ToolGuard enforces the tool-permission table.
type ToolGuard struct{}

// Allowed reports whether workerType may call tool.
func (ToolGuard) Allowed(workerType envelope.WorkerType, tool string) bool {
	for _, t := range toolTable[workerType] {
		if t == tool {
			return true
		}
	}
	return false
}

// AllowedTools returns the full set of tools workerType may call.
func (ToolGuard) AllowedTools(workerType envelope.WorkerType) []string {
	tools := toolTable[workerType]
	out := make([]string, len(tools))
	copy(out, tools)
	return out
}
