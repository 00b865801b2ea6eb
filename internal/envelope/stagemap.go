package envelope

// stageTable is the total mapping from supported stage name to worker
// type. Any stage name outside this table resolves to TroopGeneric so an
// unknown stage never aborts dispatch.
var stageTable = map[string]WorkerType{
	"workspace-detection":   TroopWorkspaceDiscovery,
	"reverse-engineering":   TroopWorkspaceDiscovery,
	"requirements-analysis": TroopRequirementsAnalysis,
	"functional-design":     TroopRequirementsAnalysis,
	"user-stories":          TroopStoryAuthoring,
	"workflow-planning":     TroopPlanning,
	"units-generation":      TroopPlanning,
	"application-design":    TroopArchitecture,
	"infrastructure-design": TroopArchitecture,
	"nfr-requirements":      TroopNFR,
	"nfr-design":            TroopNFR,
	"code-generation":       TroopCodeGeneration,
	"build-and-test":        TroopBuildTest,
}

// Route resolves a stage name to its worker type. It is a total function:
// any name not in the supported set resolves to TroopGeneric.
func Route(stageName string) WorkerType {
	if w, ok := stageTable[stageName]; ok {
		return w
	}
	return TroopGeneric
}

// SupportedStages returns the exhaustive, order-stable list of stage names
// the mapping recognises (excluding the generic fallback, which matches
// everything else).
func SupportedStages() []string {
	return []string{
		"workspace-detection",
		"reverse-engineering",
		"requirements-analysis",
		"user-stories",
		"workflow-planning",
		"application-design",
		"units-generation",
		"functional-design",
		"nfr-requirements",
		"nfr-design",
		"infrastructure-design",
		"code-generation",
		"build-and-test",
	}
}
