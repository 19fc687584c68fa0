package verify

import (
	"time"

	"github.com/isdmx/vetbox/contract"
	"github.com/isdmx/vetbox/depvet"
	"github.com/isdmx/vetbox/sandbox"
)

// TaskSchema is the inbound task description supplied by the surrounding
// product. Iteration counts previous repair attempts for this task.
type TaskSchema struct {
	TaskID          string                 `json:"task_id"`
	SubtaskID       string                 `json:"subtask_id"`
	AgentRole       string                 `json:"agent_role"`
	Iteration       int                    `json:"iteration"`
	MaxRepairBudget int                    `json:"max_repair_budget"`
	ContractSpecURL string                 `json:"contract_spec_url"`
	Runtime         string                 `json:"runtime"`
	Artifacts       []sandbox.CodeArtifact `json:"artifacts"`
}

// ReportStatus is the lifecycle state of a whole verification run
type ReportStatus string

// Report status constants
const (
	ReportPending   ReportStatus = "PENDING"
	ReportRunning   ReportStatus = "RUNNING"
	ReportCompleted ReportStatus = "COMPLETED"
	ReportFailed    ReportStatus = "FAILED"
)

// PhaseStatus is the lifecycle state of one verification phase
type PhaseStatus string

// Phase status constants
const (
	PhasePending   PhaseStatus = "PENDING"
	PhaseCompleted PhaseStatus = "COMPLETED"
	PhaseFailed    PhaseStatus = "FAILED"
)

// PhaseResult records one completed phase with its collected data
type PhaseResult[T any] struct {
	Status PhaseStatus `json:"status"`
	Passed bool        `json:"passed"`
	Data   T           `json:"data"`
}

// StaticAnalysisData is the union of findings from the scan and lint
// commands of one sandbox run
type StaticAnalysisData struct {
	SecurityFindings []sandbox.SecurityFinding `json:"security_findings"`
	LintViolations   []sandbox.LintViolation   `json:"lint_violations"`
}

// TestSuiteSummary aggregates one test run by framework
type TestSuiteSummary struct {
	Framework   string        `json:"framework"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Errored     int           `json:"errored"`
	Duration    time.Duration `json:"duration"`
	CoveragePct float64       `json:"coverage_pct"`
}

// Verdict is the binary outcome of a completed verification run
type Verdict string

// Verdict constants
const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// FailureCategory classifies a FAIL verdict for remediation routing
type FailureCategory string

// Failure category constants
const (
	CategorySyntax   FailureCategory = "SYNTAX"
	CategoryLogic    FailureCategory = "LOGIC"
	CategorySecurity FailureCategory = "SECURITY"
	CategoryContract FailureCategory = "CONTRACT"
	CategoryNone     FailureCategory = "NONE"
)

// Output is the adjudicated outcome handed back to the requesting agent.
// TargetAgent is set if and only if the verdict is FAIL.
type Output struct {
	Verdict          Verdict         `json:"verdict"`
	Category         FailureCategory `json:"failure_category"`
	LogsSummary      string          `json:"logs_summary"`
	Feedback         string          `json:"feedback"`
	RepairSuggestion string          `json:"repair_suggestion"`
	RetryRecommended bool            `json:"retry_recommended"`
	TargetAgent      string          `json:"target_agent,omitempty"`
	Iteration        int             `json:"iteration"`
	BudgetRemaining  int             `json:"budget_remaining"`
}

// Report is the complete record of one verification run. It is created
// with all phases pending, exclusively owned and mutated by the run's
// orchestrator, and read-only to every consumer afterwards. A report is
// never reopened; a new run produces a new report.
type Report struct {
	ReportID    string    `json:"report_id"`
	TaskID      string    `json:"task_id"`
	SandboxID   string    `json:"sandbox_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Status ReportStatus `json:"status"`

	DependencyVetting  PhaseResult[[]depvet.Dependency]        `json:"dependency_vetting"`
	StaticAnalysis     PhaseResult[StaticAnalysisData]         `json:"static_analysis"`
	TestExecution      PhaseResult[[]TestSuiteSummary]         `json:"test_execution"`
	ContractValidation PhaseResult[contract.ValidationResult]  `json:"contract_validation"`

	Output Output `json:"output"`
}
