package sandbox

import "time"

// Runtime name constants
const (
	RuntimePython     = "python"
	RuntimeNode       = "node"
	RuntimeTypeScript = "typescript"
)

// ArtifactType classifies a code artifact within a bundle
type ArtifactType string

// Artifact type constants
const (
	ArtifactSource       ArtifactType = "source"
	ArtifactTest         ArtifactType = "test"
	ArtifactConfig       ArtifactType = "config"
	ArtifactRequirements ArtifactType = "requirements"
)

// CodeArtifact is a named file of generated content submitted for execution
type CodeArtifact struct {
	Filename string       `json:"filename"`
	Content  string       `json:"content"`
	Type     ArtifactType `json:"type"`
}

// ExecutionRequest packages an artifact bundle, its runtime, and the derived
// verification commands into a single sandbox run
type ExecutionRequest struct {
	TaskID      string         `json:"task_id"`
	SubtaskID   string         `json:"subtask_id"`
	AgentRole   string         `json:"agent_role"`
	Runtime     string         `json:"runtime"`
	Artifacts   []CodeArtifact `json:"artifacts"`
	TestCommand string         `json:"test_command"`
	LintCommand string         `json:"lint_command"`
	ScanCommand string         `json:"scan_command"`
	Sandbox     SandboxConfig  `json:"sandbox"`
}

// ExecutionStatus represents the lifecycle state of a sandbox run
type ExecutionStatus string

// Execution status constants
const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
	StatusTimeout ExecutionStatus = "timeout"
	StatusError   ExecutionStatus = "error"
)

// LogStream identifies which stream a log entry was captured from
type LogStream string

// Log stream constants
const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// LogEntry is a single captured output record from a sandbox run
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    LogStream `json:"stream"`
	Content   string    `json:"content"`
}

// ResourceUsage reports resources consumed by a sandbox run.
// PeakMemoryMB is zero when the backend cannot report it.
type ResourceUsage struct {
	PeakMemoryMB int     `json:"peak_memory_mb"`
	CPUSeconds   float64 `json:"cpu_seconds"`
}

// Severity ranks security and contract findings
type Severity string

// Severity constants
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s ranks at or above min. Unknown severities rank
// below low.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// TestStatus represents the outcome of a single test case
type TestStatus string

// Test status constants
const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestSkipped TestStatus = "skipped"
	TestErrored TestStatus = "error"
)

// TestResult is the outcome of one test case from the test runner
type TestResult struct {
	Name         string        `json:"name"`
	File         string        `json:"file"`
	Status       TestStatus    `json:"status"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StackTrace   string        `json:"stack_trace,omitempty"`
	CoveragePct  float64       `json:"coverage_pct,omitempty"`
}

// SecurityFinding is a single issue raised by a security scanner
type SecurityFinding struct {
	Severity    Severity `json:"severity"`
	Type        string   `json:"type"`
	File        string   `json:"file"`
	Line        int      `json:"line,omitempty"`
	Message     string   `json:"message"`
	CWE         string   `json:"cwe,omitempty"`
	CVE         string   `json:"cve,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// LintSeverity ranks lint violations
type LintSeverity string

// Lint severity constants
const (
	LintWarning LintSeverity = "warning"
	LintError   LintSeverity = "error"
)

// LintViolation is a single issue raised by a linter
type LintViolation struct {
	RuleID     string       `json:"rule_id"`
	Severity   LintSeverity `json:"severity"`
	File       string       `json:"file"`
	Line       int          `json:"line"`
	Column     int          `json:"column"`
	Message    string       `json:"message"`
	Fixable    bool         `json:"fixable,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
}

// ExecutionResult is the complete outcome of one sandbox run. It is produced
// exactly once per request by the executor and is immutable thereafter.
type ExecutionResult struct {
	SandboxID        string            `json:"sandbox_id"`
	Status           ExecutionStatus   `json:"status"`
	ExitCode         int               `json:"exit_code"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
	Duration         time.Duration     `json:"duration"`
	Logs             []LogEntry        `json:"logs"`
	TestResults      []TestResult      `json:"test_results"`
	SecurityFindings []SecurityFinding `json:"security_findings"`
	LintViolations   []LintViolation   `json:"lint_violations"`
	Usage            ResourceUsage     `json:"usage"`
}
