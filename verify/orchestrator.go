package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/vetbox/config"
	"github.com/isdmx/vetbox/contract"
	"github.com/isdmx/vetbox/depvet"
	"github.com/isdmx/vetbox/sandbox"
)

// Phase names a step of the verification state machine
type Phase string

// Phase constants, in execution order
const (
	PhaseIdle           Phase = "idle"
	PhaseDependencies   Phase = "dependencies"
	PhaseStaticAnalysis Phase = "static_analysis"
	PhaseTests          Phase = "tests"
	PhaseContract       Phase = "contract"
	PhaseFinalizing     Phase = "finalizing"
	PhaseComplete       Phase = "complete"
)

// ErrRunCancelled is returned when a run is cancelled between phases
var ErrRunCancelled = errors.New("verification run cancelled")

// RepairHandler is notified exactly once per FAIL verdict
type RepairHandler func(targetAgent, repairSuggestion string)

// PhaseObserver receives an immutable report snapshot after each phase
// completes. Observers see either a fully written phase or its pending
// placeholder, never a partial write.
type PhaseObserver func(phase Phase, snapshot Report)

// Option defines a functional option for the Orchestrator
type Option func(*Orchestrator)

// WithRepairHandler sets the handler fired on FAIL verdicts
func WithRepairHandler(handler RepairHandler) Option {
	return func(o *Orchestrator) {
		o.onRepair = handler
	}
}

// WithPhaseObserver sets the observer notified after each phase
func WithPhaseObserver(observer PhaseObserver) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// Orchestrator drives the verification phase state machine. It is safe for
// concurrent use; every run builds its own report.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       *config.Config
	executor  sandbox.SandboxExecutor
	vetter    depvet.Vetter
	validator contract.Validator
	onRepair  RepairHandler
	observer  PhaseObserver
}

// New creates an Orchestrator with all collaborators
func New(
	logger *zap.Logger,
	cfg *config.Config,
	executor sandbox.SandboxExecutor,
	vetter depvet.Vetter,
	validator contract.Validator,
	opts ...Option,
) *Orchestrator {
	orchestrator := &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		executor:  executor,
		vetter:    vetter,
		validator: validator,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// runState carries one run's working data through the phase sequence. The
// report inside is exclusively owned by this run.
type runState struct {
	task   TaskSchema
	req    sandbox.ExecutionRequest
	budget int
	report *Report
	exec   sandbox.ExecutionResult
	fatal  error
}

// RunVerification runs the full phase sequence for one task and returns a
// completed report. Malformed tasks (empty artifact bundle, unsupported
// runtime) error out before any report exists; a collaborator failure mid-run
// still yields a complete report with a FAIL verdict. Repeated invocations
// for successive repair iterations each produce a fresh report.
func (o *Orchestrator) RunVerification(ctx context.Context, task TaskSchema) (*Report, error) {
	req, err := sandbox.BuildRequest(task.TaskID, task.SubtaskID, task.AgentRole, task.Artifacts, task.Runtime)
	if err != nil {
		return nil, fmt.Errorf("invalid verification task: %w", err)
	}

	budget := task.MaxRepairBudget
	if budget <= 0 {
		budget = o.cfg.Verifier.MaxRepairBudget
	}

	run := &runState{
		task:   task,
		req:    req,
		budget: budget,
		report: &Report{
			ReportID:           uuid.NewString(),
			TaskID:             task.TaskID,
			StartedAt:          time.Now(),
			Status:             ReportRunning,
			DependencyVetting:  PhaseResult[[]depvet.Dependency]{Status: PhasePending},
			StaticAnalysis:     PhaseResult[StaticAnalysisData]{Status: PhasePending},
			TestExecution:      PhaseResult[[]TestSuiteSummary]{Status: PhasePending},
			ContractValidation: PhaseResult[contract.ValidationResult]{Status: PhasePending},
		},
	}

	o.logger.Info("verification run started",
		zap.String("report_id", run.report.ReportID),
		zap.String("task_id", task.TaskID),
		zap.String("runtime", task.Runtime),
		zap.Int("iteration", task.Iteration),
		zap.Int("budget", budget))

	type phaseStep struct {
		phase Phase
		fn    func(context.Context, *runState) error
	}

	// Strictly sequential and forward-only; every phase runs even when an
	// earlier one already failed, so the report is always complete.
	steps := []phaseStep{
		{PhaseDependencies, o.runDependencies},
		{PhaseStaticAnalysis, o.runStaticAnalysis},
		{PhaseTests, o.runTests},
		{PhaseContract, o.runContract},
	}

	for _, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return run.report, fmt.Errorf("%w before %s phase: %v", ErrRunCancelled, step.phase, ctxErr)
		}

		if err := step.fn(ctx, run); err != nil {
			if ctx.Err() != nil {
				return run.report, fmt.Errorf("%w during %s phase: %v", ErrRunCancelled, step.phase, err)
			}
			// Collaborator failure is fatal to the run: mark the phase
			// failed, short-circuit the rest, adjudicate as LOGIC.
			o.logger.Error("verification phase failed",
				zap.String("report_id", run.report.ReportID),
				zap.String("phase", string(step.phase)),
				zap.Error(err))
			run.fatal = err
			o.markPhaseFailed(run.report, step.phase)
			o.notify(step.phase, run.report)
			break
		}

		o.notify(step.phase, run.report)
	}

	// Finalization is terminal and not cancellable
	o.finalize(run)
	o.notify(PhaseComplete, run.report)

	return run.report, nil
}

// runDependencies classifies the bundle's declared dependencies. The phase
// passes iff no dependency is banned; unpinned ones are recorded only.
func (o *Orchestrator) runDependencies(ctx context.Context, run *runState) error {
	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout("dependencies"))
	defer cancel()

	deps, err := o.vetter.Vet(phaseCtx, run.task.Artifacts)
	if err != nil {
		return fmt.Errorf("dependency vetter: %w", err)
	}

	passed := true
	for _, dep := range deps {
		if dep.Status == depvet.StatusBanned {
			passed = false
			break
		}
	}

	run.report.DependencyVetting = PhaseResult[[]depvet.Dependency]{
		Status: PhaseCompleted,
		Passed: passed,
		Data:   deps,
	}
	return nil
}

// runStaticAnalysis issues the single sandbox execution of the run. The
// scan, lint, and test commands all run here; later phases aggregate from
// the same result. A sandbox-level timeout or crash completes the phase as
// failed rather than aborting the run.
func (o *Orchestrator) runStaticAnalysis(ctx context.Context, run *runState) error {
	// One execution does the work of both this phase and the test phase,
	// so it runs under their combined SLA
	budget := o.cfg.PhaseTimeout("static_analysis") + o.cfg.PhaseTimeout("tests")
	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result, err := o.executor.Execute(phaseCtx, run.req)
	if err != nil {
		return fmt.Errorf("sandbox executor: %w", err)
	}

	run.exec = result
	run.report.SandboxID = result.SandboxID

	passed := result.Status != sandbox.StatusTimeout && result.Status != sandbox.StatusError
	for _, finding := range result.SecurityFindings {
		if finding.Severity.AtLeast(sandbox.SeverityHigh) {
			passed = false
			break
		}
	}
	if passed {
		for _, violation := range result.LintViolations {
			if violation.Severity == sandbox.LintError {
				passed = false
				break
			}
		}
	}

	run.report.StaticAnalysis = PhaseResult[StaticAnalysisData]{
		Status: PhaseCompleted,
		Passed: passed,
		Data: StaticAnalysisData{
			SecurityFindings: result.SecurityFindings,
			LintViolations:   result.LintViolations,
		},
	}
	return nil
}

// runTests aggregates the suite summary from the sandbox run. The phase
// passes iff no test failed or errored and the run itself completed.
func (o *Orchestrator) runTests(_ context.Context, run *runState) error {
	summary := summarizeSuite(run.task.Runtime, run.exec)

	passed := summary.Failed == 0 && summary.Errored == 0 &&
		run.exec.Status != sandbox.StatusTimeout && run.exec.Status != sandbox.StatusError

	run.report.TestExecution = PhaseResult[[]TestSuiteSummary]{
		Status: PhaseCompleted,
		Passed: passed,
		Data:   []TestSuiteSummary{summary},
	}
	return nil
}

// runContract validates the artifact against its declared contract. The
// phase passes iff zero violations.
func (o *Orchestrator) runContract(ctx context.Context, run *runState) error {
	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout("contract"))
	defer cancel()

	result, err := o.validator.Validate(phaseCtx, run.task.TaskID, run.task.ContractSpecURL)
	if err != nil {
		return fmt.Errorf("contract validator: %w", err)
	}

	run.report.ContractValidation = PhaseResult[contract.ValidationResult]{
		Status: PhaseCompleted,
		Passed: len(result.Violations) == 0,
		Data:   result,
	}
	return nil
}

// finalize computes the aggregate verdict, fills the output, and closes
// the report. A fatal collaborator error leaves the report FAILED;
// everything else completes it.
func (o *Orchestrator) finalize(run *runState) {
	report := run.report

	out := Output{
		Iteration:       run.task.Iteration,
		BudgetRemaining: max(0, run.budget-run.task.Iteration),
		LogsSummary:     summarizeLogs(run.exec.Logs),
	}

	allPassed := run.fatal == nil &&
		report.DependencyVetting.Passed &&
		report.StaticAnalysis.Passed &&
		report.TestExecution.Passed &&
		report.ContractValidation.Passed

	if allPassed {
		out.Verdict = VerdictPass
		out.Category = CategoryNone
		out.Feedback = "All verification phases passed."
	} else {
		category, severity, feedback, suggestion := o.diagnose(run)
		out.Verdict = VerdictFail
		out.Category = category
		out.Feedback = feedback
		out.RepairSuggestion = suggestion
		out.TargetAgent = Route(category, severity, run.task.Runtime)
		out.RetryRecommended = ShouldRetry(run.task.Iteration, run.budget, category)
	}

	report.Output = out
	report.CompletedAt = time.Now()
	if run.fatal != nil {
		report.Status = ReportFailed
	} else {
		report.Status = ReportCompleted
	}

	o.logger.Info("verification run finished",
		zap.String("report_id", report.ReportID),
		zap.String("verdict", string(out.Verdict)),
		zap.String("category", string(out.Category)),
		zap.Bool("retry_recommended", out.RetryRecommended))

	if out.Verdict == VerdictFail && o.onRepair != nil {
		o.onRepair(out.TargetAgent, out.RepairSuggestion)
	}
}

// diagnose selects the single failure category using the finalization
// precedence — security beats contract beats logic beats syntax,
// independent of phase order — and composes feedback from the first
// offending finding in that category.
func (o *Orchestrator) diagnose(run *runState) (FailureCategory, sandbox.Severity, string, string) {
	report := run.report

	for _, finding := range report.StaticAnalysis.Data.SecurityFindings {
		if finding.Severity.AtLeast(sandbox.SeverityHigh) {
			feedback := fmt.Sprintf("Security scan found a %s severity issue in %s: %s",
				finding.Severity, finding.File, finding.Message)
			suggestion := finding.Remediation
			if suggestion == "" {
				suggestion = fmt.Sprintf("Fix the %s issue at %s:%d before resubmitting.",
					finding.Type, finding.File, finding.Line)
			}
			return CategorySecurity, finding.Severity, feedback, suggestion
		}
	}

	for _, dep := range report.DependencyVetting.Data {
		if dep.Status != depvet.StatusBanned {
			continue
		}
		severity := sandbox.SeverityHigh
		if dep.Vulnerability != nil && dep.Vulnerability.Severity != "" {
			severity = sandbox.Severity(dep.Vulnerability.Severity)
		}
		feedback := fmt.Sprintf("Dependency %s from %s is banned: %s", dep.Name, dep.Manifest, dep.Reason)
		suggestion := fmt.Sprintf("Remove or replace the banned dependency %s.", dep.Name)
		return CategorySecurity, severity, feedback, suggestion
	}

	if violations := report.ContractValidation.Data.Violations; len(violations) > 0 {
		v := violations[0]
		feedback := fmt.Sprintf("Contract violation on %s %s (%s): expected %s, got %s",
			v.Method, v.Endpoint, v.Type, v.Expected, v.Actual)
		suggestion := fmt.Sprintf("Align %s %s with the contract: %s.", v.Method, v.Endpoint, v.Expected)
		return CategoryContract, v.Severity, feedback, suggestion
	}

	for _, test := range run.exec.TestResults {
		if test.Status != sandbox.TestFailed && test.Status != sandbox.TestErrored {
			continue
		}
		feedback := fmt.Sprintf("Test %s in %s %s", test.Name, test.File, test.Status)
		if test.ErrorMessage != "" {
			feedback += ": " + test.ErrorMessage
		}
		suggestion := fmt.Sprintf("Fix the implementation so %s passes.", test.Name)
		return CategoryLogic, sandbox.SeverityMedium, feedback, suggestion
	}

	if run.fatal != nil {
		feedback := fmt.Sprintf("Verification could not complete: %v", run.fatal)
		return CategoryLogic, sandbox.SeverityHigh, feedback,
			"Ensure the artifact bundle is runnable and resubmit."
	}

	if run.exec.Status == sandbox.StatusTimeout || run.exec.Status == sandbox.StatusError {
		feedback := fmt.Sprintf("Sandbox execution ended with status %s after %s",
			run.exec.Status, run.exec.Duration)
		return CategoryLogic, sandbox.SeverityMedium, feedback,
			"Check for infinite loops or excessive resource use."
	}

	for _, violation := range report.StaticAnalysis.Data.LintViolations {
		if violation.Severity != sandbox.LintError {
			continue
		}
		feedback := fmt.Sprintf("Lint rule %s failed at %s:%d:%d: %s",
			violation.RuleID, violation.File, violation.Line, violation.Column, violation.Message)
		suggestion := violation.Suggestion
		if suggestion == "" {
			suggestion = fmt.Sprintf("Fix the %s violation at %s:%d.", violation.RuleID, violation.File, violation.Line)
		}
		return CategorySyntax, sandbox.SeverityLow, feedback, suggestion
	}

	// Remaining static-analysis noise (warnings that still failed a phase)
	return CategorySyntax, sandbox.SeverityLow,
		"Static analysis reported issues that must be resolved.",
		"Run the linter locally and fix every reported violation."
}

// markPhaseFailed records a fatal collaborator error on the phase it
// happened in; later phases keep their pending placeholders.
func (o *Orchestrator) markPhaseFailed(report *Report, phase Phase) {
	switch phase {
	case PhaseDependencies:
		report.DependencyVetting.Status = PhaseFailed
	case PhaseStaticAnalysis:
		report.StaticAnalysis.Status = PhaseFailed
	case PhaseTests:
		report.TestExecution.Status = PhaseFailed
	case PhaseContract:
		report.ContractValidation.Status = PhaseFailed
	}
}

// notify delivers a value-copy snapshot to the observer
func (o *Orchestrator) notify(phase Phase, report *Report) {
	if o.observer != nil {
		o.observer(phase, *report)
	}
}

// summarizeSuite folds per-test results into one framework summary
func summarizeSuite(runtime string, exec sandbox.ExecutionResult) TestSuiteSummary {
	framework := "npm"
	if runtime == sandbox.RuntimePython {
		framework = "pytest"
	}

	summary := TestSuiteSummary{
		Framework: framework,
		Duration:  exec.Duration,
	}
	var coverage float64
	for _, test := range exec.TestResults {
		switch test.Status {
		case sandbox.TestPassed:
			summary.Passed++
		case sandbox.TestFailed:
			summary.Failed++
		case sandbox.TestSkipped:
			summary.Skipped++
		case sandbox.TestErrored:
			summary.Errored++
		}
		if test.CoveragePct > coverage {
			coverage = test.CoveragePct
		}
	}
	summary.CoveragePct = coverage
	return summary
}

// logsSummaryLimit caps the execution log summary carried in the output
const logsSummaryLimit = 2000

// summarizeLogs flattens captured log entries into one bounded string
func summarizeLogs(logs []sandbox.LogEntry) string {
	if len(logs) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, entry := range logs {
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("[%s] %s", entry.Stream, entry.Content))
		if builder.Len() >= logsSummaryLimit {
			break
		}
	}

	summary := builder.String()
	if len(summary) > logsSummaryLimit {
		summary = summary[:logsSummaryLimit] + "\n...[truncated]"
	}
	return summary
}
