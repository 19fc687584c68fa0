package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/vetbox/config"
	"github.com/isdmx/vetbox/contract"
	"github.com/isdmx/vetbox/depvet"
	"github.com/isdmx/vetbox/sandbox"
)

// fakeExecutor returns a canned result and records the request
type fakeExecutor struct {
	result  sandbox.ExecutionResult
	err     error
	calls   int
	lastReq sandbox.ExecutionRequest
}

func (f *fakeExecutor) Execute(_ context.Context, req sandbox.ExecutionRequest) (sandbox.ExecutionResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return sandbox.ExecutionResult{}, f.err
	}
	return f.result, nil
}

// fakeVetter returns canned dependency classifications
type fakeVetter struct {
	deps []depvet.Dependency
	err  error
}

func (f *fakeVetter) Vet(_ context.Context, _ []sandbox.CodeArtifact) ([]depvet.Dependency, error) {
	return f.deps, f.err
}

// fakeValidator returns a canned validation result
type fakeValidator struct {
	result  contract.ValidationResult
	err     error
	gotSpec string
}

func (f *fakeValidator) Validate(_ context.Context, _, specURL string) (contract.ValidationResult, error) {
	f.gotSpec = specURL
	if f.err != nil {
		return contract.ValidationResult{}, f.err
	}
	return f.result, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Verifier: config.VerifierConfig{
			MaxRepairBudget:       5,
			DependencyVettingSec:  10,
			StaticAnalysisSec:     60,
			TestExecutionSec:      120,
			ContractValidationSec: 30,
		},
	}
}

func testTask() TaskSchema {
	return TaskSchema{
		TaskID:          "task-100",
		SubtaskID:       "sub-1",
		AgentRole:       "Python Coder Agent",
		Iteration:       1,
		MaxRepairBudget: 5,
		ContractSpecURL: "https://contracts.internal/orders.yaml",
		Runtime:         sandbox.RuntimePython,
		Artifacts: []sandbox.CodeArtifact{
			{Filename: "main.py", Content: "print('ok')\n", Type: sandbox.ArtifactSource},
			{Filename: "test_main.py", Content: "def test_ok():\n    pass\n", Type: sandbox.ArtifactTest},
		},
	}
}

func passingExecResult() sandbox.ExecutionResult {
	return sandbox.ExecutionResult{
		SandboxID: "vetbox-abc12345",
		Status:    sandbox.StatusSuccess,
		Duration:  2 * time.Second,
		Logs: []sandbox.LogEntry{
			{Stream: sandbox.StreamStdout, Content: "2 passed in 0.04s"},
		},
		TestResults: []sandbox.TestResult{
			{Name: "test_ok", File: "test_main.py", Status: sandbox.TestPassed},
			{Name: "test_edge", File: "test_main.py", Status: sandbox.TestPassed},
		},
	}
}

func newTestOrchestrator(t *testing.T, executor *fakeExecutor, vetter *fakeVetter, validator *fakeValidator, opts ...Option) *Orchestrator {
	t.Helper()
	return New(zaptest.NewLogger(t), testConfig(), executor, vetter, validator, opts...)
}

func TestRunVerificationCleanPass(t *testing.T) {
	executor := &fakeExecutor{result: passingExecResult()}
	vetter := &fakeVetter{deps: []depvet.Dependency{
		{Name: "requests", Version: "2.32.0", Status: depvet.StatusApproved, Manifest: "requirements.txt"},
	}}
	validator := &fakeValidator{result: contract.ValidationResult{Passed: true, Validated: 3, TotalEndpoints: 3}}

	var repairs int
	orchestrator := newTestOrchestrator(t, executor, vetter, validator,
		WithRepairHandler(func(_, _ string) { repairs++ }))

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, ReportCompleted, report.Status)
	assert.NotEmpty(t, report.ReportID)
	assert.Equal(t, "task-100", report.TaskID)
	assert.Equal(t, "vetbox-abc12345", report.SandboxID)
	assert.False(t, report.CompletedAt.IsZero())

	for _, phase := range []struct {
		name   string
		status PhaseStatus
		passed bool
	}{
		{"dependencies", report.DependencyVetting.Status, report.DependencyVetting.Passed},
		{"static analysis", report.StaticAnalysis.Status, report.StaticAnalysis.Passed},
		{"tests", report.TestExecution.Status, report.TestExecution.Passed},
		{"contract", report.ContractValidation.Status, report.ContractValidation.Passed},
	} {
		assert.Equal(t, PhaseCompleted, phase.status, phase.name)
		assert.True(t, phase.passed, phase.name)
	}

	assert.Equal(t, VerdictPass, report.Output.Verdict)
	assert.Equal(t, CategoryNone, report.Output.Category)
	assert.Empty(t, report.Output.TargetAgent)
	assert.False(t, report.Output.RetryRecommended)
	assert.Equal(t, 1, report.Output.Iteration)
	assert.Equal(t, 4, report.Output.BudgetRemaining)
	assert.Contains(t, report.Output.LogsSummary, "2 passed")

	assert.Equal(t, 1, executor.calls, "exactly one sandbox execution per run")
	assert.Equal(t, "https://contracts.internal/orders.yaml", validator.gotSpec)
	assert.Zero(t, repairs)

	// test summary aggregated from the sandbox result
	require.Len(t, report.TestExecution.Data, 1)
	summary := report.TestExecution.Data[0]
	assert.Equal(t, "pytest", summary.Framework)
	assert.Equal(t, 2, summary.Passed)
	assert.Zero(t, summary.Failed)
}

func TestRunVerificationFailedTestRoutesToCoder(t *testing.T) {
	result := passingExecResult()
	result.TestResults = append(result.TestResults, sandbox.TestResult{
		Name:         "test_refund",
		File:         "test_main.py",
		Status:       sandbox.TestFailed,
		ErrorMessage: "assert 90 == 100",
	})

	executor := &fakeExecutor{result: result}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, VerdictFail, report.Output.Verdict)
	assert.Equal(t, CategoryLogic, report.Output.Category)
	assert.Equal(t, "Python Coder Agent", report.Output.TargetAgent)
	assert.True(t, report.Output.RetryRecommended)
	assert.Contains(t, report.Output.Feedback, "test_refund")
	assert.Contains(t, report.Output.Feedback, "assert 90 == 100")
	assert.NotEmpty(t, report.Output.RepairSuggestion)

	assert.False(t, report.TestExecution.Passed)
	assert.True(t, report.StaticAnalysis.Passed)
}

func TestRunVerificationSecurityMasksOtherFailures(t *testing.T) {
	result := passingExecResult()
	result.Status = sandbox.StatusFailure
	result.SecurityFindings = []sandbox.SecurityFinding{
		{
			Severity:    sandbox.SeverityHigh,
			Type:        "hardcoded_sql_expressions",
			File:        "main.py",
			Line:        14,
			Message:     "Possible SQL injection vector through string-based query construction",
			Remediation: "Use parameterized queries.",
		},
	}
	result.LintViolations = []sandbox.LintViolation{
		{RuleID: "F821", Severity: sandbox.LintError, File: "main.py", Message: "undefined name"},
	}
	result.TestResults = []sandbox.TestResult{
		{Name: "test_query", Status: sandbox.TestFailed},
	}

	executor := &fakeExecutor{result: result}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	task := testTask()
	task.Iteration = 2 // at the security sub-budget with budget 5

	report, err := orchestrator.RunVerification(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, VerdictFail, report.Output.Verdict)
	assert.Equal(t, CategorySecurity, report.Output.Category)
	assert.Equal(t, AgentSecOps, report.Output.TargetAgent)
	assert.False(t, report.Output.RetryRecommended, "security sub-budget exhausted")
	assert.Contains(t, report.Output.Feedback, "SQL injection")
	assert.Equal(t, "Use parameterized queries.", report.Output.RepairSuggestion)
}

func TestRunVerificationContractBeatsSyntax(t *testing.T) {
	result := passingExecResult()
	result.LintViolations = []sandbox.LintViolation{
		{RuleID: "E501", Severity: sandbox.LintError, File: "main.py", Line: 3, Message: "line too long"},
	}

	executor := &fakeExecutor{result: result}
	validator := &fakeValidator{result: contract.ValidationResult{
		Passed: false,
		Violations: []contract.Violation{
			{
				Endpoint: "/orders/{id}",
				Method:   "GET",
				Type:     contract.WrongStatusCode,
				Expected: "404 for unknown order",
				Actual:   "500",
				Severity: sandbox.SeverityMedium,
			},
		},
	}}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, validator)

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, CategoryContract, report.Output.Category)
	assert.Equal(t, AgentContractNegotiator, report.Output.TargetAgent)
	assert.Contains(t, report.Output.Feedback, "/orders/{id}")
	assert.False(t, report.ContractValidation.Passed)
	assert.False(t, report.StaticAnalysis.Passed)
}

func TestRunVerificationLintOnlyFailureIsSyntax(t *testing.T) {
	result := passingExecResult()
	result.LintViolations = []sandbox.LintViolation{
		{RuleID: "no-unused-vars", Severity: sandbox.LintError, File: "index.js", Line: 7, Column: 11,
			Message: "'total' is assigned a value but never used", Suggestion: "Remove the unused binding."},
	}

	executor := &fakeExecutor{result: result}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	task := testTask()
	task.Runtime = sandbox.RuntimeNode
	task.Artifacts = []sandbox.CodeArtifact{
		{Filename: "index.js", Content: "const total = 1;\n", Type: sandbox.ArtifactSource},
	}

	report, err := orchestrator.RunVerification(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, CategorySyntax, report.Output.Category)
	assert.Equal(t, AgentAutoLinter, report.Output.TargetAgent)
	assert.Contains(t, report.Output.Feedback, "no-unused-vars")
	assert.Equal(t, "Remove the unused binding.", report.Output.RepairSuggestion)
}

func TestRunVerificationSandboxTimeout(t *testing.T) {
	executor := &fakeExecutor{result: sandbox.ExecutionResult{
		SandboxID: "vetbox-deadbeef",
		Status:    sandbox.StatusTimeout,
		Duration:  30 * time.Second,
		Logs: []sandbox.LogEntry{
			{Stream: sandbox.StreamStderr, Content: "sandbox timed out"},
		},
	}}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	// a sandbox-level timeout completes the phases but fails the run
	assert.Equal(t, ReportCompleted, report.Status)
	assert.Equal(t, PhaseCompleted, report.StaticAnalysis.Status)
	assert.False(t, report.StaticAnalysis.Passed)
	assert.False(t, report.TestExecution.Passed)

	assert.Equal(t, VerdictFail, report.Output.Verdict)
	assert.Equal(t, CategoryLogic, report.Output.Category)
	assert.Equal(t, "Python Coder Agent", report.Output.TargetAgent)
	assert.Contains(t, report.Output.Feedback, "timeout")
	assert.True(t, report.Output.RetryRecommended)
}

func TestRunVerificationBannedDependencyFailsAsSecurity(t *testing.T) {
	executor := &fakeExecutor{result: passingExecResult()}
	vetter := &fakeVetter{deps: []depvet.Dependency{
		{Name: "left-pad", Version: "1.3.0", Status: depvet.StatusBanned, Manifest: "package.json",
			Reason: "banned by policy"},
	}}
	orchestrator := newTestOrchestrator(t, executor, vetter, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	assert.False(t, report.DependencyVetting.Passed)
	assert.Equal(t, VerdictFail, report.Output.Verdict)
	assert.Equal(t, CategorySecurity, report.Output.Category)
	assert.Equal(t, AgentSecOps, report.Output.TargetAgent)
	assert.Contains(t, report.Output.Feedback, "left-pad")
}

func TestRunVerificationUnpinnedDependencyStillPasses(t *testing.T) {
	executor := &fakeExecutor{result: passingExecResult()}
	vetter := &fakeVetter{deps: []depvet.Dependency{
		{Name: "flask", Version: "", Status: depvet.StatusUnpinned, Manifest: "requirements.txt"},
	}}
	orchestrator := newTestOrchestrator(t, executor, vetter, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	assert.True(t, report.DependencyVetting.Passed)
	assert.Equal(t, VerdictPass, report.Output.Verdict)
	require.Len(t, report.DependencyVetting.Data, 1)
	assert.Equal(t, depvet.StatusUnpinned, report.DependencyVetting.Data[0].Status)
}

func TestRunVerificationExecutorFailureIsFatal(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("docker daemon unreachable")}
	validator := &fakeValidator{result: contract.ValidationResult{Passed: true}}

	var gotAgent, gotSuggestion string
	var repairs int
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, validator,
		WithRepairHandler(func(agent, suggestion string) {
			repairs++
			gotAgent = agent
			gotSuggestion = suggestion
		}))

	report, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err, "collaborator failure still produces a report")
	require.NotNil(t, report)

	assert.Equal(t, ReportFailed, report.Status)
	assert.Equal(t, PhaseCompleted, report.DependencyVetting.Status)
	assert.Equal(t, PhaseFailed, report.StaticAnalysis.Status)
	assert.Equal(t, PhasePending, report.TestExecution.Status, "remaining phases short-circuited")
	assert.Equal(t, PhasePending, report.ContractValidation.Status)

	assert.Equal(t, VerdictFail, report.Output.Verdict)
	assert.Equal(t, CategoryLogic, report.Output.Category)
	assert.Equal(t, AgentPlanner, report.Output.TargetAgent)
	assert.Contains(t, report.Output.Feedback, "docker daemon unreachable")

	assert.Equal(t, 1, repairs)
	assert.Equal(t, AgentPlanner, gotAgent)
	assert.NotEmpty(t, gotSuggestion)
	assert.Empty(t, validator.gotSpec, "contract validator never invoked")
}

func TestRunVerificationMalformedTask(t *testing.T) {
	orchestrator := newTestOrchestrator(t, &fakeExecutor{}, &fakeVetter{}, &fakeValidator{})

	t.Run("empty artifact bundle", func(t *testing.T) {
		task := testTask()
		task.Artifacts = nil

		report, err := orchestrator.RunVerification(context.Background(), task)
		require.Error(t, err)
		assert.ErrorIs(t, err, sandbox.ErrNoArtifacts)
		assert.Nil(t, report, "no report for malformed input")
	})

	t.Run("unsupported runtime", func(t *testing.T) {
		task := testTask()
		task.Runtime = "cobol"

		report, err := orchestrator.RunVerification(context.Background(), task)
		require.Error(t, err)
		assert.ErrorIs(t, err, sandbox.ErrUnsupportedRuntime)
		assert.Nil(t, report)
	})
}

func TestRunVerificationBudgetDefaultsFromConfig(t *testing.T) {
	result := passingExecResult()
	result.TestResults = []sandbox.TestResult{
		{Name: "test_fail", Status: sandbox.TestFailed},
	}
	executor := &fakeExecutor{result: result}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	task := testTask()
	task.MaxRepairBudget = 0
	task.Iteration = 4

	report, err := orchestrator.RunVerification(context.Background(), task)
	require.NoError(t, err)

	// config default budget of five still permits one more attempt
	assert.True(t, report.Output.RetryRecommended)
	assert.Equal(t, 1, report.Output.BudgetRemaining)
}

func TestRunVerificationBudgetExhausted(t *testing.T) {
	result := passingExecResult()
	result.TestResults = []sandbox.TestResult{
		{Name: "test_fail", Status: sandbox.TestFailed},
	}
	executor := &fakeExecutor{result: result}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	task := testTask()
	task.Iteration = 5

	report, err := orchestrator.RunVerification(context.Background(), task)
	require.NoError(t, err)

	assert.False(t, report.Output.RetryRecommended)
	assert.Zero(t, report.Output.BudgetRemaining)
	assert.Equal(t, VerdictFail, report.Output.Verdict)
}

func TestRunVerificationCancelledBetweenPhases(t *testing.T) {
	orchestrator := newTestOrchestrator(t, &fakeExecutor{result: passingExecResult()}, &fakeVetter{}, &fakeValidator{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orchestrator.RunVerification(ctx, testTask())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunCancelled)
	require.NotNil(t, report, "partial report returned on cancellation")
	assert.Equal(t, ReportRunning, report.Status)
}

func TestRunVerificationPhaseObserverSequence(t *testing.T) {
	executor := &fakeExecutor{result: passingExecResult()}
	var seen []Phase
	var snapshots []Report
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}},
		WithPhaseObserver(func(phase Phase, snapshot Report) {
			seen = append(seen, phase)
			snapshots = append(snapshots, snapshot)
		}))

	_, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, []Phase{
		PhaseDependencies,
		PhaseStaticAnalysis,
		PhaseTests,
		PhaseContract,
		PhaseComplete,
	}, seen)

	// each snapshot shows its own phase complete and later phases pending
	require.Len(t, snapshots, 5)
	assert.Equal(t, PhaseCompleted, snapshots[0].DependencyVetting.Status)
	assert.Equal(t, PhasePending, snapshots[0].StaticAnalysis.Status)
	assert.Equal(t, PhaseCompleted, snapshots[2].TestExecution.Status)
	assert.Equal(t, PhasePending, snapshots[2].ContractValidation.Status)
	assert.Equal(t, ReportCompleted, snapshots[4].Status)
}

func TestRunVerificationFreshReportPerIteration(t *testing.T) {
	executor := &fakeExecutor{result: passingExecResult()}
	orchestrator := newTestOrchestrator(t, executor, &fakeVetter{}, &fakeValidator{result: contract.ValidationResult{Passed: true}})

	first, err := orchestrator.RunVerification(context.Background(), testTask())
	require.NoError(t, err)

	task := testTask()
	task.Iteration = 2
	second, err := orchestrator.RunVerification(context.Background(), task)
	require.NoError(t, err)

	assert.NotEqual(t, first.ReportID, second.ReportID)
	assert.Equal(t, 2, executor.calls)
	assert.Equal(t, 2, second.Output.Iteration)
}

func TestSummarizeSuite(t *testing.T) {
	exec := sandbox.ExecutionResult{
		Duration: 3 * time.Second,
		TestResults: []sandbox.TestResult{
			{Name: "a", Status: sandbox.TestPassed, CoveragePct: 81.5},
			{Name: "b", Status: sandbox.TestFailed},
			{Name: "c", Status: sandbox.TestSkipped},
			{Name: "d", Status: sandbox.TestErrored},
			{Name: "e", Status: sandbox.TestPassed},
		},
	}

	summary := summarizeSuite(sandbox.RuntimePython, exec)
	assert.Equal(t, "pytest", summary.Framework)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 3*time.Second, summary.Duration)
	assert.InDelta(t, 81.5, summary.CoveragePct, 0.01)

	summary = summarizeSuite(sandbox.RuntimeNode, sandbox.ExecutionResult{})
	assert.Equal(t, "npm", summary.Framework)
}

func TestSummarizeLogs(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, summarizeLogs(nil))
	})

	t.Run("labels streams", func(t *testing.T) {
		summary := summarizeLogs([]sandbox.LogEntry{
			{Stream: sandbox.StreamStdout, Content: "collected 4 items"},
			{Stream: sandbox.StreamStderr, Content: "warning: deprecated API"},
		})
		assert.Contains(t, summary, "[stdout] collected 4 items")
		assert.Contains(t, summary, "[stderr] warning: deprecated API")
	})

	t.Run("bounded", func(t *testing.T) {
		long := make([]byte, 4*logsSummaryLimit)
		for i := range long {
			long[i] = 'x'
		}
		summary := summarizeLogs([]sandbox.LogEntry{
			{Stream: sandbox.StreamStdout, Content: string(long)},
		})
		assert.LessOrEqual(t, len(summary), logsSummaryLimit+32)
		assert.Contains(t, summary, "[truncated]")
	})
}
