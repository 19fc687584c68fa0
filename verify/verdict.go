package verify

import "github.com/isdmx/vetbox/sandbox"

// MapToVerdict reduces a raw execution result to a verdict and failure
// category using a fixed priority order, first match wins:
//
//  1. Any critical or high security finding fails as SECURITY — security
//     issues are never masked by cosmetic lint noise.
//  2. Any error-severity lint violation fails as SYNTAX — cheaper to repair
//     than logic failures, so surfaced before test diagnosis.
//  3. Any failed or errored test fails as LOGIC.
//  4. A timed-out or crashed run fails as LOGIC — execution-level failures
//     block every other signal.
//  5. Otherwise the run passes.
//
// Deterministic: the same result always maps to the same pair.
func MapToVerdict(result sandbox.ExecutionResult) (Verdict, FailureCategory) {
	for _, finding := range result.SecurityFindings {
		if finding.Severity.AtLeast(sandbox.SeverityHigh) {
			return VerdictFail, CategorySecurity
		}
	}

	for _, violation := range result.LintViolations {
		if violation.Severity == sandbox.LintError {
			return VerdictFail, CategorySyntax
		}
	}

	for _, test := range result.TestResults {
		if test.Status == sandbox.TestFailed || test.Status == sandbox.TestErrored {
			return VerdictFail, CategoryLogic
		}
	}

	if result.Status == sandbox.StatusTimeout || result.Status == sandbox.StatusError {
		return VerdictFail, CategoryLogic
	}

	return VerdictPass, CategoryNone
}
