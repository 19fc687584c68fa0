// Package verify implements the verification pipeline core.
//
// The verify package drives the four-phase verification state machine
// (dependency vetting, static analysis, test execution, contract
// validation) over a bundle of generated code artifacts, reduces the
// collected findings into a single PASS/FAIL verdict with a failure
// category, and routes failures to the remediation agent responsible for
// that class of defect.
//
// A verification run is a pure function of the task schema and collaborator
// responses: each run exclusively owns the report it builds, distinct runs
// share no mutable state and may execute concurrently.
//
// Usage:
//
//	orch := verify.New(logger, cfg, executor, vetter, validator)
//	report, err := orch.RunVerification(ctx, task)
package verify
