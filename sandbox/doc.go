// Package sandbox provides secure execution of generated code artifacts.
//
// The sandbox package defines the execution contract of the verification
// pipeline (isolation policy, execution requests and results, structured
// findings) and implements the execution engine for running untrusted
// artifacts in isolated environments. It supports multiple backends
// including Docker, Podman, and local execution (for development).
//
// Each executor handles the full lifecycle of a run: it materializes the
// artifact bundle into a scratch working directory, runs the derived
// security-scan, lint, and test commands under the attached isolation
// policy, captures output up to the configured limit, and reduces the raw
// tool output into structured findings.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, images, "docker", 4)
//	req, err := sandbox.BuildRequest(taskID, subtaskID, role, artifacts, sandbox.RuntimePython)
//	result, err := executor.Execute(ctx, req)
package sandbox
