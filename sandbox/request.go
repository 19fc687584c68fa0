package sandbox

import (
	"errors"
	"fmt"
)

// Request builder errors. These indicate a caller contract violation and
// must surface before any sandbox is started.
var (
	ErrNoArtifacts        = errors.New("execution request requires at least one artifact")
	ErrUnsupportedRuntime = errors.New("unsupported runtime")
)

// runtimeCommands is the fixed per-runtime table of verification commands
type runtimeCommands struct {
	test      string
	lint      string
	scan      string
	entryFile string
}

var commandTable = map[string]runtimeCommands{
	RuntimePython: {
		test:      "pytest --tb=short -v",
		lint:      "flake8 . && pylint *.py",
		scan:      "bandit -r . -f json",
		entryFile: "main.py",
	},
	RuntimeNode: {
		test:      "npm test",
		lint:      "eslint . -f json",
		scan:      "npm audit --json",
		entryFile: "index.js",
	},
	RuntimeTypeScript: {
		test:      "npm test",
		lint:      "eslint . --ext .ts -f json",
		scan:      "npm audit --json",
		entryFile: "index.ts",
	},
}

// SupportedRuntime reports whether the runtime has a command table entry
func SupportedRuntime(runtime string) bool {
	_, ok := commandTable[runtime]
	return ok
}

// EntryFilename returns the conventional entry-point filename for a runtime
func EntryFilename(runtime string) (string, error) {
	cmds, ok := commandTable[runtime]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRuntime, runtime)
	}
	return cmds.entryFile, nil
}

// BuildRequest packages artifacts, the runtime, and the derived verification
// commands into a single execution request carrying the default isolation
// policy. Deterministic given identical inputs; identifiers are opaque
// strings supplied by the caller. Artifact content is not validated here.
func BuildRequest(taskID, subtaskID, agentRole string, artifacts []CodeArtifact, runtime string) (ExecutionRequest, error) {
	if len(artifacts) == 0 {
		return ExecutionRequest{}, ErrNoArtifacts
	}

	cmds, ok := commandTable[runtime]
	if !ok {
		return ExecutionRequest{}, fmt.Errorf("%w: %s", ErrUnsupportedRuntime, runtime)
	}

	return ExecutionRequest{
		TaskID:      taskID,
		SubtaskID:   subtaskID,
		AgentRole:   agentRole,
		Runtime:     runtime,
		Artifacts:   artifacts,
		TestCommand: cmds.test,
		LintCommand: cmds.lint,
		ScanCommand: cmds.scan,
		Sandbox:     BuildConfig(runtime),
	}, nil
}
