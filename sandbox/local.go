package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalExecutor implements SandboxExecutor using local execution (for
// development only). It applies the wall-clock budget and output limits but
// cannot enforce memory, network, or filesystem isolation.
type LocalExecutor struct {
	logger    *zap.Logger
	cmdRunner CommandRunner
	fs        FileSystem
}

// LocalExecutorOption defines a functional option for LocalExecutor
type LocalExecutorOption func(*LocalExecutor)

// WithLocalCommandRunner sets the CommandRunner for LocalExecutor
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalExecutor
func WithLocalFileSystem(fs FileSystem) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.fs = fs
	}
}

// NewLocalExecutor creates a new LocalExecutor with default implementations
func NewLocalExecutor(logger *zap.Logger, opts ...LocalExecutorOption) *LocalExecutor {
	executor := &LocalExecutor{
		logger:    logger,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the request's commands directly on the host
func (l *LocalExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	l.logger.Warn("local executor provides no isolation, use for development only",
		zap.String("task_id", req.TaskID))

	started := time.Now()

	tempDir, err := l.fs.MkdirTemp("", "vetbox-local-*")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := l.fs.RemoveAll(tempDir); rmErr != nil {
			l.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	workdir := filepath.Join(tempDir, "workdir")
	if mkdirErr := l.fs.MkdirAll(workdir, DirPermission); mkdirErr != nil {
		return ExecutionResult{}, fmt.Errorf("failed to create workdir: %w", mkdirErr)
	}

	if matErr := materializeArtifacts(l.fs, workdir, req.Artifacts); matErr != nil {
		return ExecutionResult{}, fmt.Errorf("failed to materialize artifacts: %w", matErr)
	}

	result := ExecutionResult{
		SandboxID: fmt.Sprintf("vetbox-local-%s", uuid.NewString()[:8]),
		Status:    StatusRunning,
		StartedAt: started,
	}

	timeout := time.Duration(req.Sandbox.Limits.TimeoutSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	steps := []verificationStep{
		{name: "scan", command: req.ScanCommand},
		{name: "lint", command: req.LintCommand},
		{name: "test", command: req.TestCommand},
	}

	outputs := make(map[string]commandOutput, len(steps))
	for _, step := range steps {
		stdout, stderr, exitCode, runErr := l.cmdRunner.RunCommand(runCtx,
			[]string{"sh", "-c", fmt.Sprintf("cd %s && %s", workdir, step.command)})

		stdout = truncateOutput(stdout, req.Sandbox.Limits.MaxOutputBytes)
		stderr = truncateOutput(stderr, req.Sandbox.Limits.MaxOutputBytes)
		appendLogs(&result, stdout, stderr)

		if ctxErr := runCtx.Err(); ctxErr != nil {
			if ctxErr == context.DeadlineExceeded {
				result.Status = StatusTimeout
				result.ExitCode = 1
				result.CompletedAt = time.Now()
				result.Duration = result.CompletedAt.Sub(started)
				result.Usage = ResourceUsage{CPUSeconds: result.Duration.Seconds()}
				return result, nil
			}
			return ExecutionResult{}, fmt.Errorf("local execution cancelled: %w", ctxErr)
		}

		if runErr != nil {
			return ExecutionResult{}, fmt.Errorf("failed to execute command: %w", runErr)
		}

		outputs[step.name] = commandOutput{stdout: stdout, stderr: stderr, exitCode: exitCode}
	}

	collectFindings(&result, req.Runtime, outputs)

	result.Status = StatusSuccess
	if outputs["test"].exitCode != 0 {
		result.Status = StatusFailure
	}
	result.ExitCode = outputs["test"].exitCode
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)
	result.Usage = ResourceUsage{CPUSeconds: result.Duration.Seconds()}

	return result, nil
}
