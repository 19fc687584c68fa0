package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContainerExecutor implements SandboxExecutor using a container CLI
// (docker or podman). The isolation policy is translated into container
// flags: memory and CPU limits, network isolation, read-only root
// filesystem, dropped capabilities, and no-new-privileges.
type ContainerExecutor struct {
	logger    *zap.Logger
	binary    string
	images    map[string]string
	cmdRunner CommandRunner
	fs        FileSystem
}

// ContainerExecutorOption defines a functional option for ContainerExecutor
type ContainerExecutorOption func(*ContainerExecutor)

// WithCommandRunner sets the CommandRunner for ContainerExecutor
func WithCommandRunner(cmdRunner CommandRunner) ContainerExecutorOption {
	return func(c *ContainerExecutor) {
		c.cmdRunner = cmdRunner
	}
}

// WithFileSystem sets the FileSystem for ContainerExecutor
func WithFileSystem(fs FileSystem) ContainerExecutorOption {
	return func(c *ContainerExecutor) {
		c.fs = fs
	}
}

// NewDockerExecutor creates a ContainerExecutor backed by the docker CLI
func NewDockerExecutor(logger *zap.Logger, images map[string]string, opts ...ContainerExecutorOption) *ContainerExecutor {
	return newContainerExecutor(logger, "docker", images, opts...)
}

// NewPodmanExecutor creates a ContainerExecutor backed by the podman CLI
func NewPodmanExecutor(logger *zap.Logger, images map[string]string, opts ...ContainerExecutorOption) *ContainerExecutor {
	return newContainerExecutor(logger, "podman", images, opts...)
}

func newContainerExecutor(logger *zap.Logger, binary string, images map[string]string, opts ...ContainerExecutorOption) *ContainerExecutor {
	executor := &ContainerExecutor{
		logger:    logger,
		binary:    binary,
		images:    images,
		cmdRunner: &RealCommandRunner{}, // Default implementation
		fs:        &RealFileSystem{},    // Default implementation
	}

	// Apply options
	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// verificationStep names one of the commands run inside the sandbox
type verificationStep struct {
	name    string
	command string
}

// Execute runs the request's scan, lint, and test commands in containers
// sharing one scratch working directory, under a single wall-clock budget.
func (c *ContainerExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	started := time.Now()

	image, ok := c.images[req.Runtime]
	if !ok {
		return ExecutionResult{}, fmt.Errorf("no image configured for runtime: %s", req.Runtime)
	}

	// Create a scratch directory for this run
	tempDir, err := c.fs.MkdirTemp("", "vetbox-exec-*")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := c.fs.RemoveAll(tempDir); rmErr != nil {
			c.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	workdir := filepath.Join(tempDir, "workdir")
	if mkdirErr := c.fs.MkdirAll(workdir, DirPermission); mkdirErr != nil {
		return ExecutionResult{}, fmt.Errorf("failed to create workdir: %w", mkdirErr)
	}

	if matErr := materializeArtifacts(c.fs, workdir, req.Artifacts); matErr != nil {
		return ExecutionResult{}, fmt.Errorf("failed to materialize artifacts: %w", matErr)
	}

	sandboxID := fmt.Sprintf("vetbox-%s", uuid.NewString()[:8])
	result := ExecutionResult{
		SandboxID: sandboxID,
		Status:    StatusRunning,
		StartedAt: started,
	}

	// One wall-clock budget covers all three commands
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
		containerName := fmt.Sprintf("%s-%s", sandboxID, step.name)
		args := c.containerRunArgs(containerName, workdir, image, req.Sandbox, step.command)

		c.logger.Debug("running verification command",
			zap.String("sandbox_id", sandboxID),
			zap.String("step", step.name),
			zap.String("command", step.command))

		stdout, stderr, exitCode, runErr := c.cmdRunner.RunCommand(runCtx, args)

		stdout = truncateOutput(stdout, req.Sandbox.Limits.MaxOutputBytes)
		stderr = truncateOutput(stderr, req.Sandbox.Limits.MaxOutputBytes)
		appendLogs(&result, stdout, stderr)

		if ctxErr := runCtx.Err(); ctxErr != nil {
			// Forcibly tear down the container before reporting
			c.stopContainer(containerName)

			if ctxErr == context.DeadlineExceeded {
				c.logger.Warn("sandbox execution timed out",
					zap.String("sandbox_id", sandboxID),
					zap.String("step", step.name),
					zap.Duration("timeout", timeout))
				return c.finish(result, StatusTimeout, 1, started), nil
			}
			return ExecutionResult{}, fmt.Errorf("sandbox execution cancelled: %w", ctxErr)
		}

		if runErr != nil {
			return ExecutionResult{}, fmt.Errorf("failed to execute container: %w", runErr)
		}

		outputs[step.name] = commandOutput{stdout: stdout, stderr: stderr, exitCode: exitCode}
	}

	collectFindings(&result, req.Runtime, outputs)

	status := StatusSuccess
	if outputs["test"].exitCode != 0 {
		status = StatusFailure
	}
	return c.finish(result, status, outputs["test"].exitCode, started), nil
}

// commandOutput holds the captured output of a single verification command
type commandOutput struct {
	stdout   string
	stderr   string
	exitCode int
}

// finish stamps the terminal fields onto a result
func (c *ContainerExecutor) finish(result ExecutionResult, status ExecutionStatus, exitCode int, started time.Time) ExecutionResult {
	result.Status = status
	result.ExitCode = exitCode
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)
	result.Usage = ResourceUsage{CPUSeconds: result.Duration.Seconds()}
	return result
}

// containerRunArgs translates the isolation policy into container run flags
func (c *ContainerExecutor) containerRunArgs(name, workdir, image string, cfg SandboxConfig, command string) []string {
	args := []string{
		c.binary, "run",
		"--name", name,
		"--rm",
		"-v", fmt.Sprintf("%s:/workdir", workdir),
		"--workdir", "/workdir",
		"--memory", fmt.Sprintf("%dm", cfg.Limits.MemoryMB),
		"--cpus", strconv.FormatFloat(cfg.Limits.CPUCores, 'f', -1, 64),
		"--user", "nobody", // Run as non-privileged user
	}

	if cfg.Network.Mode == NetworkNone {
		args = append(args, "--network", "none")
	} else {
		args = append(args, "--network", "bridge")
	}

	if cfg.Security.ReadOnlyFilesystem {
		// Root stays read-only; /workdir is the bind-mounted scratch area
		args = append(args, "--read-only", "--tmpfs", "/tmp")
	}
	if cfg.Security.NoNewPrivileges {
		args = append(args, "--security-opt", "no-new-privileges:true")
	}
	for _, capability := range cfg.Security.DropCapabilities {
		args = append(args, "--cap-drop", capability)
	}
	if cfg.Security.SeccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+cfg.Security.SeccompProfile)
	}

	// Sorted env keys keep the argument list deterministic
	keys := make([]string, 0, len(cfg.Env))
	for key := range cfg.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, cfg.Env[key]))
	}

	return append(args, image, "sh", "-c", command)
}

// stopContainer best-effort stops a container that outlived its budget
func (c *ContainerExecutor) stopContainer(name string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, _, _, err := c.cmdRunner.RunCommand(stopCtx, []string{c.binary, "stop", name}); err != nil {
		c.logger.Warn("failed to stop container", zap.String("container", name), zap.Error(err))
	}
}

// appendLogs records captured streams as ordered log entries
func appendLogs(result *ExecutionResult, stdout, stderr string) {
	now := time.Now()
	if stdout != "" {
		result.Logs = append(result.Logs, LogEntry{Timestamp: now, Stream: StreamStdout, Content: stdout})
	}
	if stderr != "" {
		result.Logs = append(result.Logs, LogEntry{Timestamp: now, Stream: StreamStderr, Content: stderr})
	}
}

// collectFindings reduces the per-step outputs into structured findings
// using the runtime's analyzer formats.
func collectFindings(result *ExecutionResult, runtime string, outputs map[string]commandOutput) {
	switch runtime {
	case RuntimePython:
		result.SecurityFindings = ParseBanditOutput(outputs["scan"].stdout)
		result.LintViolations = ParseFlake8Output(outputs["lint"].stdout)
		result.TestResults = ParsePytestOutput(outputs["test"].stdout)
	case RuntimeNode, RuntimeTypeScript:
		result.SecurityFindings = ParseNpmAuditOutput(outputs["scan"].stdout)
		result.LintViolations = ParseESLintOutput(outputs["lint"].stdout)
		result.TestResults = ParseNpmTestOutput(outputs["test"].stdout, outputs["test"].exitCode)
	}
}
