package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SandboxExecutor runs one execution request in isolation and returns
// exactly one result. Implementations must enforce the attached isolation
// policy: resource limits, network policy, and filesystem hardening.
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0600
)

// materializeArtifacts writes the artifact bundle into the working
// directory, rejecting filenames that would escape it.
func materializeArtifacts(fs FileSystem, workdir string, artifacts []CodeArtifact) error {
	for _, artifact := range artifacts {
		cleanName := filepath.Clean(artifact.Filename)
		if filepath.IsAbs(cleanName) {
			return fmt.Errorf("absolute artifact path not allowed: %s", artifact.Filename)
		}
		if strings.Contains(cleanName, "..") {
			return fmt.Errorf("unsafe relative artifact path: %s", artifact.Filename)
		}

		path := filepath.Join(workdir, cleanName)
		if !strings.HasPrefix(path, workdir) {
			return fmt.Errorf("invalid artifact path: %s", artifact.Filename)
		}

		if dir := filepath.Dir(path); dir != workdir {
			if err := fs.MkdirAll(dir, DirPermission); err != nil {
				return fmt.Errorf("failed to create artifact directory: %w", err)
			}
		}

		if err := fs.WriteFile(path, []byte(artifact.Content), FilePermission); err != nil {
			return fmt.Errorf("failed to write artifact %s: %w", artifact.Filename, err)
		}
	}

	return nil
}

// truncationMarker is appended when captured output exceeds the limit
const truncationMarker = "\n...[output truncated]"

// truncateOutput caps captured output at maxBytes, appending a marker when
// anything was cut.
func truncateOutput(out string, maxBytes int) string {
	if maxBytes <= 0 || len(out) <= maxBytes {
		return out
	}
	return out[:maxBytes] + truncationMarker
}
