package sandbox

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// cmdResult scripts the outcome of a single mocked command
type cmdResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing. Results are keyed
// by the trailing `sh -c` command so container names do not matter.
type MockCommandRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]cmdResult
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, args)
	m.mu.Unlock()

	if len(args) == 0 {
		return "", "", 0, nil
	}
	key := args[len(args)-1]
	if result, exists := m.results[key]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return "", "", 0, nil
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	written map[string][]byte
	removed []string
}

func (m *MockFileSystem) MkdirTemp(_, _ string) (string, error) {
	return "/tmp/vetbox-test", nil
}

func (m *MockFileSystem) MkdirAll(_ string, _ os.FileMode) error {
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	if m.written == nil {
		m.written = make(map[string][]byte)
	}
	m.written[filename] = data
	return nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

func testImages() map[string]string {
	return map[string]string{
		RuntimePython:     "python:3.12-slim",
		RuntimeNode:       "node:20-alpine",
		RuntimeTypeScript: "node:20-alpine",
	}
}

func TestContainerExecutorConstructors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("DefaultConstructor", func(t *testing.T) {
		executor := NewDockerExecutor(logger, testImages())
		require.NotNil(t, executor)
		assert.Equal(t, "docker", executor.binary)
		assert.NotNil(t, executor.cmdRunner)
		assert.NotNil(t, executor.fs)
	})

	t.Run("PodmanBinary", func(t *testing.T) {
		executor := NewPodmanExecutor(logger, testImages())
		require.NotNil(t, executor)
		assert.Equal(t, "podman", executor.binary)
	})

	t.Run("ConstructorWithOptions", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		mockFS := &MockFileSystem{}

		executor := NewDockerExecutor(
			logger,
			testImages(),
			WithCommandRunner(mockRunner),
			WithFileSystem(mockFS),
		)
		require.NotNil(t, executor)
		assert.Equal(t, mockRunner, executor.cmdRunner)
		assert.Equal(t, mockFS, executor.fs)
	})
}

func TestContainerExecutorExecute(t *testing.T) {
	logger := zaptest.NewLogger(t)

	banditOut := `{"results": [{"filename": "main.py", "issue_severity": "HIGH", "issue_text": "shell=True", "line_number": 5, "test_id": "B602", "issue_cwe": {"id": 78}}]}`
	flake8Out := "main.py:10:1: E302 expected 2 blank lines, got 1\n"
	pytestOut := "tests/test_main.py::test_ok PASSED [ 50%]\ntests/test_main.py::test_bad FAILED [100%]\n"

	newRunner := func() *MockCommandRunner {
		return &MockCommandRunner{
			results: map[string]cmdResult{
				"bandit -r . -f json":     {stdout: banditOut},
				"flake8 . && pylint *.py": {stdout: flake8Out, exitCode: 1},
				"pytest --tb=short -v":    {stdout: pytestOut, exitCode: 1},
			},
		}
	}

	t.Run("FullRun", func(t *testing.T) {
		runner := newRunner()
		fs := &MockFileSystem{}
		executor := NewDockerExecutor(logger, testImages(), WithCommandRunner(runner), WithFileSystem(fs))

		req, err := BuildRequest("task-1", "sub-1", "agent", sampleArtifacts(), RuntimePython)
		require.NoError(t, err)

		result, err := executor.Execute(context.Background(), req)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(result.SandboxID, "vetbox-"))
		assert.Equal(t, StatusFailure, result.Status)
		assert.Equal(t, 1, result.ExitCode)
		assert.False(t, result.CompletedAt.IsZero())

		require.Len(t, result.SecurityFindings, 1)
		assert.Equal(t, SeverityHigh, result.SecurityFindings[0].Severity)
		require.Len(t, result.LintViolations, 1)
		assert.Equal(t, "E302", result.LintViolations[0].RuleID)
		require.Len(t, result.TestResults, 2)
		assert.Equal(t, TestFailed, result.TestResults[1].Status)

		assert.NotEmpty(t, result.Logs)

		// Artifacts were materialized into the scratch workdir
		assert.Contains(t, fs.written, "/tmp/vetbox-test/workdir/main.py")
		// Scratch directory was cleaned up
		assert.Contains(t, fs.removed, "/tmp/vetbox-test")
	})

	t.Run("PolicyFlagsApplied", func(t *testing.T) {
		runner := newRunner()
		executor := NewDockerExecutor(logger, testImages(), WithCommandRunner(runner), WithFileSystem(&MockFileSystem{}))

		req, err := BuildRequest("task-2", "sub-2", "agent", sampleArtifacts(), RuntimePython)
		require.NoError(t, err)

		_, err = executor.Execute(context.Background(), req)
		require.NoError(t, err)

		require.NotEmpty(t, runner.calls)
		joined := strings.Join(runner.calls[0], " ")
		assert.Contains(t, joined, "--network none")
		assert.Contains(t, joined, "--read-only")
		assert.Contains(t, joined, "--cap-drop ALL")
		assert.Contains(t, joined, "--security-opt no-new-privileges:true")
		assert.Contains(t, joined, "--security-opt seccomp=runtime/default")
		assert.Contains(t, joined, "--memory 512m")
		assert.Contains(t, joined, "--cpus 0.5")
		assert.Contains(t, joined, "--user nobody")
	})

	t.Run("Timeout", func(t *testing.T) {
		runner := newRunner()
		executor := NewDockerExecutor(logger, testImages(), WithCommandRunner(runner), WithFileSystem(&MockFileSystem{}))

		req, err := BuildRequest("task-3", "sub-3", "agent", sampleArtifacts(), RuntimePython)
		require.NoError(t, err)
		req.Sandbox.Limits.TimeoutSec = 0 // budget already exhausted

		result, err := executor.Execute(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, StatusTimeout, result.Status)
		assert.False(t, result.CompletedAt.IsZero())

		// The container was best-effort stopped
		stopped := false
		for _, call := range runner.calls {
			if len(call) > 1 && call[1] == "stop" {
				stopped = true
			}
		}
		assert.True(t, stopped)
	})

	t.Run("Cancelled", func(t *testing.T) {
		runner := newRunner()
		executor := NewDockerExecutor(logger, testImages(), WithCommandRunner(runner), WithFileSystem(&MockFileSystem{}))

		req, err := BuildRequest("task-4", "sub-4", "agent", sampleArtifacts(), RuntimePython)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = executor.Execute(ctx, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	})

	t.Run("UnknownRuntimeImage", func(t *testing.T) {
		executor := NewDockerExecutor(logger, map[string]string{}, WithCommandRunner(newRunner()), WithFileSystem(&MockFileSystem{}))

		req, err := BuildRequest("task-5", "sub-5", "agent", sampleArtifacts(), RuntimePython)
		require.NoError(t, err)

		_, err = executor.Execute(context.Background(), req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no image configured")
	})
}

func TestMaterializeArtifacts(t *testing.T) {
	t.Run("RejectsAbsolutePath", func(t *testing.T) {
		fs := &MockFileSystem{}
		err := materializeArtifacts(fs, "/tmp/wd", []CodeArtifact{{Filename: "/etc/passwd", Content: "x"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absolute")
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		fs := &MockFileSystem{}
		err := materializeArtifacts(fs, "/tmp/wd", []CodeArtifact{{Filename: "../escape.py", Content: "x"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsafe")
	})

	t.Run("WritesNestedFiles", func(t *testing.T) {
		fs := &MockFileSystem{}
		err := materializeArtifacts(fs, "/tmp/wd", []CodeArtifact{
			{Filename: "src/app.py", Content: "pass"},
		})
		require.NoError(t, err)
		assert.Contains(t, fs.written, "/tmp/wd/src/app.py")
	})
}

func TestLimitedExecutor(t *testing.T) {
	t.Run("BoundsConcurrency", func(t *testing.T) {
		var mu sync.Mutex
		active, peak := 0, 0

		inner := executorFunc(func(ctx context.Context, _ ExecutionRequest) (ExecutionResult, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return ExecutionResult{Status: StatusSuccess}, nil
		})

		limited := NewLimitedExecutor(inner, 2)

		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := limited.Execute(context.Background(), ExecutionRequest{})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak, 2)
	})

	t.Run("QueuedCallerCanGiveUp", func(t *testing.T) {
		block := make(chan struct{})
		inner := executorFunc(func(ctx context.Context, _ ExecutionRequest) (ExecutionResult, error) {
			<-block
			return ExecutionResult{}, nil
		})

		limited := NewLimitedExecutor(inner, 1)

		go func() {
			_, _ = limited.Execute(context.Background(), ExecutionRequest{})
		}()
		time.Sleep(10 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := limited.Execute(ctx, ExecutionRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox slot")

		close(block)
	})
}

// executorFunc adapts a function to the SandboxExecutor interface
type executorFunc func(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)

func (f executorFunc) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	return f(ctx, req)
}

func TestNewExecutor(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Docker", func(t *testing.T) {
		executor, err := NewExecutor(logger, testImages(), "docker", 4)
		require.NoError(t, err)
		require.NotNil(t, executor)
	})

	t.Run("Podman", func(t *testing.T) {
		executor, err := NewExecutor(logger, testImages(), "podman", 4)
		require.NoError(t, err)
		require.NotNil(t, executor)
	})

	t.Run("Local", func(t *testing.T) {
		executor, err := NewExecutor(logger, testImages(), "local", 1)
		require.NoError(t, err)
		require.NotNil(t, executor)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := NewExecutor(logger, testImages(), "firecracker", 4)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported backend")
	})
}
