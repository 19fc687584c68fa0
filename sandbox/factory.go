package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// NewExecutor creates an appropriate sandbox executor based on the
// configured backend, wrapped with admission control so at most
// maxConcurrent sandboxes run at once.
func NewExecutor(logger *zap.Logger, images map[string]string, backend string, maxConcurrent int) (SandboxExecutor, error) {
	var executor SandboxExecutor

	switch backend {
	case "docker":
		executor = NewDockerExecutor(logger, images)
	case "podman":
		executor = NewPodmanExecutor(logger, images)
	case "local":
		executor = NewLocalExecutor(logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}

	return NewLimitedExecutor(executor, maxConcurrent), nil
}
