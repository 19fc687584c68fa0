package sandbox

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// LimitedExecutor wraps another executor with admission control: when all
// slots are taken, requests queue until a slot frees or the caller's
// context expires.
type LimitedExecutor struct {
	inner SandboxExecutor
	sem   *semaphore.Weighted
}

// NewLimitedExecutor caps the number of concurrently executing sandboxes
func NewLimitedExecutor(inner SandboxExecutor, maxConcurrent int) *LimitedExecutor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &LimitedExecutor{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Execute acquires a slot, then delegates to the wrapped executor
func (l *LimitedExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ExecutionResult{}, fmt.Errorf("waiting for sandbox slot: %w", err)
	}
	defer l.sem.Release(1)

	return l.inner.Execute(ctx, req)
}
