package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockTask struct {
	Task
	run func(ctx context.Context) error
}

func newMockTask(accountID int64, run func(ctx context.Context) error) *mockTask {
	return &mockTask{Task: NewTask(TaskTypeSyncAccount, accountID), run: run}
}

func (m *mockTask) Execute(ctx context.Context) error {
	return m.run(ctx)
}

func TestPoolConcurrencyCap(t *testing.T) {
	pool := NewPool(2, 0, nil)

	var running, maxRunning, ran atomic.Int64
	work := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		ran.Add(1)
		return nil
	}

	var completions []Completion
	for i := int64(1); i <= 5; i++ {
		reaped, err := pool.Launch(context.Background(), newMockTask(i, work))
		if err != nil {
			t.Fatalf("Unexpected launch error: %v", err)
		}
		completions = append(completions, reaped...)
	}
	completions = append(completions, pool.Drain()...)

	if ran.Load() != 5 {
		t.Errorf("Expected 5 tasks to run, got %d", ran.Load())
	}
	if maxRunning.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent tasks, got %d", maxRunning.Load())
	}
	if pool.Peak() != 2 {
		t.Errorf("Expected peak of 2 workers, got %d", pool.Peak())
	}
	if len(completions) != 5 {
		t.Errorf("Expected 5 completions, got %d", len(completions))
	}
	if pool.Active() != 0 {
		t.Errorf("Expected no active workers after drain, got %d", pool.Active())
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := NewPool(2, 0, nil)

	pool.Launch(context.Background(), newMockTask(1, func(ctx context.Context) error {
		panic("boom")
	}))
	pool.Launch(context.Background(), newMockTask(2, func(ctx context.Context) error {
		return nil
	}))

	completions := pool.Drain()
	if len(completions) != 2 {
		t.Fatalf("Expected 2 completions, got %d", len(completions))
	}

	var panicked, succeeded int
	for _, c := range completions {
		switch {
		case c.Panicked:
			panicked++
		case c.Err == nil:
			succeeded++
		}
	}
	if panicked != 1 || succeeded != 1 {
		t.Errorf("Expected one crash and one success, got %d and %d", panicked, succeeded)
	}

	// The crashed worker's slot is usable again.
	if _, err := pool.Launch(context.Background(), newMockTask(3, func(ctx context.Context) error { return nil })); err != nil {
		t.Errorf("Expected slot to be released after panic, got %v", err)
	}
	pool.Drain()
}

func TestPoolLaunchHonorsCancellation(t *testing.T) {
	pool := NewPool(1, 0, nil)
	release := make(chan struct{})

	pool.Launch(context.Background(), newMockTask(1, func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := pool.Launch(ctx, newMockTask(2, func(ctx context.Context) error { return nil })); err == nil {
		t.Error("Expected launch to fail once the context is done")
	}

	close(release)
	if completions := pool.Drain(); len(completions) != 1 {
		t.Errorf("Expected only the first task to complete, got %d", len(completions))
	}
}

func TestPoolTaskOutlivesDispatchContext(t *testing.T) {
	pool := NewPool(1, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var taskErr error
	var mu sync.Mutex

	pool.Launch(ctx, newMockTask(1, func(taskCtx context.Context) error {
		close(started)
		<-release
		mu.Lock()
		taskErr = taskCtx.Err()
		mu.Unlock()
		return nil
	}))

	<-started
	cancel()
	close(release)
	pool.Drain()

	mu.Lock()
	defer mu.Unlock()
	if taskErr != nil {
		t.Errorf("Expected task context to survive dispatch cancellation, got %v", taskErr)
	}
}

func TestPoolTimeout(t *testing.T) {
	pool := NewPool(1, 10*time.Millisecond, nil)

	pool.Launch(context.Background(), newMockTask(1, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	completions := pool.Drain()
	if len(completions) != 1 || !errors.Is(completions[0].Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %+v", completions)
	}
}
