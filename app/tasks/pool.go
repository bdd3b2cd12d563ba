package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/timeline-sync/app/metrics"
	"golang.org/x/sync/semaphore"
)

// Completion records how one worker ended
type Completion struct {
	TaskID    string
	Type      TaskType
	AccountID int64
	Err       error
	Panicked  bool
	Duration  time.Duration
}

// Pool runs tasks on goroutines, never more than its capacity at once
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	timeout time.Duration
	metrics *metrics.Metrics

	wg       sync.WaitGroup
	mu       sync.Mutex
	finished []Completion

	active atomic.Int64
	peak   atomic.Int64
}

// NewPool creates a pool of the given capacity. A positive timeout bounds each task's run.
func NewPool(size int, timeout time.Duration, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		timeout: timeout,
		metrics: m,
	}
}

// Launch starts task on a free slot. When the pool is full it blocks until a
// worker finishes or ctx is cancelled. The task itself runs detached from
// ctx's cancellation so an in-flight worker always completes. Workers reaped
// along the way are returned.
func (p *Pool) Launch(ctx context.Context, task TaskInterface) ([]Completion, error) {
	reaped := p.Reap()

	if !p.sem.TryAcquire(1) {
		slog.Debug("Worker cap reached, waiting for a free slot", "max_workers", p.size, "account", task.GetAccountID())
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return reaped, fmt.Errorf("failed to acquire worker slot: %w", err)
		}
		reaped = append(reaped, p.Reap()...)
	}

	p.wg.Add(1)
	p.trackStart()

	runCtx := context.WithoutCancel(ctx)
	go p.run(runCtx, task)

	return reaped, nil
}

// Reap collects workers that finished since the last call without blocking
func (p *Pool) Reap() []Completion {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := p.finished
	p.finished = nil
	return done
}

// Drain waits for every in-flight worker and returns the remaining completions
func (p *Pool) Drain() []Completion {
	p.wg.Wait()
	return p.Reap()
}

func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Peak returns the highest number of workers that ever ran at once
func (p *Pool) Peak() int64 {
	return p.peak.Load()
}

func (p *Pool) run(ctx context.Context, task TaskInterface) {
	completion := Completion{TaskID: task.GetID(), Type: task.GetType(), AccountID: task.GetAccountID()}

	defer func() {
		if r := recover(); r != nil {
			completion.Panicked = true
			completion.Err = fmt.Errorf("worker panic: %v", r)
			p.metrics.WorkerCrashed()
			slog.Error("Worker crashed", "type", string(task.GetType()), "id", task.GetID(),
				"account", task.GetAccountID(), "panic", r, "stack", string(debug.Stack()))
		}

		completion.Duration = task.GetDuration()

		p.mu.Lock()
		p.finished = append(p.finished, completion)
		p.mu.Unlock()

		p.active.Add(-1)
		p.metrics.WorkerFinished()
		p.sem.Release(1)
		p.wg.Done()
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	task.Start()
	completion.Err = task.Execute(ctx)

	if completion.Err != nil {
		slog.Error("Worker task execution failed", "type", string(task.GetType()), "id", task.GetID(),
			"account", task.GetAccountID(), "duration", task.GetDuration().String(), "error", completion.Err)
		return
	}

	slog.Debug("Task completed", "type", string(task.GetType()), "id", task.GetID(),
		"account", task.GetAccountID(), "duration", task.GetDuration().String())
}

func (p *Pool) trackStart() {
	n := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.metrics.WorkerStarted()
}
