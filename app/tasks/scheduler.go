package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/importer"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/syncerr"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultMaxWorkers   = 2
	DefaultPollInterval = 60 * time.Second
)

type Options struct {
	MaxWorkers    int
	PollInterval  time.Duration
	WorkerTimeout time.Duration
}

type Dependencies struct {
	// DB is the supervisor's own handle, used only to find due accounts.
	DB       *database.DB
	Opener   database.Opener
	Services ServiceSource
	Client   TimelineFetcher
	Import   importer.Options
	Metrics  *metrics.Metrics
}

// Stats summarizes supervisor activity since start
type Stats struct {
	Running           bool       `json:"running"`
	MaxWorkers        int        `json:"max_workers"`
	Cycles            int64      `json:"cycles"`
	Dispatched        int64      `json:"dispatched"`
	Succeeded         int64      `json:"succeeded"`
	Failed            int64      `json:"failed"`
	Crashed           int64      `json:"crashed"`
	ActiveWorkers     int64      `json:"active_workers"`
	PeakWorkers       int64      `json:"peak_workers"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleDuration string     `json:"last_cycle_duration,omitempty"`
}

type Scheduler struct {
	opts Options
	deps Dependencies
	pool *Pool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}

	mu      sync.Mutex
	running bool
	stats   Stats
}

func NewScheduler(opts Options, deps Dependencies) *Scheduler {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		opts:    opts,
		deps:    deps,
		pool:    NewPool(opts.MaxWorkers, opts.WorkerTimeout, deps.Metrics),
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		stats:   Stats{MaxWorkers: opts.MaxWorkers},
	}
}

// Start runs polling cycles until Stop is called. The first cycle starts immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
			case <-s.trigger:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}

			s.RunCycle(s.ctx)
			timer.Reset(s.opts.PollInterval)
		}
	}()
}

// Stop halts dispatch at once and returns after in-flight workers have finished
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Trigger requests an immediate cycle; it is a no-op while one is already pending
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Running = s.running
	stats.ActiveWorkers = s.pool.Active()
	stats.PeakWorkers = s.pool.Peak()
	return stats
}

// RunCycle dispatches every due account across the pool and waits for the
// workers to drain. Cancelling ctx stops further dispatch only.
func (s *Scheduler) RunCycle(ctx context.Context) {
	started := time.Now()

	services := s.deps.Services.GetEnabled()
	if len(services) == 0 {
		slog.Debug("No enabled services found")
		return
	}

	byID := make(map[int]*service.Service, len(services))
	ids := make([]int, 0, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
		ids = append(ids, svc.ID)
	}

	accounts, err := database.NewAccountRepository(s.deps.DB).GetDueAccounts(ctx, ids)
	if err != nil {
		slog.Error("Failed to get due accounts", "error", err)
		return
	}

	slog.Debug("Starting sync cycle", "accounts", len(accounts), "max_workers", s.opts.MaxWorkers)

	var dispatched int64
	for _, account := range accounts {
		if ctx.Err() != nil {
			slog.Info("Stop requested, halting dispatch", "remaining", len(accounts)-int(dispatched))
			break
		}

		task := NewSyncAccountTask(account, byID[account.ServiceID], s.deps.Opener, s.deps.Client, s.deps.Import, s.deps.Metrics)
		reaped, err := s.pool.Launch(ctx, task)
		s.record(reaped)
		if err != nil {
			slog.Info("Stop requested, halting dispatch", "remaining", len(accounts)-int(dispatched), "error", err)
			break
		}
		dispatched++
	}

	s.record(s.pool.Drain())

	duration := time.Since(started)
	s.deps.Metrics.CycleCompleted(duration)

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.Dispatched += dispatched
	s.stats.LastCycleAt = &started
	s.stats.LastCycleDuration = duration.String()
	s.mu.Unlock()

	slog.Debug("Sync cycle completed", "dispatched", dispatched, "duration", duration.String())
}

func (s *Scheduler) record(completions []Completion) {
	if len(completions) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range completions {
		switch {
		case c.Panicked:
			s.stats.Crashed++
		case syncerr.IsKind(c.Err, syncerr.Fatal):
			s.stats.Crashed++
			slog.Warn("Worker slot abandoned for this cycle", "account", c.AccountID)
		case c.Err != nil:
			s.stats.Failed++
		default:
			s.stats.Succeeded++
		}
	}
}

// Health grades the supervisor by the share of workers that did not succeed
func (s *Scheduler) Health() map[string]any {
	stats := s.Stats()

	health := map[string]any{
		"status":         "healthy",
		"running":        stats.Running,
		"max_workers":    stats.MaxWorkers,
		"active_workers": stats.ActiveWorkers,
		"cycles":         stats.Cycles,
	}

	if stats.LastCycleAt != nil {
		health["last_cycle_at"] = stats.LastCycleAt.Format(time.RFC3339)
		health["last_cycle_ago"] = time.Since(*stats.LastCycleAt).String()
	}

	finished := stats.Succeeded + stats.Failed + stats.Crashed
	if finished > 0 {
		errorRate := float64(stats.Failed+stats.Crashed) / float64(finished)
		if errorRate > 0.5 {
			health["status"] = "unhealthy"
		} else if errorRate > 0.1 {
			health["status"] = "degraded"
		}
		health["error_rate"] = errorRate
	}

	return health
}
