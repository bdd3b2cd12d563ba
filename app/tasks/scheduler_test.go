package tasks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/importer"
	"github.com/lysyi3m/timeline-sync/app/remote"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/syncerr"
)

type mockServices struct {
	services []*service.Service
}

func (m *mockServices) GetEnabled() []*service.Service {
	return m.services
}

type mockClient struct {
	mu        sync.Mutex
	order     []string
	running   atomic.Int64
	maxSeen   atomic.Int64
	delay     time.Duration
	fail      map[string]error
	panicOn   map[string]bool
	block     chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (m *mockClient) FetchTimeline(ctx context.Context, svc *service.Service, account database.LinkedAccount) ([]remote.Status, error) {
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	m.mu.Lock()
	m.order = append(m.order, account.RemoteAccountID)
	m.mu.Unlock()

	if m.started != nil {
		m.startOnce.Do(func() { close(m.started) })
	}
	if m.block != nil {
		<-m.block
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	if m.panicOn[account.RemoteAccountID] {
		panic("remote client exploded")
	}
	if err := m.fail[account.RemoteAccountID]; err != nil {
		return nil, err
	}

	return []remote.Status{{
		ID:        "s-" + account.RemoteAccountID,
		Text:      "hello from " + account.RemoteAccountID,
		CreatedAt: time.Now(),
		User:      remote.User{ID: account.RemoteAccountID, ScreenName: "author" + account.RemoteAccountID},
	}}, nil
}

func (m *mockClient) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

var testService = &service.Service{
	Name:         "twitter",
	ID:           1,
	BaseURL:      "https://twitter.com",
	TimelineURL:  "https://twitter.com/statuses/friends_timeline.json",
	Format:       service.FormatJSON,
	AvatarPrefix: "Twitter",
	Settings:     service.Settings{Enabled: true},
}

func setupScheduler(t *testing.T, client *mockClient, maxWorkers int, lastSyncs ...*time.Time) (*Scheduler, *database.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := database.NewAccountRepository(db)
	for i, lastSync := range lastSyncs {
		_, err := repo.UpsertAccount(context.Background(), database.LinkedAccount{
			LocalUserID:      int64(100 + i),
			ServiceID:        testService.ID,
			RemoteAccountID:  fmt.Sprintf("%d", i+1),
			RemoteScreenName: fmt.Sprintf("user%d", i+1),
			SyncFlags:        database.SyncNoticeReceive,
			LastSyncAt:       lastSync,
		})
		if err != nil {
			t.Fatalf("Failed to insert account: %v", err)
		}
	}

	scheduler := NewScheduler(
		Options{MaxWorkers: maxWorkers, PollInterval: time.Hour, WorkerTimeout: 10 * time.Second},
		Dependencies{
			DB:       db,
			Opener:   database.NewOpener(path),
			Services: &mockServices{services: []*service.Service{testService}},
			Client:   client,
		},
	)

	return scheduler, db
}

func never(n int) []*time.Time {
	return make([]*time.Time, n)
}

func TestRunCycleRespectsWorkerCap(t *testing.T) {
	client := &mockClient{delay: 30 * time.Millisecond}
	scheduler, db := setupScheduler(t, client, 2, never(5)...)

	scheduler.RunCycle(context.Background())

	if got := len(client.calls()); got != 5 {
		t.Errorf("Expected all 5 accounts to be processed, got %d", got)
	}
	if client.maxSeen.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent workers, got %d", client.maxSeen.Load())
	}

	stats := scheduler.Stats()
	if stats.PeakWorkers > 2 {
		t.Errorf("Expected peak workers <= 2, got %d", stats.PeakWorkers)
	}
	if stats.Dispatched != 5 || stats.Succeeded != 5 || stats.Cycles != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	accounts, err := database.NewAccountRepository(db).ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("Failed to list accounts: %v", err)
	}
	for _, a := range accounts {
		if a.LastSyncAt == nil {
			t.Errorf("Expected account %s to have a last sync time", a.RemoteAccountID)
		}
	}

	notices, _ := database.NewNoticeRepository(db).GetNoticeCount(context.Background())
	if notices != 5 {
		t.Errorf("Expected 5 imported notices, got %d", notices)
	}
}

func TestRunCycleDispatchesLeastRecentlySyncedFirst(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	client := &mockClient{}
	scheduler, _ := setupScheduler(t, client, 1, &t3, &t1, &t2)

	scheduler.RunCycle(context.Background())

	calls := client.calls()
	want := []string{"2", "3", "1"}
	if len(calls) != len(want) {
		t.Fatalf("Expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Expected dispatch order %v, got %v", want, calls)
			break
		}
	}
}

func TestRunCycleSurvivesWorkerFailures(t *testing.T) {
	client := &mockClient{
		fail:    map[string]error{"1": syncerr.NewTransient("fetch timeline", errors.New("HTTP 502"))},
		panicOn: map[string]bool{"2": true},
	}
	scheduler, db := setupScheduler(t, client, 2, never(3)...)

	scheduler.RunCycle(context.Background())

	stats := scheduler.Stats()
	if stats.Failed != 1 || stats.Crashed != 1 || stats.Succeeded != 1 {
		t.Errorf("Expected one failure, one crash and one success, got %+v", stats)
	}

	failed, err := database.NewAccountRepository(db).GetAccount(context.Background(), 1)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if failed.LastSyncAt != nil {
		t.Error("Expected failed account to stay due for the next cycle")
	}

	crashed, err := database.NewAccountRepository(db).GetAccount(context.Background(), 2)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if crashed.LastSyncAt != nil {
		t.Error("Expected crashed account to stay due for the next cycle")
	}

	synced, err := database.NewAccountRepository(db).GetAccount(context.Background(), 3)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if synced.LastSyncAt == nil {
		t.Error("Expected successful account to record its sync time")
	}

	if health := scheduler.Health(); health["status"] != "unhealthy" {
		t.Errorf("Expected unhealthy status with 2 of 3 workers failing, got %v", health["status"])
	}
}

func TestSyncAccountTaskToleratesLastSyncFailure(t *testing.T) {
	ctx := context.Background()
	scheduler, db := setupScheduler(t, &mockClient{}, 1, never(1)...)

	account, err := database.NewAccountRepository(db).GetAccount(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	// No row carries this id, so recording the sync time fails
	account.ID = 999

	task := NewSyncAccountTask(*account, testService, scheduler.deps.Opener, &mockClient{}, importer.Options{}, nil)
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("Expected last sync failure to be non-fatal, got %v", err)
	}

	if _, err := database.NewNoticeRepository(db).GetNoticeByURI(ctx, testService.StatusURI("author1", "s-1")); err != nil {
		t.Errorf("Expected fetched status to be imported: %v", err)
	}

	stored, err := database.NewAccountRepository(db).GetAccount(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if stored.LastSyncAt != nil {
		t.Error("Expected untouched account to keep an empty sync time")
	}
}

func TestRunCycleAbandonsSlotWhenStoreCannotOpen(t *testing.T) {
	client := &mockClient{}
	scheduler, _ := setupScheduler(t, client, 2, never(2)...)

	var opens atomic.Int32
	realOpener := scheduler.deps.Opener
	scheduler.deps.Opener = func(ctx context.Context) (*database.DB, error) {
		if opens.Add(1) == 1 {
			return nil, errors.New("too many open files")
		}
		return realOpener(ctx)
	}

	scheduler.RunCycle(context.Background())

	stats := scheduler.Stats()
	if stats.Crashed != 1 || stats.Succeeded != 1 {
		t.Errorf("Expected one abandoned slot and one success, got %+v", stats)
	}
	if got := len(client.calls()); got != 1 {
		t.Errorf("Expected only the opened worker to fetch, got %d", got)
	}
}

func TestStopDrainsInFlightWorker(t *testing.T) {
	client := &mockClient{block: make(chan struct{}), started: make(chan struct{})}
	scheduler, db := setupScheduler(t, client, 1, never(3)...)

	scheduler.Start()

	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Worker never started")
	}

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight worker finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(client.block)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the worker finished")
	}

	if got := len(client.calls()); got != 1 {
		t.Errorf("Expected no dispatch after stop, got %d calls", got)
	}

	account, err := database.NewAccountRepository(db).GetAccount(context.Background(), 1)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if account.LastSyncAt == nil {
		t.Error("Expected in-flight worker to complete its sync")
	}

	if scheduler.Stats().Running {
		t.Error("Expected scheduler to report stopped")
	}
}

func TestTriggerRunsImmediateCycle(t *testing.T) {
	client := &mockClient{}
	scheduler, _ := setupScheduler(t, client, 2, never(1)...)

	scheduler.Start()
	defer scheduler.Stop()

	waitForCycles(t, scheduler, 1)
	scheduler.Trigger()
	waitForCycles(t, scheduler, 2)
}

func waitForCycles(t *testing.T, s *Scheduler, n int64) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Cycles >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d cycles, got %d", n, s.Stats().Cycles)
}

func TestNewSchedulerDefaults(t *testing.T) {
	scheduler := NewScheduler(Options{}, Dependencies{Services: &mockServices{}})

	if scheduler.opts.MaxWorkers != DefaultMaxWorkers {
		t.Errorf("Expected default max workers %d, got %d", DefaultMaxWorkers, scheduler.opts.MaxWorkers)
	}
	if scheduler.opts.PollInterval != DefaultPollInterval {
		t.Errorf("Expected default poll interval %v, got %v", DefaultPollInterval, scheduler.opts.PollInterval)
	}

	health := scheduler.Health()
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status before any work, got %v", health["status"])
	}
}
