package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/importer"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/syncerr"
)

// SyncAccountTask polls one linked account and imports its timeline. It opens
// its own store handle and closes it when done.
type SyncAccountTask struct {
	Task
	Account    database.LinkedAccount
	Service    *service.Service
	opener     database.Opener
	client     TimelineFetcher
	importOpts importer.Options
	metrics    *metrics.Metrics
}

func NewSyncAccountTask(account database.LinkedAccount, svc *service.Service, opener database.Opener,
	client TimelineFetcher, importOpts importer.Options, m *metrics.Metrics) *SyncAccountTask {
	return &SyncAccountTask{
		Task:       NewTask(TaskTypeSyncAccount, account.ID),
		Account:    account,
		Service:    svc,
		opener:     opener,
		client:     client,
		importOpts: importOpts,
		metrics:    m,
	}
}

func (t *SyncAccountTask) Execute(ctx context.Context) error {
	db, err := t.opener(ctx)
	if err != nil {
		t.metrics.WorkerCrashed()
		return syncerr.NewFatal("open worker store", err)
	}
	defer db.Close()

	statuses, err := t.client.FetchTimeline(ctx, t.Service, t.Account)
	if err != nil {
		t.metrics.FetchFailed(syncerr.KindOf(err).String())
		return fmt.Errorf("failed to fetch timeline: %w", err)
	}

	if len(statuses) == 0 {
		slog.Debug("Empty timeline", "service", t.Service.Name, "account", t.Account.ID)
	}

	result := importer.New(db, t.Service, t.importOpts).ImportTimeline(ctx, statuses, t.Account)

	// A failed update only means the account is polled again next cycle.
	if err := database.NewAccountRepository(db).UpdateLastSync(ctx, t.Account.ID, time.Now()); err != nil {
		slog.Warn("Failed to record last sync time", "account", t.Account.ID, "error", err)
	}

	slog.Info("Account synced", "service", t.Service.Name, "account", t.Account.ID,
		"screen_name", t.Account.RemoteScreenName, "fetched", len(statuses),
		"imported", result.Imported, "duplicates", result.Duplicates,
		"self_sourced", result.SelfSourced, "failed", result.Failed)

	return nil
}
