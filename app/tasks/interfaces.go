package tasks

import (
	"context"

	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/remote"
	"github.com/lysyi3m/timeline-sync/app/service"
)

// TaskSchedulerInterface defines the interface for the polling supervisor.
// Example usage:
//
//	scheduler := NewScheduler(opts, deps)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.Trigger()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	Trigger()
	Stats() Stats
	Health() map[string]any
}

// TimelineFetcher is implemented by remote.Client
type TimelineFetcher interface {
	FetchTimeline(ctx context.Context, svc *service.Service, account database.LinkedAccount) ([]remote.Status, error)
}

// ServiceSource is implemented by service.Registry
type ServiceSource interface {
	GetEnabled() []*service.Service
}
