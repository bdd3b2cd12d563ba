package api

import (
	"github.com/lysyi3m/timeline-sync/app/cache"
	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/remote"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/tasks"
)

// ServiceCatalog is implemented by service.Registry
type ServiceCatalog interface {
	GetEnabled() []*service.Service
	GetCount() int
}

var _ ServiceCatalog = (*service.Registry)(nil)

// BreakerStatus is implemented by remote.Client
type BreakerStatus interface {
	BreakerOpen(svc *service.Service) bool
}

var _ BreakerStatus = (*remote.Client)(nil)

type Handler struct {
	db        *database.DB
	services  ServiceCatalog
	breakers  BreakerStatus
	scheduler tasks.TaskSchedulerInterface
	cache     cache.URICache
	metrics   *metrics.Metrics
	version   string
}
