package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/timeline-sync/app/cache"
	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/tasks"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewHandler(db *database.DB, services ServiceCatalog, breakers BreakerStatus,
	scheduler tasks.TaskSchedulerInterface, uriCache cache.URICache, m *metrics.Metrics, version string) *Handler {
	if uriCache == nil {
		uriCache = cache.Noop{}
	}
	return &Handler{
		db:        db,
		services:  services,
		breakers:  breakers,
		scheduler: scheduler,
		cache:     uriCache,
		metrics:   m,
		version:   version,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   h.version,
		"services":  h.services.GetCount(),
	}

	code := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("Database ping failed", "error", err)
		health["status"] = "unhealthy"
		health["database"] = map[string]any{"status": "unhealthy", "error": err.Error()}
		code = http.StatusServiceUnavailable
	} else {
		health["database"] = map[string]any{"status": "healthy"}
	}

	schedulerHealth := h.scheduler.Health()
	health["scheduler"] = schedulerHealth
	if status, _ := schedulerHealth["status"].(string); status != "healthy" && health["status"] == "healthy" {
		health["status"] = status
	}

	health["cache"] = h.cache.Health(ctx)

	c.JSON(code, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats := map[string]any{
		"timestamp":        time.Now().Format(time.RFC3339),
		"enabled_services": len(h.services.GetEnabled()),
		"scheduler":        h.scheduler.Stats(),
	}

	counts := map[string]func(context.Context) (int, error){
		"accounts":      database.NewAccountRepository(h.db).GetAccountCount,
		"profiles":      database.NewProfileRepository(h.db).GetProfileCount,
		"notices":       database.NewNoticeRepository(h.db).GetNoticeCount,
		"inbox_entries": database.NewInboxRepository(h.db).GetInboxCount,
		"avatars":       database.NewAvatarRepository(h.db).GetAvatarCount,
	}
	for name, count := range counts {
		n, err := count(ctx)
		if err != nil {
			slog.Error("Database error", "operation", "count_"+name, "error", err)
			continue
		}
		stats[name] = n
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Metrics() gin.HandlerFunc {
	if h.metrics == nil {
		return func(c *gin.Context) {
			c.Status(http.StatusNotFound)
		}
	}
	return gin.WrapH(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
}

func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := database.NewAccountRepository(h.db).ListAccounts(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_accounts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		info := map[string]any{
			"id":                 a.ID,
			"local_user_id":      a.LocalUserID,
			"service_id":         a.ServiceID,
			"remote_account_id":  a.RemoteAccountID,
			"remote_screen_name": a.RemoteScreenName,
			"sync_flags":         a.SyncFlags,
			"receives":           a.Receives(),
		}
		if a.LastSyncAt != nil {
			info["last_sync_at"] = a.LastSyncAt.Format(time.RFC3339)
		}
		result = append(result, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": result,
		"total":    len(result),
	})
}

func (h *Handler) ListServices(c *gin.Context) {
	enabled := h.services.GetEnabled()

	result := make([]map[string]any, 0, len(enabled))
	for _, svc := range enabled {
		info := map[string]any{
			"id":           svc.ID,
			"name":         svc.Name,
			"base_url":     svc.BaseURL,
			"timeline_url": svc.TimelineURL,
			"format":       svc.Format,
			"timeout":      svc.RequestTimeout().String(),
		}
		if h.breakers != nil {
			info["circuit_open"] = h.breakers.BreakerOpen(svc)
		}
		result = append(result, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"services": result,
		"total":    len(result),
	})
}

// TriggerSync asks the supervisor for an immediate cycle
func (h *Handler) TriggerSync(c *gin.Context) {
	h.scheduler.Trigger()
	slog.Info("Sync cycle requested via API")

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Sync cycle requested",
	})
}
