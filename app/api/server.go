package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ServerOptions controls which optional routes are mounted
type ServerOptions struct {
	APIAccessKey string
	// AvatarURL and AvatarDir serve cached avatars when AvatarURL is a local path.
	AvatarURL string
	AvatarDir string
}

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, opts ServerOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(gin.Recovery())

	setupRoutes(r, handler, opts)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, opts ServerOptions) {
	r.GET("/health", handler.HealthCheck)
	r.GET("/stats", handler.GetStats)
	r.GET("/metrics", handler.Metrics())

	if strings.HasPrefix(opts.AvatarURL, "/") && opts.AvatarDir != "" {
		r.Static(strings.TrimSuffix(opts.AvatarURL, "/"), opts.AvatarDir)
	}

	if opts.APIAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(opts.APIAccessKey))
		{
			api.GET("/accounts", handler.ListAccounts)
			api.GET("/services", handler.ListServices)
			api.POST("/sync", handler.TriggerSync)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Info("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"health":  "/health",
			"stats":   "/stats",
			"metrics": "/metrics",
		}
		if opts.APIAccessKey != "" {
			endpoints["accounts"] = "/api/accounts (requires X-API-Key header)"
			endpoints["services"] = "/api/services (requires X-API-Key header)"
			endpoints["sync"] = "/api/sync (POST, requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "Timeline Sync",
			"version":     handler.version,
			"description": "Imports remote microblog timelines into local inboxes",
			"endpoints":   endpoints,
		})
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")
		if providedKey == "" {
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if providedKey != apiAccessKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}
