package main

import (
	"database/sql"
	"net/http"
	"time"

	"telecom-signaling/internal/audit"
	"telecom-signaling/internal/auth"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/gateway"
	"telecom-signaling/internal/httpapi"
	"telecom-signaling/internal/presence"
	"telecom-signaling/internal/reporting"
	"telecom-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	auth     *auth.Manager
	db       *sql.DB
	rdb      redis.UniversalClient
	gateway  *gateway.Server
	registry *presence.Registry
	calls    calls.Repository
	reports  *reporting.Service
	audit    *audit.Service
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		status := gin.H{"postgres": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := utils.HealthCheck(ctx, d.db, 2*time.Second); err != nil {
			status["postgres"] = "down"
			code = http.StatusServiceUnavailable
		}
		if err := utils.RedisHealthCheck(ctx, d.rdb, 2*time.Second); err != nil {
			status["redis"] = "down"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	// websocket channel groups: /user, /telecaller, /admin
	d.gateway.Register(r)

	// protected API group
	h := httpapi.Handlers{
		Presence: d.registry,
		Calls:    d.calls,
		Reports:  d.reports,
		Audit:    d.audit,
	}
	h.Register(r.Group("/v1", auth.RequireAccessToken(d.auth)))
}
