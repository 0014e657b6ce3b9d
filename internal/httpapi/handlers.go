package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/audit"
	"telecom-signaling/internal/auth"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/rbac"
	"telecom-signaling/internal/reporting"
	"telecom-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Counter answers online counts per role.
type Counter interface {
	Count(ctx context.Context, role accounts.Role) (int64, error)
	IsOnline(ctx context.Context, role accounts.Role, id string) (bool, error)
}

type CallReader interface {
	Get(ctx context.Context, id string) (calls.Call, error)
	FindLive(ctx context.Context, side calls.Side, participantID string) (calls.Call, error)
}

type AuditTrail interface {
	Trail(ctx context.Context, callID string) ([]audit.Event, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Presence Counter
	Calls    CallReader
	Reports  *reporting.Service
	Audit    AuditTrail
	Clock    func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Operator ---

func (h Handlers) PresenceCounts(c *gin.Context) {
	if h.Presence == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence not configured"})
		return
	}
	ctx := c.Request.Context()
	users, err := h.Presence.Count(ctx, accounts.RoleCaller)
	if err != nil {
		logger.FromGin(c).Error("presence count failed", "role", accounts.RoleCaller, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "presence lookup failed"})
		return
	}
	takers, err := h.Presence.Count(ctx, accounts.RoleCallTaker)
	if err != nil {
		logger.FromGin(c).Error("presence count failed", "role", accounts.RoleCallTaker, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "presence lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"onlineUsers":       users,
		"onlineTelecallers": takers,
		"timestamp":         h.now().UTC(),
	})
}

// CallsReport summarises calls created in [from, to). Both bounds are RFC 3339;
// the range defaults to the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:       reporting.TimeRange{From: from, To: to},
		CallerID:    c.Query("callerId"),
		CallTakerID: c.Query("callTakerId"),
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetCall returns one call with its lifecycle trail.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	id := c.Param("id")
	call, err := h.Calls.Get(c.Request.Context(), id)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "call_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}

	trail := []audit.Event{}
	if h.Audit != nil {
		events, err := h.Audit.Trail(c.Request.Context(), id)
		if err != nil {
			// The call itself is still worth returning.
			logger.FromGin(c).Warn("audit trail lookup failed", "call_id", id, "err", err)
		} else {
			trail = events
		}
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "events": trail})
}

// --- Participant ---

// Me reports the caller's identity, whether it holds a live connection and
// its current live call, if any. Clients use it to resynchronise after a
// reconnect.
func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	role, _ := auth.Role(ctx)

	out := gin.H{"userId": userID, "role": role, "online": false, "liveCall": nil}

	var side calls.Side
	switch role {
	case rbac.RoleUser:
		side = calls.SideCaller
	case rbac.RoleTelecaller:
		side = calls.SideCallTaker
	default:
		c.JSON(http.StatusOK, out)
		return
	}

	if h.Presence != nil {
		online, err := h.Presence.IsOnline(ctx, accounts.Role(role), userID)
		if err != nil {
			logger.FromGin(c).Warn("presence lookup failed", "err", err)
		}
		out["online"] = online
	}
	if h.Calls != nil {
		live, err := h.Calls.FindLive(ctx, side, userID)
		switch {
		case err == nil:
			out["liveCall"] = live
		case errors.Is(err, calls.ErrNotFound):
		default:
			logger.FromGin(c).Error("live call lookup failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
			return
		}
	}
	c.JSON(http.StatusOK, out)
}

// Register mounts the API on g. g is expected to carry authentication.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.GET("/me", rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleTelecaller, rbac.RoleAdmin), h.Me)

	admin := g.Group("/admin", rbac.RequireAnyRole(rbac.RoleAdmin))
	admin.GET("/presence/counts", h.PresenceCounts)
	admin.GET("/reports/calls", h.CallsReport)
	admin.GET("/calls/:id", h.GetCall)
}
