package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/eventlog"
	"github.com/PratikDhanave/salesview/internal/projection"
)

// Rebuilder replays the event log into projections.
type Rebuilder interface {
	Rebuild(ctx context.Context, name string, since time.Time) (projection.RebuildResult, error)
	Recover(ctx context.Context, name string, since time.Time) (projection.RebuildResult, error)
}

// RegisterAdminRoutes registers operator endpoints.
//
// GET  /aggregates/:type/:id/events               ordered aggregate history
// POST /admin/projections/:name/rebuild?since=    replay (no since: reset + full history)
// POST /admin/projections/:name/recover?since=    re-apply undelivered events
func RegisterAdminRoutes(r gin.IRoutes, log eventlog.Log, rb Rebuilder) {
	r.GET("/aggregates/:type/:id/events", func(c *gin.Context) {
		aggType, err := event.ParseAggregateType(c.Param("type"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		events, err := log.EventsForAggregate(c.Request.Context(), aggType, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event log read failed"})
			return
		}
		if events == nil {
			events = []event.Event{}
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_type": aggType, "aggregate_id": c.Param("id"), "events": events})
	})

	r.POST("/admin/projections/:name/rebuild", func(c *gin.Context) {
		replay(c, rb.Rebuild)
	})
	r.POST("/admin/projections/:name/recover", func(c *gin.Context) {
		replay(c, rb.Recover)
	})
}

func replay(c *gin.Context, run func(context.Context, string, time.Time) (projection.RebuildResult, error)) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = t.UTC()
	}

	res, err := run(c.Request.Context(), c.Param("name"), since)
	switch {
	case errors.Is(err, projection.ErrUnknownProjection):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		// Per-event failures do not stop a replay; report them with the counts.
		c.JSON(http.StatusOK, gin.H{"ok": false, "result": res, "error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "result": res})
	}
}
