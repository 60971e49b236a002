package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/salesview/internal/auth"
	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/models"
	"github.com/PratikDhanave/salesview/internal/syncer"
)

// SyncRunner runs one synchronization cycle.
type SyncRunner interface {
	Run(ctx context.Context, actorID string, batches ...syncer.Batch) (syncer.Report, error)
}

// RegisterSyncRoutes registers the ingestion-path endpoints.
//
// POST /sync          full cycle: users, then opportunities, then activities
// POST /sync/:entity  one entity type
//
// Both return the cycle report. A report with per-record failures is still
// a 200; ok=false tells the connector to retry.
func RegisterSyncRoutes(r gin.IRoutes, s SyncRunner) {
	r.POST("/sync", func(c *gin.Context) {
		var req models.CycleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Empty() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of users, opportunities, activities required"})
			return
		}

		var batches []syncer.Batch
		for _, b := range []struct {
			entity event.AggregateType
			req    *models.BatchRequest
		}{
			{event.AggregateUser, req.Users},
			{event.AggregateOpportunity, req.Opportunities},
			{event.AggregateActivity, req.Activities},
		} {
			if b.req != nil {
				batches = append(batches, toBatch(b.entity, *b.req))
			}
		}
		runSync(c, s, batches)
	})

	r.POST("/sync/:entity", func(c *gin.Context) {
		entity, err := event.ParseAggregateType(c.Param("entity"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		runSync(c, s, []syncer.Batch{toBatch(entity, req)})
	})
}

func toBatch(entity event.AggregateType, req models.BatchRequest) syncer.Batch {
	return syncer.Batch{
		EntityType:    entity,
		Records:       req.Records,
		ExternalIDs:   req.ExternalIDs,
		SkipReconcile: req.SkipReconcile,
	}
}

func runSync(c *gin.Context, s SyncRunner, batches []syncer.Batch) {
	report, err := s.Run(c.Request.Context(), auth.SubjectID(c), batches...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync aborted", "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": report.OK(), "report": report})
}
