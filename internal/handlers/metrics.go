package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/salesview/internal/projection/metrics"
)

// MetricsReader returns aggregates for a subject.
type MetricsReader interface {
	For(ctx context.Context, subject string) (metrics.SubjectMetrics, error)
}

// RegisterMetricRoutes registers the aggregate endpoint.
//
// GET /metrics/:subjectID
// - Callers read their own aggregates; admins read anyone's
// - Values may lag by up to the configured freshness window
func RegisterMetricRoutes(r gin.IRoutes, m MetricsReader, admins []string) {
	r.GET("/metrics/:subjectID", func(c *gin.Context) {
		subject, ok := subjectFor(c, admins, c.Param("subjectID"))
		if !ok {
			return
		}
		out, err := m.For(c.Request.Context(), subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics computation failed"})
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
