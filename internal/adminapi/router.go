// Package adminapi exposes a read-only inspection surface over message_logs
// (SPEC_FULL.md §9), generalizing the teacher's internal/http/router.go +
// admin handlers into GET-only routes: no Retry/ReprocessDead actions, since
// I3 names manual FAILED-row reschedule as outside the core dispatch loop.
package adminapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	"github.com/occasionhub/birthdaysvc/internal/utils"
)

type MessageLogLister interface {
	ByID(ctx context.Context, id string) (messagelog.MessageLog, error)
	AdminList(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]messagelog.MessageLog, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(store MessageLogLister, dbPing Pinger, queuePing Pinger, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		if err := dbPing.Ping(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "db not ready")
			return
		}
		if queuePing != nil {
			if err := queuePing.Ping(ctx); err != nil {
				c.String(http.StatusServiceUnavailable, "queue not ready")
				return
			}
		}
		c.String(http.StatusOK, "ready")
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.GET("/admin/message-logs", func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		var status *string
		if v := c.Query("status"); v != "" {
			status = &v
		}

		afterUpdatedAt := time.Now().UTC().Add(24 * time.Hour)
		var afterID string
		if v := c.Query("cursor"); v != "" {
			cur, err := utils.DecodeMessageLogCursor(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
				return
			}
			afterUpdatedAt, afterID = cur.UpdatedAt, cur.ID
		}

		rows, err := store.AdminList(c.Request.Context(), status, limit, afterUpdatedAt, afterID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var nextCursor string
		if len(rows) == limit {
			last := rows[len(rows)-1]
			if nc, err := utils.EncodeMessageLogCursor(last.UpdatedAt, last.ID); err == nil {
				nextCursor = nc
			}
		}
		c.JSON(http.StatusOK, gin.H{"message_logs": rows, "next_cursor": nextCursor})
	})

	r.GET("/admin/message-logs/:id", func(c *gin.Context) {
		row, err := store.ByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if err == messagelog.ErrNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, row)
	})

	return r
}
