package jobs

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/apperr"
)

// StatusHandler は GET /api/jobs/:id のハンドラーを返します。
func StatusHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			apperr.Respond(c, apperr.InvalidInput("请指定 jobId"))
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			apperr.Respond(c, apperr.Wrap(err, http.StatusInternalServerError, "INTERNAL_ERROR", "获取任务信息失败"))
			return
		}
		if record == nil {
			apperr.Respond(c, apperr.NotFound("JOB_NOT_FOUND", "指定的任务不存在"))
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"kind":      record.Kind,
			"status":    record.Status,
			"recipient": record.Recipient,
			"attempts":  record.Attempts,
			"createdAt": record.CreatedAt,
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}
		c.JSON(http.StatusOK, payload)
	}
}
