package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meridiankb/pipeline-be/internal/api/dto"
	"github.com/meridiankb/pipeline-be/shared/redisqueue"
)

// PeekDLQ handles GET /api/v1/admin/dlq
// Returns dead-letter entries without removing them, optionally filtered by tenant
func (h *AdminHandler) PeekDLQ(c *gin.Context) {
	caller := Caller(c)

	tenantID := c.Query("tenant_id")
	limit := intQuery(c, "limit", 0)
	scanLimit := intQuery(c, "scan_limit", 0)

	result, err := h.dlq.Peek(c.Request.Context(), caller, tenantID, limit, scanLimit)
	if err != nil {
		h.logger.Error("Failed to peek dead-letter queue",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PeekDLQResponse{
		Entries: toEntries(result.Items),
		Scanned: result.Scanned,
		Matched: result.Matched,
	})
}

// PopDLQ handles POST /api/v1/admin/dlq/pop
// Removes dead-letter entries and returns them for reprocessing
func (h *AdminHandler) PopDLQ(c *gin.Context) {
	caller := Caller(c)

	var req dto.PopDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	entries, err := h.dlq.Pop(c.Request.Context(), caller, req.TenantID, req.Count, req.ScanLimit)
	if err != nil {
		h.logger.Error("Failed to pop dead-letter queue",
			slog.String("tenant_id", req.TenantID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PopDLQResponse{
		Entries: toEntries(entries),
		Removed: len(entries),
	})
}

func toEntries(items []redisqueue.DeadLetter) []dto.DeadLetterEntry {
	entries := make([]dto.DeadLetterEntry, len(items))
	for i, item := range items {
		entries[i] = dto.DeadLetterEntry{ID: item.ID, Fields: item.Values}
	}
	return entries
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
