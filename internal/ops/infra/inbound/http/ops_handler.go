package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/outbox"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

const maxPageSize = 100

// OpsHandler sirve el panel de operaciones: DLQ, outbox y timeline de pedidos.
// audit puede ser nil (ClickHouse desactivado).
type OpsHandler struct {
	deadLetters *application.DeadLetterService
	outbox      *application.OutboxAdmin
	audit       *application.AuditRecorder
}

func NewOpsHandler(deadLetters *application.DeadLetterService, outboxAdmin *application.OutboxAdmin, audit *application.AuditRecorder) *OpsHandler {
	return &OpsHandler{deadLetters: deadLetters, outbox: outboxAdmin, audit: audit}
}

var opsErrors = []utils.StatusError{
	{Err: domain.ErrDeadLetterNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrUnknownService, Status: http.StatusNotFound},
	{Err: outbox.ErrOutboxEventNotFound, Status: http.StatusConflict},
	{Err: domain.ErrAuditDisabled, Status: http.StatusServiceUnavailable},
}

func (h *OpsHandler) ListDeadLetters(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	filter := domain.DeadLetterFilter{Queue: c.Query("queue"), EventType: c.Query("eventType")}
	if v := c.Query("replayed"); v != "" {
		replayed, err := strconv.ParseBool(v)
		if err != nil {
			utils.SendBadRequest(c, "replayed must be a boolean")
			return
		}
		filter.Replayed = &replayed
	}

	records, total, err := h.deadLetters.List(c.Request.Context(), filter, sharedQuery.Page(page, limit, maxPageSize))
	if err != nil {
		utils.SendMappedError(c, err, opsErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": total})
}

func (h *OpsHandler) GetDeadLetter(c *gin.Context) {
	rec, err := h.deadLetters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendMappedError(c, err, opsErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func (h *OpsHandler) ReplayDeadLetter(c *gin.Context) {
	rec, err := h.deadLetters.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendMappedError(c, err, opsErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func (h *OpsHandler) ListServices(c *gin.Context) {
	utils.SendSuccess(c, http.StatusOK, h.outbox.Services())
}

func (h *OpsHandler) ListFailedOutbox(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit > maxPageSize {
		limit = maxPageSize
	}
	rows, err := h.outbox.ListFailed(c.Request.Context(), c.Param("service"), limit)
	if err != nil {
		utils.SendMappedError(c, err, opsErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rows)
}

func (h *OpsHandler) RetryOutbox(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid event id")
		return
	}
	if err := h.outbox.Retry(c.Request.Context(), c.Param("service"), id); err != nil {
		utils.SendMappedError(c, err, opsErrors...)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) OrderTimeline(c *gin.Context) {
	if h.audit == nil {
		utils.SendMappedError(c, domain.ErrAuditDisabled, opsErrors...)
		return
	}
	entries, err := h.audit.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendMappedError(c, err, opsErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, entries)
}

func RegisterOpsRoutes(r *gin.Engine, handler *OpsHandler) {
	dlq := r.Group("/admin/dead-letters")
	{
		dlq.GET("", handler.ListDeadLetters)
		dlq.GET("/:id", handler.GetDeadLetter)
		dlq.POST("/:id/replay", handler.ReplayDeadLetter)
	}

	ob := r.Group("/admin/outbox")
	{
		ob.GET("", handler.ListServices)
		ob.GET("/:service/failed", handler.ListFailedOutbox)
		ob.POST("/:service/:id/retry", handler.RetryOutbox)
	}

	r.GET("/admin/orders/:id/timeline", handler.OrderTimeline)
}
