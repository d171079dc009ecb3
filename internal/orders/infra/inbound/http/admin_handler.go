package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

type AdminHandler struct {
	service *application.AdminService
}

func NewAdminHandler(service *application.AdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

// ListOrders endpoint GET /admin/orders?status=&userId=&sort=-created_at&page=&limit=
func (h *AdminHandler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sortParam := c.DefaultQuery("sort", "-created_at")
	sort := sharedQuery.Sort{Field: strings.TrimPrefix(sortParam, "-"), Desc: strings.HasPrefix(sortParam, "-")}

	orders, total, err := h.service.ListOrders(c.Request.Context(),
		application.OrderFilter{Status: c.Query("status"), UserID: c.Query("userId")},
		sort, sharedQuery.Page(page, limit, maxPageSize))
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders, "total": total})
}

func (h *AdminHandler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// UpdateStatus endpoint PATCH /admin/orders/:id/status {"status": "SHIPPED"}
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	order, err := h.service.UpdateStatus(c.Request.Context(), id, status)
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// Refund endpoint POST /admin/orders/:id/refund
func (h *AdminHandler) Refund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.Refund(c.Request.Context(), id)
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}
