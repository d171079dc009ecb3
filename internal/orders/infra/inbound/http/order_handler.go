package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

const (
	// HeaderUserID la pone el gateway de autenticación delante del servicio.
	HeaderUserID    = "X-User-ID"
	HeaderSignature = "Stripe-Signature"
	maxPageSize     = 100
	maxWebhookBytes = 64 << 10
)

var orderErrors = []utils.StatusError{
	{Err: domain.ErrOrderNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrForbidden, Status: http.StatusForbidden},
	{Err: domain.ErrInvalidOrder, Status: http.StatusBadRequest},
	{Err: domain.ErrTotalMismatch, Status: http.StatusBadRequest},
	{Err: domain.ErrUserNotFound, Status: http.StatusBadRequest},
	{Err: domain.ErrOutOfStock, Status: http.StatusConflict},
	{Err: domain.ErrCannotCancel, Status: http.StatusConflict},
	{Err: domain.ErrInvalidStatus, Status: http.StatusConflict},
	{Err: domain.ErrNoPayment, Status: http.StatusConflict},
	{Err: domain.ErrAlreadyRefunded, Status: http.StatusConflict},
	{Err: domain.ErrIdentityDegraded, Status: http.StatusServiceUnavailable},
	{Err: domain.ErrInvalidSignature, Status: http.StatusBadRequest},
}

type OrderHandler struct {
	service *application.OrderService
}

func NewOrderHandler(service *application.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

type itemRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
}

// PlaceOrder endpoint POST /orders
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Items           []itemRequest    `json:"items" binding:"required,min=1,dive"`
		ShippingAddress events.Address   `json:"shippingAddress"`
		TotalAmount     *decimal.Decimal `json:"totalAmount,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	items := make([]domain.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.Item{ProductID: it.ProductID, Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}
	order, err := h.service.PlaceOrder(c.Request.Context(), application.PlaceOrderInput{
		UserID:          userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		TotalAmount:     req.TotalAmount,
	})
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, order)
}

// ListOrders endpoint GET /orders?status=&page=&limit=
func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	orders, total, err := h.service.ListUserOrders(c.Request.Context(), userID, c.Query("status"), sharedQuery.Page(page, limit, maxPageSize))
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders, "total": total})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), userID, id)
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// CancelOrder endpoint POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.CancelOrder(c.Request.Context(), userID, id)
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// PaymentStatus endpoint GET /orders/:id/payment
func (h *OrderHandler) PaymentStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	view, err := h.service.PaymentStatus(c.Request.Context(), userID, id)
	if err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, view)
}

// Webhook endpoint POST /webhooks/payment. El cuerpo se lee en crudo para validar la firma.
func (h *OrderHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		utils.SendBadRequest(c, "unreadable body")
		return
	}
	if err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader(HeaderSignature)); err != nil {
		utils.SendMappedError(c, err, orderErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing user")
		return "", false
	}
	return userID, true
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}
