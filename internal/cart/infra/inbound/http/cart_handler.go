package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

// HeaderUserID lo rellena el gateway tras autenticar.
const HeaderUserID = "X-User-ID"

type CartHandler struct {
	service *application.CartService
}

func NewCartHandler(service *application.CartService) *CartHandler {
	return &CartHandler{service: service}
}

var cartErrors = []utils.StatusError{
	{Err: domain.ErrProductNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrItemNotInCart, Status: http.StatusNotFound},
	{Err: domain.ErrProductUnavailable, Status: http.StatusBadRequest},
	{Err: domain.ErrInsufficientStock, Status: http.StatusBadRequest},
	{Err: domain.ErrInvalidQuantity, Status: http.StatusBadRequest},
}

func (h *CartHandler) AddItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	if err := h.service.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity); err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	h.sendCart(c, userID, http.StatusCreated)
}

func (h *CartHandler) GetCart(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.sendCart(c, userID, http.StatusOK)
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	if err := h.service.UpdateItem(c.Request.Context(), userID, c.Param("productId"), req.Quantity); err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	h.sendCart(c, userID, http.StatusOK)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.RemoveItem(c.Request.Context(), userID, c.Param("productId")); err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.ClearCart(c.Request.Context(), userID); err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) Validate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	v, err := h.service.ValidateCart(c.Request.Context(), userID)
	if err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, v)
}

func (h *CartHandler) Count(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.service.ItemCount(c.Request.Context(), userID)
	if err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"count": n})
}

func (h *CartHandler) sendCart(c *gin.Context, userID string, status int) {
	cart, err := h.service.GetCart(c.Request.Context(), userID)
	if err != nil {
		utils.SendMappedError(c, err, cartErrors...)
		return
	}
	utils.SendSuccess(c, status, cart)
}

func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing user")
		return "", false
	}
	return userID, true
}
