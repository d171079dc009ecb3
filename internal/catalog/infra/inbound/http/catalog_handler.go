package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tomarrohitt/e-commerce-sub000/internal/catalog/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/catalog/domain"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

const maxPageSize = 100

type CatalogHandler struct {
	service *application.CatalogService
}

func NewCatalogHandler(service *application.CatalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

var catalogErrors = []utils.StatusError{
	{Err: domain.ErrProductNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrInvalidProduct, Status: http.StatusBadRequest},
	{Err: domain.ErrInsufficientStock, Status: http.StatusConflict},
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	products, err := h.service.ListProducts(c.Request.Context(), sharedQuery.Page(page, limit, maxPageSize))
	if err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, products)
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, p)
}

func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req struct {
		Name          string          `json:"name" binding:"required"`
		SKU           string          `json:"sku"`
		Price         decimal.Decimal `json:"price"`
		StockQuantity int             `json:"stockQuantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	p, err := h.service.CreateProduct(c.Request.Context(), req.Name, req.SKU, req.Price, req.StockQuantity)
	if err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, p)
}

func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	var req struct {
		Name     *string          `json:"name,omitempty"`
		SKU      *string          `json:"sku,omitempty"`
		Price    *decimal.Decimal `json:"price,omitempty"`
		IsActive *bool            `json:"isActive,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	p, err := h.service.UpdateProduct(c.Request.Context(), id, application.ProductPatch{
		Name:     req.Name,
		SKU:      req.SKU,
		Price:    req.Price,
		IsActive: req.IsActive,
	})
	if err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, p)
}

func (h *CatalogHandler) DeleteProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(c.Request.Context(), id); err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	c.Status(http.StatusNoContent)
}

// AdjustStock endpoint POST /admin/products/:id/stock {"delta": -3}
func (h *CatalogHandler) AdjustStock(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Delta == 0 {
		utils.SendBadRequest(c, "delta must be a non-zero integer")
		return
	}

	p, err := h.service.AdjustStock(c.Request.Context(), id, req.Delta)
	if err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, p)
}

func (h *CatalogHandler) VerifiedPurchase(c *gin.Context) {
	verified, reviewer, err := h.service.VerifiedPurchase(c.Request.Context(), c.Param("userId"), c.Param("id"))
	if err != nil {
		utils.SendMappedError(c, err, catalogErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"verified": verified, "reviewer": reviewer})
}

func productID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}
