package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

const HeaderUserID = "X-User-ID"

type InvoiceHandler struct {
	service *application.InvoiceService
}

func NewInvoiceHandler(service *application.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

var invoiceErrors = []utils.StatusError{
	{Err: domain.ErrInvoiceNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrForbidden, Status: http.StatusForbidden},
}

// GetInvoice endpoint GET /invoices/:orderId
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing user")
		return
	}
	inv, err := h.service.GetInvoice(c.Request.Context(), c.Param("orderId"), userID)
	if err != nil {
		utils.SendMappedError(c, err, invoiceErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"url": inv.PDFURL, "invoice": inv})
}

func RegisterInvoiceRoutes(r *gin.Engine, handler *InvoiceHandler) {
	r.GET("/invoices/:orderId", handler.GetInvoice)
}
