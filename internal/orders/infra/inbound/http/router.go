package http

import "github.com/gin-gonic/gin"

func RegisterOrderRoutes(r *gin.Engine, handler *OrderHandler, admin *AdminHandler) {
	orders := r.Group("/orders")
	{
		orders.POST("", handler.PlaceOrder)
		orders.GET("", handler.ListOrders)
		orders.GET("/:id", handler.GetOrder)
		orders.POST("/:id/cancel", handler.CancelOrder)
		orders.GET("/:id/payment", handler.PaymentStatus)
	}

	r.POST("/webhooks/payment", handler.Webhook)

	adminGroup := r.Group("/admin/orders")
	{
		adminGroup.GET("", admin.ListOrders)
		adminGroup.GET("/:id", admin.GetOrder)
		adminGroup.PATCH("/:id/status", admin.UpdateStatus)
		adminGroup.POST("/:id/refund", admin.Refund)
	}
}
