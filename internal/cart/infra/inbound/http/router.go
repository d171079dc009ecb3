package http

import "github.com/gin-gonic/gin"

func RegisterCartRoutes(r *gin.Engine, handler *CartHandler) {
	cart := r.Group("/cart")
	{
		cart.GET("", handler.GetCart)
		cart.POST("", handler.AddItem)
		cart.DELETE("", handler.ClearCart)
		cart.GET("/count", handler.Count)
		cart.GET("/validate", handler.Validate)
		cart.PATCH("/:productId", handler.UpdateItem)
		cart.DELETE("/:productId", handler.RemoveItem)
	}
}
