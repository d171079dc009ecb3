package http

import "github.com/gin-gonic/gin"

func RegisterCatalogRoutes(r *gin.Engine, handler *CatalogHandler) {
	products := r.Group("/products")
	{
		products.GET("", handler.ListProducts)
		products.GET("/:id", handler.GetProduct)
		products.GET("/:id/verified/:userId", handler.VerifiedPurchase)
	}

	admin := r.Group("/admin/products")
	{
		admin.POST("", handler.CreateProduct)
		admin.PATCH("/:id", handler.UpdateProduct)
		admin.DELETE("/:id", handler.DeleteProduct)
		admin.POST("/:id/stock", handler.AdjustStock)
	}
}
