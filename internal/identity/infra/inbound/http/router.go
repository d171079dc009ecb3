package http

import "github.com/gin-gonic/gin"

func RegisterUserRoutes(r *gin.Engine, handler *UserHandler) {
	users := r.Group("/users")
	{
		users.POST("", handler.Register)
		users.GET("/:id", handler.GetUser)
		users.GET("/:id/verify", handler.Verify)
		users.POST("/:id/verify", handler.Verify)
	}

	// Consumido por Orders a través del cliente con circuit breaker.
	r.GET("/internal/users/:id", handler.GetUser)
}
