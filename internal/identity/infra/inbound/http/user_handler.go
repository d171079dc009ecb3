package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/identity/application"
	"github.com/tomarrohitt/e-commerce-sub000/internal/identity/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/utils"
)

// UserHandler encapsula los endpoints HTTP de identidad
type UserHandler struct {
	service *application.UserService
}

func NewUserHandler(service *application.UserService) *UserHandler {
	return &UserHandler{service: service}
}

var userErrors = []utils.StatusError{
	{Err: domain.ErrUserNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrUserAlreadyExists, Status: http.StatusConflict},
	{Err: domain.ErrInvalidUser, Status: http.StatusBadRequest},
	{Err: domain.ErrInvalidToken, Status: http.StatusBadRequest},
}

// Register endpoint POST /users
func (h *UserHandler) Register(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		Name  string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		utils.SendMappedError(c, err, userErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, user)
}

// GetUser endpoint GET /users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid user id")
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), id)
	if err != nil {
		utils.SendMappedError(c, err, userErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, user)
}

// Verify endpoint /users/:id/verify?token=...
func (h *UserHandler) Verify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid user id")
		return
	}
	token := c.Query("token")
	if token == "" {
		utils.SendBadRequest(c, "token is required")
		return
	}

	user, err := h.service.Verify(c.Request.Context(), id, token)
	if err != nil {
		utils.SendMappedError(c, err, userErrors...)
		return
	}
	utils.SendSuccess(c, http.StatusOK, user)
}
