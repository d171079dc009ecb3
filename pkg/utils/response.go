package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse define la estructura estándar para las respuestas de error.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SendSuccess envía una respuesta exitosa con un payload de datos.
func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"data": data,
	})
}

// SendError envía una respuesta de error con un formato estandarizado.
func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error": ErrorResponse{
			Message: message,
		},
	})
}

// --- Helpers específicos para errores comunes ---

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}

// StatusError asocia un error de dominio a un código HTTP.
type StatusError struct {
	Err    error
	Status int
}

// SendMappedError busca err en el mapa (con errors.Is); si el error sabe su código
// (HTTPStatus) se usa ese. Lo demás es un 500 sin detalles.
func SendMappedError(c *gin.Context, err error, mapping ...StatusError) {
	for _, m := range mapping {
		if errors.Is(err, m.Err) {
			SendError(c, m.Status, err.Error())
			return
		}
	}

	var hs interface{ HTTPStatus() int }
	if errors.As(err, &hs) {
		SendError(c, hs.HTTPStatus(), err.Error())
		return
	}
	SendInternalServerError(c, "internal error")
}
