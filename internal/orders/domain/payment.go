package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresCapture       IntentStatus = "requires_capture"
)

// Cancellable indica si el intent aún no tiene cargo y basta con anularlo.
func (s IntentStatus) Cancellable() bool {
	switch s {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction, IntentRequiresCapture:
		return true
	}
	return false
}

const WebhookPaymentSucceeded = "payment_intent.succeeded"

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       decimal.Decimal
	Metadata     map[string]string
}

type CreateIntentParams struct {
	OrderID        string
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	OrderID  string
}

// PaymentGateway es el proveedor de pagos (Stripe en producción, sandbox en local y tests).
type PaymentGateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)
	GetIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelIntent(ctx context.Context, id string) error
	Refund(ctx context.Context, intentID, idempotencyKey string) error
	ConstructWebhookEvent(payload []byte, signature string) (*WebhookEvent, error)
}

// Códigos de error del proveedor con significado para la saga.
const (
	CodeUnexpectedState = "payment_intent_unexpected_state"
	CodeChargeNotFound  = "charge_not_found"
	TypeInvalidRequest  = "invalid_request_error"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// GatewayError es un error devuelto por el proveedor de pagos.
type GatewayError struct {
	Status  int
	Code    string
	Type    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s (status=%d code=%s type=%s)", e.Message, e.Status, e.Code, e.Type)
}

// HTTPStatus permite al circuit breaker no contar los 4xx como fallos.
func (e *GatewayError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}

// Fatal indica que reintentar no sirve: la petición es inválida.
func (e *GatewayError) Fatal() bool {
	return e.Type == TypeInvalidRequest
}

func AsGatewayError(err error) (*GatewayError, bool) {
	var g *GatewayError
	ok := errors.As(err, &g)
	return g, ok
}

// HasCode indica si err es un GatewayError con el código dado.
func HasCode(err error, code string) bool {
	g, ok := AsGatewayError(err)
	return ok && g.Code == code
}
