package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
)

// SandboxGateway es un proveedor de pagos en memoria con la semántica de Stripe que usa la saga:
// claves de idempotencia, estados de intent, errores por código y webhooks firmados (HMAC-SHA256).
type SandboxGateway struct {
	secret string

	mu          sync.Mutex
	intents     map[string]*domain.PaymentIntent
	byKey       map[string]string
	refundKeys  map[string]string
	refunds     map[string]int
	createCalls int
	failCreate  []error
}

func NewSandboxGateway(webhookSecret string) *SandboxGateway {
	return &SandboxGateway{
		secret:     webhookSecret,
		intents:    map[string]*domain.PaymentIntent{},
		byKey:      map[string]string{},
		refundKeys: map[string]string{},
		refunds:    map[string]int{},
	}
}

// FailNextCreate hace que las próximas llamadas a CreateIntent devuelvan los errores dados, en orden.
func (g *SandboxGateway) FailNextCreate(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCreate = append(g.failCreate, errs...)
}

func (g *SandboxGateway) CreateIntent(ctx context.Context, p domain.CreateIntentParams) (*domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++

	if len(g.failCreate) > 0 {
		err := g.failCreate[0]
		g.failCreate = g.failCreate[1:]
		return nil, err
	}
	if !p.Amount.IsPositive() {
		return nil, &domain.GatewayError{Status: http.StatusBadRequest, Type: domain.TypeInvalidRequest,
			Code: "amount_too_small", Message: "Amount must be greater than zero"}
	}
	if id, ok := g.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		return copyIntent(g.intents[id]), nil
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := &domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Status:       domain.IntentRequiresPaymentMethod,
		Amount:       p.Amount,
		Metadata:     map[string]string{metadataOrderID: p.OrderID, "userId": p.UserID},
	}
	g.intents[id] = intent
	if p.IdempotencyKey != "" {
		g.byKey[p.IdempotencyKey] = id
	}
	return copyIntent(intent), nil
}

func (g *SandboxGateway) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	if !ok {
		return nil, notFound(id)
	}
	return copyIntent(intent), nil
}

func (g *SandboxGateway) CancelIntent(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	if !ok {
		return notFound(id)
	}
	if !intent.Status.Cancellable() && intent.Status != domain.IntentProcessing {
		return &domain.GatewayError{Status: http.StatusBadRequest, Type: domain.TypeInvalidRequest, Code: domain.CodeUnexpectedState,
			Message: fmt.Sprintf("You cannot cancel this PaymentIntent because it has a status of %s.", intent.Status)}
	}
	intent.Status = domain.IntentCanceled
	return nil
}

func (g *SandboxGateway) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.refundKeys[idempotencyKey]; ok && idempotencyKey != "" {
		if prev != intentID {
			return &domain.GatewayError{Status: http.StatusBadRequest, Type: "idempotency_error",
				Message: "Keys for idempotent requests can only be used with the same parameters they were first used with."}
		}
		return nil
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return notFound(intentID)
	}
	if intent.Status != domain.IntentSucceeded {
		return &domain.GatewayError{Status: http.StatusBadRequest, Type: domain.TypeInvalidRequest, Code: domain.CodeChargeNotFound,
			Message: fmt.Sprintf("This PaymentIntent (%s) does not have a successful charge to refund.", intentID)}
	}
	if g.refunds[intentID] > 0 {
		return &domain.GatewayError{Status: http.StatusBadRequest, Type: domain.TypeInvalidRequest, Code: "charge_already_refunded",
			Message: "Charge has already been refunded."}
	}
	g.refunds[intentID]++
	if idempotencyKey != "" {
		g.refundKeys[idempotencyKey] = intentID
	}
	return nil
}

// Succeed captura el intent (como si el cliente hubiera pagado) y devuelve el webhook firmado.
func (g *SandboxGateway) Succeed(intentID string) (payload []byte, signature string, err error) {
	g.mu.Lock()
	intent, ok := g.intents[intentID]
	if !ok {
		g.mu.Unlock()
		return nil, "", notFound(intentID)
	}
	intent.Status = domain.IntentSucceeded
	orderID := intent.Metadata[metadataOrderID]
	g.mu.Unlock()

	payload, err = json.Marshal(sandboxEvent{
		ID:   "evt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type: domain.WebhookPaymentSucceeded,
		Data: sandboxEventData{Object: sandboxObject{ID: intentID, Metadata: map[string]string{metadataOrderID: orderID}}},
	})
	if err != nil {
		return nil, "", err
	}
	return payload, g.Sign(payload), nil
}

// Sign firma un payload como lo haría el proveedor.
func (g *SandboxGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *SandboxGateway) ConstructWebhookEvent(payload []byte, signature string) (*domain.WebhookEvent, error) {
	expected := g.Sign(payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, domain.ErrInvalidSignature
	}
	var evt sandboxEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &domain.WebhookEvent{
		ID:       evt.ID,
		Type:     evt.Type,
		IntentID: evt.Data.Object.ID,
		OrderID:  evt.Data.Object.Metadata[metadataOrderID],
	}, nil
}

// CreateCalls cuenta las llamadas a CreateIntent (incluidas las idempotentes).
func (g *SandboxGateway) CreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

// Intents cuenta los intents distintos creados.
func (g *SandboxGateway) Intents() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

// Refunds cuenta los reembolsos efectivos de un intent.
func (g *SandboxGateway) Refunds(intentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds[intentID]
}

// ------------------ forma del webhook ------------------

type sandboxEvent struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Data sandboxEventData `json:"data"`
}

type sandboxEventData struct {
	Object sandboxObject `json:"object"`
}

type sandboxObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func notFound(id string) error {
	return &domain.GatewayError{Status: http.StatusNotFound, Type: domain.TypeInvalidRequest, Code: "resource_missing",
		Message: fmt.Sprintf("No such payment_intent: '%s'", id)}
}

func copyIntent(in *domain.PaymentIntent) *domain.PaymentIntent {
	out := *in
	out.Metadata = make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

var _ domain.PaymentGateway = (*SandboxGateway)(nil)
