package payment

import (
	"context"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

// BreakerGateway protege las llamadas remotas al proveedor con un circuit breaker.
// Los 4xx del proveedor no abren el circuito (GatewayError.HTTPStatus).
type BreakerGateway struct {
	inner   domain.PaymentGateway
	breaker *circuitbreaker.Breaker
}

func WithBreaker(inner domain.PaymentGateway, breaker *circuitbreaker.Breaker) *BreakerGateway {
	return &BreakerGateway{inner: inner, breaker: breaker}
}

func (g *BreakerGateway) CreateIntent(ctx context.Context, p domain.CreateIntentParams) (*domain.PaymentIntent, error) {
	return circuitbreaker.Do(g.breaker, func() (*domain.PaymentIntent, error) {
		return g.inner.CreateIntent(ctx, p)
	})
}

func (g *BreakerGateway) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return circuitbreaker.Do(g.breaker, func() (*domain.PaymentIntent, error) {
		return g.inner.GetIntent(ctx, id)
	})
}

func (g *BreakerGateway) CancelIntent(ctx context.Context, id string) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.inner.CancelIntent(ctx, id)
	})
	return err
}

func (g *BreakerGateway) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.inner.Refund(ctx, intentID, idempotencyKey)
	})
	return err
}

// ConstructWebhookEvent es local (verificación de firma), no pasa por el circuito.
func (g *BreakerGateway) ConstructWebhookEvent(payload []byte, signature string) (*domain.WebhookEvent, error) {
	return g.inner.ConstructWebhookEvent(payload, signature)
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
