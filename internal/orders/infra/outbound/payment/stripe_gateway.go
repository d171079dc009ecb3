package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
)

const metadataOrderID = "orderId"

var hundred = decimal.NewFromInt(100)

// StripeGateway implementa domain.PaymentGateway con la API de Stripe.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p domain.CreateIntentParams) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount.Mul(hundred).Round(0).IntPart()),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, p.OrderID)
	params.AddMetadata("userId", p.UserID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := g.api.PaymentIntents.Cancel(id, params)
	return mapStripeError(err)
}

func (g *StripeGateway) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	_, err := g.api.Refunds.New(params)
	return mapStripeError(err)
}

func (g *StripeGateway) ConstructWebhookEvent(payload []byte, signature string) (*domain.WebhookEvent, error) {
	evt, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	out := &domain.WebhookEvent{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("invalid webhook object: %w", err)
	}
	out.IntentID = pi.ID
	out.OrderID = pi.Metadata[metadataOrderID]
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       domain.IntentStatus(pi.Status),
		Amount:       decimal.New(pi.Amount, -2),
		Metadata:     pi.Metadata,
	}
}

// mapStripeError traduce *stripe.Error a GatewayError; el resto (red, contexto) pasa tal cual.
func mapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	return &domain.GatewayError{
		Status:  se.HTTPStatusCode,
		Code:    string(se.Code),
		Type:    string(se.Type),
		Message: se.Msg,
	}
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)
