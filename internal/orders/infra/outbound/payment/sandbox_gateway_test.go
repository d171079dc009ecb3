package payment

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

func params(orderID string) domain.CreateIntentParams {
	return domain.CreateIntentParams{
		OrderID:        orderID,
		UserID:         "u-1",
		Amount:         decimal.RequireFromString("42.50"),
		Currency:       "usd",
		IdempotencyKey: "order-" + orderID,
	}
}

func TestSandbox_IdempotentCreate(t *testing.T) {
	ctx := context.Background()
	g := NewSandboxGateway("whsec")

	a, err := g.CreateIntent(ctx, params("o-1"))
	require.NoError(t, err)
	b, err := g.CreateIntent(ctx, params("o-1"))
	require.NoError(t, err)
	c, err := g.CreateIntent(ctx, params("o-2"))
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 2, g.Intents())
	assert.Equal(t, domain.IntentRequiresPaymentMethod, a.Status)
	assert.Equal(t, "o-1", a.Metadata["orderId"])
}

func TestSandbox_InvalidAmountIsFatal(t *testing.T) {
	g := NewSandboxGateway("whsec")
	p := params("o-1")
	p.Amount = decimal.Zero

	_, err := g.CreateIntent(context.Background(), p)
	ge, ok := domain.AsGatewayError(err)
	require.True(t, ok)
	assert.True(t, ge.Fatal())
}

func TestSandbox_CancelAndRefundStates(t *testing.T) {
	ctx := context.Background()
	g := NewSandboxGateway("whsec")
	pending, _ := g.CreateIntent(ctx, params("o-1"))
	captured, _ := g.CreateIntent(ctx, params("o-2"))
	_, _, err := g.Succeed(captured.ID)
	require.NoError(t, err)

	// Sin cargo no hay reembolso.
	assert.True(t, domain.HasCode(g.Refund(ctx, pending.ID, "refund-o-1"), domain.CodeChargeNotFound))
	require.NoError(t, g.CancelIntent(ctx, pending.ID))

	// Capturado: no se puede anular, sí reembolsar una vez.
	assert.True(t, domain.HasCode(g.CancelIntent(ctx, captured.ID), domain.CodeUnexpectedState))
	require.NoError(t, g.Refund(ctx, captured.ID, "refund-o-2"))
	require.NoError(t, g.Refund(ctx, captured.ID, "refund-o-2"), "same idempotency key")
	assert.Error(t, g.Refund(ctx, captured.ID, "another-key"))
	assert.Equal(t, 1, g.Refunds(captured.ID))
}

func TestSandbox_WebhookSignature(t *testing.T) {
	ctx := context.Background()
	g := NewSandboxGateway("whsec")
	intent, _ := g.CreateIntent(ctx, params("o-1"))

	payload, sig, err := g.Succeed(intent.ID)
	require.NoError(t, err)

	evt, err := g.ConstructWebhookEvent(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookPaymentSucceeded, evt.Type)
	assert.Equal(t, intent.ID, evt.IntentID)
	assert.Equal(t, "o-1", evt.OrderID)

	_, err = g.ConstructWebhookEvent(payload, NewSandboxGateway("other").Sign(payload))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestBreakerGateway_OpensOnServerErrorsOnly(t *testing.T) {
	ctx := context.Background()
	sandbox := NewSandboxGateway("whsec")
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "payments", FailureThreshold: 2, ResetTimeout: time.Minute}, zap.NewNop())
	g := WithBreaker(sandbox, breaker)

	// Los 4xx no cuentan.
	for i := 0; i < 3; i++ {
		_, err := g.GetIntent(ctx, "pi_missing")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	down := &domain.GatewayError{Status: http.StatusBadGateway, Message: "upstream"}
	sandbox.FailNextCreate(down, down)
	for i := 0; i < 2; i++ {
		_, err := g.CreateIntent(ctx, params("o-1"))
		assert.ErrorIs(t, err, down)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := g.CreateIntent(ctx, params("o-1"))
	assert.True(t, circuitbreaker.IsOpen(err))
	assert.Zero(t, sandbox.Intents(), "open circuit must not reach the provider")
}
