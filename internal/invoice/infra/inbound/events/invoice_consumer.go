package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
)

const QueueOrderPaid = "invoice.order-paid"

// Render + subida pueden tardar más que un handler normal.
const handlerTimeout = 30 * time.Second

type InvoiceService interface {
	OnOrderPaid(ctx context.Context, evt sharedEvents.OrderPaidData) error
}

type InvoiceConsumer struct {
	service InvoiceService
	log     *zap.Logger
}

func NewInvoiceConsumer(service InvoiceService, logger *zap.Logger) *InvoiceConsumer {
	return &InvoiceConsumer{service: service, log: logger}
}

// Subscriptions: prefetch 1, una factura cada vez y en orden.
func (c *InvoiceConsumer) Subscriptions() []sharedBus.Subscription {
	return []sharedBus.Subscription{
		{Queue: QueueOrderPaid, RoutingKeys: []string{sharedEvents.OrderPaid}, Prefetch: 1},
	}
}

func (c *InvoiceConsumer) Register(ctx context.Context, bus sharedBus.EventBus) error {
	for _, sub := range c.Subscriptions() {
		if err := bus.Subscribe(ctx, sub, c.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

func (c *InvoiceConsumer) HandleMessage(ctx context.Context, evt sharedEvents.Event) error {
	data, ok := evt.Payload.(sharedEvents.OrderPaidData)
	if !ok {
		c.log.Warn("Unknown event type", zap.String("type", evt.EventType))
		return nil
	}

	ctxEvt, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	if err := c.service.OnOrderPaid(ctxEvt, data); err != nil {
		c.log.Warn("Failed to generate invoice",
			zap.String("event_id", evt.EventID),
			zap.String("order_id", data.OrderID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
