package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
)

// Colas del contexto Orders.
const (
	QueueSagaReply        = "orders.saga-reply"
	QueuePaymentProcessor = "orders.payment-processor"
	QueuePaymentUpdates   = "orders.payment-updates"
	QueueInvoiceUpdates   = "orders.invoice-updates"
	QueueInventorySync    = "orders.inventory-sync"
)

// Las llamadas al proveedor de pagos pueden tardar más que una escritura local.
const handlerTimeout = 10 * time.Second

type OrderSaga interface {
	OnStockReserved(ctx context.Context, evt sharedEvents.StockReservedData) error
	OnStockFailed(ctx context.Context, evt sharedEvents.StockFailedData) error
	OnPaymentIntentFailed(ctx context.Context, evt sharedEvents.PaymentIntentFailedData) error
	CreatePaymentIntent(ctx context.Context, evt sharedEvents.OrderCreatedData) error
	ReversePayment(ctx context.Context, evt sharedEvents.OrderCancelledData) error
	SetInvoiceURL(ctx context.Context, evt sharedEvents.InvoiceGeneratedData) error
}

type InventorySync interface {
	OnStockChanged(ctx context.Context, evt sharedEvents.StockChangedData) error
	OnProductCreated(ctx context.Context, evt sharedEvents.ProductCreatedData) error
}

type OrderConsumer struct {
	saga      OrderSaga
	inventory InventorySync
	log       *zap.Logger
}

func NewOrderConsumer(saga OrderSaga, inventory InventorySync, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{saga: saga, inventory: inventory, log: logger}
}

func (c *OrderConsumer) Subscriptions() []sharedBus.Subscription {
	subs := []sharedBus.Subscription{
		{Queue: QueueSagaReply, RoutingKeys: []string{sharedEvents.ProductStockReserved, sharedEvents.ProductStockFailed}},
		{Queue: QueuePaymentProcessor, RoutingKeys: []string{sharedEvents.OrderCreated}},
		{Queue: QueuePaymentUpdates, RoutingKeys: []string{sharedEvents.OrderPaymentIntentFailed, sharedEvents.OrderCancelled}},
		{Queue: QueueInvoiceUpdates, RoutingKeys: []string{sharedEvents.InvoiceGenerated}},
	}
	if c.inventory != nil {
		subs = append(subs, sharedBus.Subscription{
			Queue:       QueueInventorySync,
			RoutingKeys: []string{sharedEvents.ProductStockChanged, sharedEvents.ProductCreated},
		})
	}
	return subs
}

func (c *OrderConsumer) Register(ctx context.Context, bus sharedBus.EventBus) error {
	for _, sub := range c.Subscriptions() {
		if err := bus.Subscribe(ctx, sub, c.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

func (c *OrderConsumer) HandleMessage(ctx context.Context, evt sharedEvents.Event) error {
	switch data := evt.Payload.(type) {
	case sharedEvents.StockReservedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.saga.OnStockReserved(ctx, data)
		})
	case sharedEvents.StockFailedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.saga.OnStockFailed(ctx, data)
		})
	case sharedEvents.OrderCreatedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.saga.CreatePaymentIntent(ctx, data)
		})
	case sharedEvents.PaymentIntentFailedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.saga.OnPaymentIntentFailed(ctx, data)
		})
	case sharedEvents.OrderCancelledData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.saga.ReversePayment(ctx, data)
		})
	case sharedEvents.InvoiceGeneratedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.saga.SetInvoiceURL(ctx, data)
		})
	case sharedEvents.StockChangedData:
		if c.inventory == nil {
			return nil
		}
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.inventory.OnStockChanged(ctx, data)
		})
	case sharedEvents.ProductCreatedData:
		if c.inventory == nil {
			return nil
		}
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.inventory.OnProductCreated(ctx, data)
		})
	default:
		c.log.Warn("Unknown event type", zap.String("type", evt.EventType))
		return nil
	}
}

func (c *OrderConsumer) withContext(ctx context.Context, evt sharedEvents.Event, action func(ctx context.Context) error) error {
	ctxEvt, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := action(ctxEvt); err != nil {
		c.log.Warn("Failed to process order event",
			zap.String("event_id", evt.EventID),
			zap.String("type", evt.EventType),
			zap.String("aggregate_id", evt.AggregateID),
			zap.String("class", sharedEvents.Classify(err)),
			zap.Error(err),
		)
		return err
	}
	c.log.Debug("Order event processed", zap.String("event_id", evt.EventID), zap.String("type", evt.EventType))
	return nil
}
