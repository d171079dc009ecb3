package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
)

const (
	QueueOrderListener  = "cart.order-listener"
	QueueProductReplica = "cart.product-replica"
)

const handlerTimeout = 5 * time.Second

type CartService interface {
	OnOrderCreated(ctx context.Context, evt sharedEvents.OrderCreatedData) error
	OnProductCreated(ctx context.Context, evt sharedEvents.ProductCreatedData) error
	OnProductUpdated(ctx context.Context, evt sharedEvents.ProductUpdatedData) error
	OnStockChanged(ctx context.Context, evt sharedEvents.StockChangedData) error
	OnProductDeleted(ctx context.Context, evt sharedEvents.ProductDeletedData) error
}

type CartConsumer struct {
	service CartService
	log     *zap.Logger
}

func NewCartConsumer(service CartService, logger *zap.Logger) *CartConsumer {
	return &CartConsumer{service: service, log: logger}
}

// Subscriptions: la réplica escucha todo product.*; stock_reserved/failed se ignoran.
func (c *CartConsumer) Subscriptions() []sharedBus.Subscription {
	return []sharedBus.Subscription{
		{Queue: QueueOrderListener, RoutingKeys: []string{sharedEvents.OrderCreated}},
		{Queue: QueueProductReplica, RoutingKeys: []string{"product.*"}},
	}
}

func (c *CartConsumer) Register(ctx context.Context, bus sharedBus.EventBus) error {
	for _, sub := range c.Subscriptions() {
		if err := bus.Subscribe(ctx, sub, c.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

func (c *CartConsumer) HandleMessage(ctx context.Context, evt sharedEvents.Event) error {
	switch data := evt.Payload.(type) {
	case sharedEvents.OrderCreatedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.OnOrderCreated(ctx, data)
		})
	case sharedEvents.ProductCreatedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.OnProductCreated(ctx, data)
		})
	case sharedEvents.ProductUpdatedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.OnProductUpdated(ctx, data)
		})
	case sharedEvents.StockChangedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.OnStockChanged(ctx, data)
		})
	case sharedEvents.ProductDeletedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.OnProductDeleted(ctx, data)
		})
	default:
		c.log.Debug("Cart ignores event", zap.String("type", evt.EventType))
		return nil
	}
}

func (c *CartConsumer) withContext(ctx context.Context, evt sharedEvents.Event, action func(ctx context.Context) error) error {
	ctxEvt, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := action(ctxEvt); err != nil {
		c.log.Warn("Failed to process cart event",
			zap.String("event_id", evt.EventID),
			zap.String("type", evt.EventType),
			zap.Error(err),
		)
		return err
	}
	return nil
}
