package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
)

// Colas del contexto Catalog.
const (
	QueueStockReservation = "catalog.stock-reservation"
	QueueStockRelease     = "catalog.stock-release"
	QueueOrderDelivered   = "catalog.order-delivered"
	QueueUserVerified     = "catalog.user-verified"
)

const handlerTimeout = 5 * time.Second

type CatalogService interface {
	ReserveStock(ctx context.Context, evt sharedEvents.OrderCreatedData) error
	ReleaseStock(ctx context.Context, evt sharedEvents.OrderCancelledData) error
	GrantVerifiedPurchases(ctx context.Context, evt sharedEvents.OrderDeliveredData) error
	UpsertReviewer(ctx context.Context, evt sharedEvents.UserVerifiedData) error
}

type CatalogConsumer struct {
	service CatalogService
	log     *zap.Logger
}

func NewCatalogConsumer(service CatalogService, logger *zap.Logger) *CatalogConsumer {
	return &CatalogConsumer{service: service, log: logger}
}

// Subscriptions devuelve las colas que consume Catalog.
func (c *CatalogConsumer) Subscriptions() []sharedBus.Subscription {
	return []sharedBus.Subscription{
		{Queue: QueueStockReservation, RoutingKeys: []string{sharedEvents.OrderCreated}},
		{Queue: QueueStockRelease, RoutingKeys: []string{sharedEvents.OrderCancelled}},
		{Queue: QueueOrderDelivered, RoutingKeys: []string{sharedEvents.OrderDelivered}},
		{Queue: QueueUserVerified, RoutingKeys: []string{sharedEvents.UserVerified}},
	}
}

// Register suscribe todas las colas con HandleMessage.
func (c *CatalogConsumer) Register(ctx context.Context, bus sharedBus.EventBus) error {
	for _, sub := range c.Subscriptions() {
		if err := bus.Subscribe(ctx, sub, c.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

func (c *CatalogConsumer) HandleMessage(ctx context.Context, evt sharedEvents.Event) error {
	switch data := evt.Payload.(type) {
	case sharedEvents.OrderCreatedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.ReserveStock(ctx, data)
		})
	case sharedEvents.OrderCancelledData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.ReleaseStock(ctx, data)
		})
	case sharedEvents.OrderDeliveredData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.GrantVerifiedPurchases(ctx, data)
		})
	case sharedEvents.UserVerifiedData:
		return c.withContext(ctx, evt, func(ctx context.Context) error {
			return c.service.UpsertReviewer(ctx, data)
		})
	default:
		c.log.Warn("Unknown event type", zap.String("type", evt.EventType))
		return nil
	}
}

// Helper para ejecutar acción con contexto limitado y log
func (c *CatalogConsumer) withContext(ctx context.Context, evt sharedEvents.Event, action func(ctx context.Context) error) error {
	ctxEvt, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := action(ctxEvt); err != nil {
		c.log.Warn("Failed to process catalog event",
			zap.String("event_id", evt.EventID),
			zap.String("type", evt.EventType),
			zap.String("aggregate_id", evt.AggregateID),
			zap.Error(err),
		)
		return err
	}
	c.log.Debug("Catalog event processed", zap.String("event_id", evt.EventID), zap.String("type", evt.EventType))
	return nil
}
