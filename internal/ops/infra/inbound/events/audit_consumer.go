package events

import (
	"context"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
)

// QueueAudit recibe una copia de todos los eventos del exchange.
const QueueAudit = "ops.saga-audit"

type Recorder interface {
	Record(ctx context.Context, evt sharedEvents.Event) error
}

type AuditConsumer struct {
	recorder Recorder
}

func NewAuditConsumer(recorder Recorder) *AuditConsumer {
	return &AuditConsumer{recorder: recorder}
}

func (c *AuditConsumer) Subscriptions() []sharedBus.Subscription {
	return []sharedBus.Subscription{{Queue: QueueAudit, RoutingKeys: []string{"#"}}}
}

func (c *AuditConsumer) Register(ctx context.Context, bus sharedBus.EventBus) error {
	for _, sub := range c.Subscriptions() {
		if err := bus.Subscribe(ctx, sub, c.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

func (c *AuditConsumer) HandleMessage(ctx context.Context, evt sharedEvents.Event) error {
	return c.recorder.Record(ctx, evt)
}
