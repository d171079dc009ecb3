package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type mockCatalogService struct {
	mock.Mock
}

func (m *mockCatalogService) ReserveStock(ctx context.Context, evt sharedEvents.OrderCreatedData) error {
	return m.Called(evt).Error(0)
}

func (m *mockCatalogService) ReleaseStock(ctx context.Context, evt sharedEvents.OrderCancelledData) error {
	return m.Called(evt).Error(0)
}

func (m *mockCatalogService) GrantVerifiedPurchases(ctx context.Context, evt sharedEvents.OrderDeliveredData) error {
	return m.Called(evt).Error(0)
}

func (m *mockCatalogService) UpsertReviewer(ctx context.Context, evt sharedEvents.UserVerifiedData) error {
	return m.Called(evt).Error(0)
}

func TestCatalogConsumer_RoutesByPayload(t *testing.T) {
	svc := new(mockCatalogService)
	c := NewCatalogConsumer(svc, zap.NewNop())

	created := sharedEvents.OrderCreatedData{OrderID: "o-1"}
	cancelled := sharedEvents.OrderCancelledData{OrderID: "o-1", Reason: sharedEvents.ReasonTimeout}
	svc.On("ReserveStock", created).Return(nil).Once()
	svc.On("ReleaseStock", cancelled).Return(errors.New("db down")).Once()

	assert.NoError(t, c.HandleMessage(context.Background(), sharedEvents.Event{Payload: created}))
	assert.Error(t, c.HandleMessage(context.Background(), sharedEvents.Event{Payload: cancelled}))
	assert.NoError(t, c.HandleMessage(context.Background(), sharedEvents.Event{Payload: sharedEvents.InvoiceGeneratedData{}}))

	svc.AssertExpectations(t)
}

func TestCatalogConsumer_Subscriptions(t *testing.T) {
	c := NewCatalogConsumer(new(mockCatalogService), zap.NewNop())
	queues := map[string][]string{}
	for _, sub := range c.Subscriptions() {
		queues[sub.Queue] = sub.RoutingKeys
	}
	assert.Equal(t, []string{sharedEvents.OrderCreated}, queues[QueueStockReservation])
	assert.Equal(t, []string{sharedEvents.OrderCancelled}, queues[QueueStockRelease])
}
