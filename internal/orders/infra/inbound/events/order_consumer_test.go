package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	sharedEvents "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type mockSaga struct {
	mock.Mock
}

func (m *mockSaga) OnStockReserved(ctx context.Context, evt sharedEvents.StockReservedData) error {
	return m.Called(evt).Error(0)
}

func (m *mockSaga) OnStockFailed(ctx context.Context, evt sharedEvents.StockFailedData) error {
	return m.Called(evt).Error(0)
}

func (m *mockSaga) OnPaymentIntentFailed(ctx context.Context, evt sharedEvents.PaymentIntentFailedData) error {
	return m.Called(evt).Error(0)
}

func (m *mockSaga) CreatePaymentIntent(ctx context.Context, evt sharedEvents.OrderCreatedData) error {
	return m.Called(evt).Error(0)
}

func (m *mockSaga) ReversePayment(ctx context.Context, evt sharedEvents.OrderCancelledData) error {
	return m.Called(evt).Error(0)
}

func (m *mockSaga) SetInvoiceURL(ctx context.Context, evt sharedEvents.InvoiceGeneratedData) error {
	return m.Called(evt).Error(0)
}

type mockInventory struct {
	mock.Mock
}

func (m *mockInventory) OnStockChanged(ctx context.Context, evt sharedEvents.StockChangedData) error {
	return m.Called(evt).Error(0)
}

func (m *mockInventory) OnProductCreated(ctx context.Context, evt sharedEvents.ProductCreatedData) error {
	return m.Called(evt).Error(0)
}

func TestOrderConsumer_RoutesByPayload(t *testing.T) {
	saga := new(mockSaga)
	inventory := new(mockInventory)
	c := NewOrderConsumer(saga, inventory, zap.NewNop())
	ctx := context.Background()

	reserved := sharedEvents.StockReservedData{OrderID: "o-1"}
	failed := sharedEvents.StockFailedData{OrderID: "o-1", Reason: "out of stock"}
	created := sharedEvents.OrderCreatedData{OrderID: "o-1"}
	cancelled := sharedEvents.OrderCancelledData{OrderID: "o-1"}
	invoice := sharedEvents.InvoiceGeneratedData{OrderID: "o-1", InvoiceURL: "u"}
	changed := sharedEvents.StockChangedData{ID: "p-1", StockQuantity: 3}

	saga.On("OnStockReserved", reserved).Return(nil).Once()
	saga.On("OnStockFailed", failed).Return(nil).Once()
	saga.On("CreatePaymentIntent", created).Return(sharedEvents.Retryable(assert.AnError)).Once()
	saga.On("ReversePayment", cancelled).Return(nil).Once()
	saga.On("SetInvoiceURL", invoice).Return(nil).Once()
	inventory.On("OnStockChanged", changed).Return(nil).Once()

	assert.NoError(t, c.HandleMessage(ctx, sharedEvents.Event{Payload: reserved}))
	assert.NoError(t, c.HandleMessage(ctx, sharedEvents.Event{Payload: failed}))
	assert.True(t, sharedEvents.IsRetryable(c.HandleMessage(ctx, sharedEvents.Event{Payload: created})))
	assert.NoError(t, c.HandleMessage(ctx, sharedEvents.Event{Payload: cancelled}))
	assert.NoError(t, c.HandleMessage(ctx, sharedEvents.Event{Payload: invoice}))
	assert.NoError(t, c.HandleMessage(ctx, sharedEvents.Event{Payload: changed}))
	assert.NoError(t, c.HandleMessage(ctx, sharedEvents.Event{Payload: sharedEvents.UserVerifiedData{UserID: "u"}}))

	saga.AssertExpectations(t)
	inventory.AssertExpectations(t)
}

func TestOrderConsumer_Subscriptions(t *testing.T) {
	c := NewOrderConsumer(new(mockSaga), new(mockInventory), zap.NewNop())
	queues := map[string][]string{}
	for _, sub := range c.Subscriptions() {
		queues[sub.Queue] = sub.RoutingKeys
	}
	assert.ElementsMatch(t, []string{sharedEvents.ProductStockReserved, sharedEvents.ProductStockFailed}, queues[QueueSagaReply])
	assert.Equal(t, []string{sharedEvents.OrderCreated}, queues[QueuePaymentProcessor])
	assert.Contains(t, queues, QueueInventorySync)

	withoutCache := NewOrderConsumer(new(mockSaga), nil, zap.NewNop())
	assert.Len(t, withoutCache.Subscriptions(), 4)
}
