package application

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	ordersDB "github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/outbound/payment"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedCache "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/cache"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	"github.com/tomarrohitt/e-commerce-sub000/internal/testutil"
)

type fakeDirectory struct {
	customers map[string]*domain.Customer
	err       error
}

func (d *fakeDirectory) Lookup(ctx context.Context, userID string) (*domain.Customer, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.customers[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return c, nil
}

type fixture struct {
	svc     *OrderService
	admin   *AdminService
	repo    *ordersDB.OrderRepo
	gateway *payment.SandboxGateway
	users   *fakeDirectory
	stock   *sharedCache.InMemoryCache
}

func setup(t *testing.T) fixture {
	repo := ordersDB.NewOrderRepo(testutil.OpenSQLite(t))
	testutil.InitSchemas(t, repo)

	gateway := payment.NewSandboxGateway("whsec_test")
	users := &fakeDirectory{customers: map[string]*domain.Customer{
		"u-1": {ID: "u-1", Email: "ana@example.com", Name: "Ana", Verified: true},
		"u-2": {ID: "u-2", Email: "luis@example.com", Name: "Luis", Verified: true},
	}}
	stock := sharedCache.NewInMemoryCache(time.Minute, time.Minute)
	t.Cleanup(stock.Stop)

	return fixture{
		svc:     NewOrderService(repo, gateway, users, stock, decimal.RequireFromString("0.10"), "usd", zap.NewNop()),
		admin:   NewAdminService(repo, gateway, zap.NewNop()),
		repo:    repo,
		gateway: gateway,
		users:   users,
		stock:   stock,
	}
}

func pageAll() sharedQuery.OffsetPagination { return sharedQuery.Page(1, 100, 100) }

func keyboard(qty int) domain.Item {
	return domain.Item{ProductID: "p-1", Name: "Teclado", Price: decimal.RequireFromString("50.00"), Quantity: qty}
}

func (f fixture) place(t *testing.T, userID string, items ...domain.Item) *domain.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: userID, Items: items})
	require.NoError(t, err)
	return o
}

func (f fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	pending, err := f.repo.Outbox().FetchPending(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(pending))
	for _, e := range pending {
		types = append(types, e.EventType)
	}
	return types
}

func (f fixture) count(t *testing.T, eventType string) int {
	t.Helper()
	n := 0
	for _, et := range f.eventTypes(t) {
		if et == eventType {
			n++
		}
	}
	return n
}

// createIntent ejecuta el paso de pago de la saga para el pedido.
func (f fixture) createIntent(t *testing.T, o *domain.Order) *domain.Order {
	t.Helper()
	require.NoError(t, f.svc.CreatePaymentIntent(context.Background(), events.OrderCreatedData{OrderID: o.ID.String()}))
	return f.order(t, o.ID)
}

// pay captura el intent y entrega el webhook firmado.
func (f fixture) pay(t *testing.T, o *domain.Order) {
	t.Helper()
	payload, sig, err := f.gateway.Succeed(o.PaymentID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), payload, sig))
}

// ---------------- PlaceOrder ----------------

func TestPlaceOrder_ComputesTotalsAndEmits(t *testing.T) {
	f := setup(t)
	o := f.place(t, "u-1", keyboard(2))

	assert.Equal(t, domain.StatusCreated, o.Status)
	assert.True(t, decimal.RequireFromString("110").Equal(o.TotalAmount))
	assert.Equal(t, "ana@example.com", o.UserEmail)
	assert.Equal(t, []string{events.OrderCreated}, f.eventTypes(t))
}

func TestPlaceOrder_TotalTolerance(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	near := decimal.RequireFromString("110.04")
	_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: "u-1", Items: []domain.Item{keyboard(2)}, TotalAmount: &near})
	assert.NoError(t, err)

	off := decimal.RequireFromString("100.00")
	_, err = f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: "u-1", Items: []domain.Item{keyboard(2)}, TotalAmount: &off})
	assert.ErrorIs(t, err, domain.ErrTotalMismatch)
}

func TestPlaceOrder_StockGate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.stock.SetCount(ctx, StockKey("p-1"), 1))

	_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: "u-1", Items: []domain.Item{keyboard(2)}})
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	remaining, _, err := f.stock.DecrIfExists(ctx, StockKey("p-1"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining, "gate must be rolled back")
	assert.Empty(t, f.eventTypes(t))

	f.place(t, "u-1", keyboard(1))
	remaining, _, _ = f.stock.DecrIfExists(ctx, StockKey("p-1"), 0)
	assert.Equal(t, int64(0), remaining)

	// Producto sin contador: no se controla.
	other := domain.Item{ProductID: "p-9", Price: decimal.RequireFromString("1"), Quantity: 50}
	f.place(t, "u-1", other)
}

func TestPlaceOrder_Identity(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: "ghost", Items: []domain.Item{keyboard(1)}})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	f.users.err = errors.New("connection refused")
	_, err = f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: "u-1", Items: []domain.Item{keyboard(1)}})
	assert.ErrorIs(t, err, domain.ErrIdentityDegraded)
}

// ---------------- Cliente ----------------

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.place(t, "u-1", keyboard(1))

	_, err := f.svc.CancelOrder(ctx, "u-2", o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := f.svc.CancelOrder(ctx, "u-1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, events.ReasonUserRequested, cancelled.CancelReason)

	_, err = f.svc.CancelOrder(ctx, "u-1", o.ID)
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
}

func TestListUserOrders(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.place(t, "u-1", keyboard(1))
	f.place(t, "u-1", keyboard(2))
	f.place(t, "u-2", keyboard(1))

	orders, total, err := f.svc.ListUserOrders(ctx, "u-1", "", pageAll())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, orders, 2)

	_, _, err = f.svc.ListUserOrders(ctx, "u-1", "LOST", pageAll())
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

// ---------------- Saga: pago ----------------

func TestCreatePaymentIntent_Idempotent(t *testing.T) {
	f := setup(t)
	o := f.place(t, "u-1", keyboard(1))

	o = f.createIntent(t, o)
	assert.NotEmpty(t, o.PaymentID)
	assert.NotEmpty(t, o.ClientSecret)

	// Redelivery de order.created: no hay segundo intent.
	f.createIntent(t, o)
	assert.Equal(t, 1, f.gateway.Intents())
	assert.Equal(t, 1, f.count(t, events.OrderPaymentIntentCreated))

	view, err := f.svc.PaymentStatus(context.Background(), "u-1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRequiresPaymentMethod, view.IntentStatus)
	assert.Equal(t, o.ClientSecret, view.ClientSecret)
}

func TestCreatePaymentIntent_FatalAndTransientErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.place(t, "u-1", keyboard(1))

	f.gateway.FailNextCreate(&domain.GatewayError{Status: http.StatusServiceUnavailable, Message: "upstream down"})
	err := f.svc.CreatePaymentIntent(ctx, events.OrderCreatedData{OrderID: o.ID.String()})
	assert.True(t, events.IsRetryable(err))
	assert.Zero(t, f.count(t, events.OrderPaymentIntentFailed))

	f.gateway.FailNextCreate(&domain.GatewayError{Status: http.StatusBadRequest, Type: domain.TypeInvalidRequest, Message: "Invalid currency"})
	require.NoError(t, f.svc.CreatePaymentIntent(ctx, events.OrderCreatedData{OrderID: o.ID.String()}))
	assert.Equal(t, 1, f.count(t, events.OrderPaymentIntentFailed))
	assert.Empty(t, f.order(t, o.ID).PaymentID)

	require.NoError(t, f.svc.OnPaymentIntentFailed(ctx, events.PaymentIntentFailedData{OrderID: o.ID.String()}))
	got := f.order(t, o.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, events.ReasonPaymentFailed, got.CancelReason)
}

func TestCreatePaymentIntent_SkipsTerminalOrders(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.place(t, "u-1", keyboard(1))
	_, err := f.svc.CancelOrder(ctx, "u-1", o.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CreatePaymentIntent(ctx, events.OrderCreatedData{OrderID: o.ID.String()}))
	assert.Zero(t, f.gateway.CreateCalls())
}

func TestWebhook_MarksPaid(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.createIntent(t, f.place(t, "u-1", keyboard(1)))
	require.NoError(t, f.svc.OnStockReserved(ctx, events.StockReservedData{OrderID: o.ID.String()}))

	f.pay(t, o)
	assert.Equal(t, domain.StatusPaid, f.order(t, o.ID).Status)
	assert.Equal(t, 1, f.count(t, events.OrderPaid))

	// Redelivery del webhook: sin segundo order.paid.
	payload, sig, err := f.gateway.Succeed(o.PaymentID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleWebhook(ctx, payload, sig))
	assert.Equal(t, 1, f.count(t, events.OrderPaid))

	assert.ErrorIs(t, f.svc.HandleWebhook(ctx, payload, "bad"), domain.ErrInvalidSignature)
}

func TestWebhook_OnCancelledOrderRefunds(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.createIntent(t, f.place(t, "u-1", keyboard(1)))
	_, err := f.svc.CancelOrder(ctx, "u-1", o.ID)
	require.NoError(t, err)

	f.pay(t, o)
	got := f.order(t, o.ID)
	assert.Equal(t, domain.StatusRefunded, got.Status)
	assert.True(t, got.Refunded)
	assert.Equal(t, 1, f.gateway.Refunds(o.PaymentID))
	assert.Zero(t, f.count(t, events.OrderPaid))

	// El consumidor de order.cancelled llega tarde: no hay segundo reembolso.
	require.NoError(t, f.svc.ReversePayment(ctx, events.OrderCancelledData{OrderID: o.ID.String()}))
	assert.Equal(t, 1, f.gateway.Refunds(o.PaymentID))
}

// ---------------- Saga: respuestas de stock ----------------

func TestOnStockReserved_OnlyFromCreated(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.createIntent(t, f.place(t, "u-1", keyboard(1)))

	require.NoError(t, f.svc.OnStockReserved(ctx, events.StockReservedData{OrderID: o.ID.String()}))
	assert.Equal(t, domain.StatusAwaitingPayment, f.order(t, o.ID).Status)

	f.pay(t, o)
	// STOCK_RESERVED duplicado sobre un pedido pagado: no-op.
	require.NoError(t, f.svc.OnStockReserved(ctx, events.StockReservedData{OrderID: o.ID.String()}))
	assert.Equal(t, domain.StatusPaid, f.order(t, o.ID).Status)
}

func TestOnStockFailed_CancelsAndVoidsIntent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.createIntent(t, f.place(t, "u-1", keyboard(1)))

	require.NoError(t, f.svc.OnStockFailed(ctx, events.StockFailedData{OrderID: o.ID.String(), Reason: "Product p-1 is out of stock"}))

	got := f.order(t, o.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, events.ReasonInventoryError, got.CancelReason)
	intent, err := f.gateway.GetIntent(ctx, o.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCanceled, intent.Status)

	// order.cancelled posterior: el intent ya está anulado, no-op.
	require.NoError(t, f.svc.ReversePayment(ctx, events.OrderCancelledData{OrderID: o.ID.String()}))
}

func TestOnStockFailed_RefundsCapturedPayment(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.createIntent(t, f.place(t, "u-1", keyboard(1)))
	f.pay(t, o)

	require.NoError(t, f.svc.OnStockFailed(ctx, events.StockFailedData{OrderID: o.ID.String()}))
	assert.Equal(t, domain.StatusRefunded, f.order(t, o.ID).Status)
	assert.Equal(t, 1, f.gateway.Refunds(o.PaymentID))

	require.NoError(t, f.svc.ReversePayment(ctx, events.OrderCancelledData{OrderID: o.ID.String()}))
	assert.Equal(t, 1, f.gateway.Refunds(o.PaymentID))
}

func TestSetInvoiceURL(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	o := f.place(t, "u-1", keyboard(1))

	require.NoError(t, f.svc.SetInvoiceURL(ctx, events.InvoiceGeneratedData{OrderID: o.ID.String(), InvoiceURL: "file:///tmp/i.pdf"}))
	assert.Equal(t, "file:///tmp/i.pdf", f.order(t, o.ID).InvoiceURL)

	err := f.svc.SetInvoiceURL(ctx, events.InvoiceGeneratedData{OrderID: uuid.NewString(), InvoiceURL: "x"})
	assert.True(t, events.IsFatal(err))
	assert.True(t, events.IsFatal(f.svc.SetInvoiceURL(ctx, events.InvoiceGeneratedData{OrderID: "nope", InvoiceURL: "x"})))
}

func TestPaymentIntentCreatedPayload(t *testing.T) {
	f := setup(t)
	o := f.createIntent(t, f.place(t, "u-1", keyboard(1)))

	pending, err := f.repo.Outbox().FetchPending(context.Background(), 100)
	require.NoError(t, err)
	var data events.PaymentIntentCreatedData
	for _, e := range pending {
		if e.EventType == events.OrderPaymentIntentCreated {
			require.NoError(t, json.Unmarshal(e.Payload.(json.RawMessage), &data))
		}
	}
	assert.Equal(t, o.PaymentID, data.PaymentID)
	assert.Equal(t, o.ClientSecret, data.ClientSecret)
	assert.Equal(t, "u-1", data.UserID)
}
