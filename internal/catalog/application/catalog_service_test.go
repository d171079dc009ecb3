package application

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomarrohitt/e-commerce-sub000/internal/catalog/domain"
	catalogDB "github.com/tomarrohitt/e-commerce-sub000/internal/catalog/infra/outbound/db"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	"github.com/tomarrohitt/e-commerce-sub000/internal/testutil"
)

type fixture struct {
	svc       *CatalogService
	products  *catalogDB.ProductRepo
	purchases *catalogDB.PurchaseRepo
}

func setup(t *testing.T) fixture {
	d := testutil.OpenSQLite(t)
	products := catalogDB.NewProductRepo(d)
	purchases := catalogDB.NewPurchaseRepo(d)
	testutil.InitSchemas(t, products, purchases)
	return fixture{
		svc:       NewCatalogService(products, products, purchases, zap.NewNop()),
		products:  products,
		purchases: purchases,
	}
}

func (f fixture) product(t *testing.T, name, price string, stock int) *domain.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), name, "", decimal.RequireFromString(price), stock)
	require.NoError(t, err)
	return p
}

func (f fixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

// eventTypes devuelve los tipos de evento pendientes en orden de creación.
func (f fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	pending, err := f.products.Outbox().FetchPending(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(pending))
	for _, e := range pending {
		types = append(types, e.EventType)
	}
	return types
}

func (f fixture) lastEvent(t *testing.T, eventType string) sharedDomain.OutboxEvent {
	t.Helper()
	pending, err := f.products.Outbox().FetchPending(context.Background(), 100)
	require.NoError(t, err)
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].EventType == eventType {
			return pending[i]
		}
	}
	t.Fatalf("no %s event in outbox", eventType)
	return sharedDomain.OutboxEvent{}
}

func orderCreated(orderID string, items ...events.OrderItem) events.OrderCreatedData {
	return events.OrderCreatedData{OrderID: orderID, UserID: "user-1", Items: items}
}

func item(p *domain.Product, qty int) events.OrderItem {
	return events.OrderItem{ProductID: p.ID.String(), Price: p.Price, Quantity: qty}
}

func TestReserveStock_DecrementsAndEmits(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Teclado", "50.00", 5)

	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-1", item(p, 2))))
	assert.Equal(t, 3, f.stockOf(t, p.ID))

	types := f.eventTypes(t)
	assert.Equal(t, []string{events.ProductCreated, events.ProductStockChanged, events.ProductStockReserved}, types)

	res, err := f.products.GetReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReserved, res.Status)
	assert.Equal(t, []domain.ReservedItem{{ProductID: p.ID.String(), Quantity: 2}}, res.Items)
}

func TestReserveStock_RedeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Ratón", "10.00", 5)
	evt := orderCreated("order-1", item(p, 2))

	require.NoError(t, f.svc.ReserveStock(ctx, evt))
	require.NoError(t, f.svc.ReserveStock(ctx, evt))

	assert.Equal(t, 3, f.stockOf(t, p.ID))
	assert.Len(t, f.eventTypes(t), 3)
}

func TestReserveStock_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	plenty := f.product(t, "Cable", "5.00", 10)
	scarce := f.product(t, "Monitor", "200.00", 1)

	err := f.svc.ReserveStock(ctx, orderCreated("order-1", item(plenty, 3), item(scarce, 2)))
	require.NoError(t, err, "a business rejection is not a bus error")

	// La primera línea se había descontado dentro de la transacción: debe volver atrás.
	assert.Equal(t, 10, f.stockOf(t, plenty.ID))
	assert.Equal(t, 1, f.stockOf(t, scarce.ID))

	failed := f.lastEvent(t, events.ProductStockFailed)
	var data events.StockFailedData
	require.NoError(t, json.Unmarshal(failed.Payload.(json.RawMessage), &data))
	assert.Equal(t, "order-1", data.OrderID)
	assert.Contains(t, data.Reason, "Monitor is out of stock")
	assert.NotContains(t, f.eventTypes(t), events.ProductStockReserved)

	res, err := f.products.GetReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationRejected, res.Status)
}

func TestReserveStock_ConcurrentOrdersNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	const stock, orders = 5, 20
	p := f.product(t, "Consola", "300.00", stock)

	var g errgroup.Group
	for i := 0; i < orders; i++ {
		orderID := fmt.Sprintf("order-%02d", i)
		g.Go(func() error {
			return f.svc.ReserveStock(ctx, orderCreated(orderID, item(p, 1)))
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 0, f.stockOf(t, p.ID))

	statuses := map[domain.ReservationStatus]int{}
	for i := 0; i < orders; i++ {
		res, err := f.products.GetReservation(ctx, fmt.Sprintf("order-%02d", i))
		require.NoError(t, err)
		statuses[res.Status]++
	}
	assert.Equal(t, stock, statuses[domain.ReservationReserved])
	assert.Equal(t, orders-stock, statuses[domain.ReservationRejected])

	pending, err := f.products.Outbox().FetchPending(ctx, 100)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, e := range pending {
		counts[e.EventType]++
		if e.EventType != events.ProductStockChanged {
			continue
		}
		var changed events.StockChangedData
		require.NoError(t, json.Unmarshal(e.Payload.(json.RawMessage), &changed))
		assert.GreaterOrEqual(t, changed.StockQuantity, 0)
	}
	assert.Equal(t, stock, counts[events.ProductStockReserved])
	assert.Equal(t, stock, counts[events.ProductStockChanged])
	assert.Equal(t, orders-stock, counts[events.ProductStockFailed])
}

func TestReserveStock_PriceToleranceAndInactive(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Silla", "99.99", 5)

	within := item(p, 1)
	within.Price = decimal.RequireFromString("100.00")
	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-ok", within)))
	assert.Equal(t, 4, f.stockOf(t, p.ID))

	tampered := item(p, 1)
	tampered.Price = decimal.RequireFromString("1.00")
	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-fraud", tampered)))
	assert.Equal(t, 4, f.stockOf(t, p.ID))
	res, err := f.products.GetReservation(ctx, "order-fraud")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationRejected, res.Status)
	assert.Contains(t, res.Reason, "Price mismatch")

	inactive := false
	_, err = f.svc.UpdateProduct(ctx, p.ID, ProductPatch{IsActive: &inactive})
	require.NoError(t, err)
	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-inactive", item(p, 1))))
	assert.Equal(t, 4, f.stockOf(t, p.ID))
}

func TestReserveStock_UnknownProductIsRejected(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	ghost := events.OrderItem{ProductID: uuid.NewString(), Price: decimal.NewFromInt(1), Quantity: 1}
	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-1", ghost)))

	res, err := f.products.GetReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationRejected, res.Status)
}

func TestReleaseStock_RestocksExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Lámpara", "30.00", 5)
	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-1", item(p, 2))))

	cancelled := events.OrderCancelledData{OrderID: "order-1", Reason: events.ReasonPaymentFailed}
	require.NoError(t, f.svc.ReleaseStock(ctx, cancelled))
	require.NoError(t, f.svc.ReleaseStock(ctx, cancelled))

	assert.Equal(t, 5, f.stockOf(t, p.ID))
	res, err := f.products.GetReservation(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, res.Status)
}

func TestReleaseStock_SkipsInventoryErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Mesa", "80.00", 1)
	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-1", item(p, 2))))

	require.NoError(t, f.svc.ReleaseStock(ctx, events.OrderCancelledData{OrderID: "order-1", Reason: events.ReasonInventoryError}))
	assert.Equal(t, 1, f.stockOf(t, p.ID))
}

func TestReleaseStock_TombstoneBlocksLateReservation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Funda", "12.00", 5)

	// El sweeper canceló antes de que llegara order.created.
	require.NoError(t, f.svc.ReleaseStock(ctx, events.OrderCancelledData{OrderID: "order-1", Reason: events.ReasonTimeout}))
	assert.Equal(t, 5, f.stockOf(t, p.ID))

	require.NoError(t, f.svc.ReserveStock(ctx, orderCreated("order-1", item(p, 2))))
	assert.Equal(t, 5, f.stockOf(t, p.ID))
}

func TestAdjustStock(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Cámara", "300.00", 2)

	updated, err := f.svc.AdjustStock(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.StockQuantity)

	_, err = f.svc.AdjustStock(ctx, p.ID, -6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	changed := f.lastEvent(t, events.ProductStockChanged)
	var data events.StockChangedData
	require.NoError(t, json.Unmarshal(changed.Payload.(json.RawMessage), &data))
	assert.Equal(t, 5, data.StockQuantity)
	assert.Equal(t, 2, data.PreviousStock)
}

func TestDeleteProduct(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "Altavoz", "45.00", 2)

	require.NoError(t, f.svc.DeleteProduct(ctx, p.ID))
	_, err := f.svc.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, f.svc.DeleteProduct(ctx, p.ID), domain.ErrProductNotFound)
	assert.Contains(t, f.eventTypes(t), events.ProductDeleted)
}

func TestVerifiedPurchases(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	require.NoError(t, f.svc.UpsertReviewer(ctx, events.UserVerifiedData{UserID: "user-1", Name: "Ana", Email: "ana@example.com"}))
	require.NoError(t, f.svc.UpsertReviewer(ctx, events.UserVerifiedData{UserID: "user-1", Name: "Ana María", Email: "ana@example.com"}))

	delivered := events.OrderDeliveredData{OrderID: "order-1", UserID: "user-1", Items: []events.ItemRef{{ProductID: "p-1"}, {ProductID: "p-2"}}}
	require.NoError(t, f.svc.GrantVerifiedPurchases(ctx, delivered))
	require.NoError(t, f.svc.GrantVerifiedPurchases(ctx, delivered))

	ok, reviewer, err := f.svc.VerifiedPurchase(ctx, "user-1", "p-2")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, reviewer)
	assert.Equal(t, "Ana María", reviewer.Name)

	ok, reviewer, err = f.svc.VerifiedPurchase(ctx, "user-2", "p-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, reviewer)
}
