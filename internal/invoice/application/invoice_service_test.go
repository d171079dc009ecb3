package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
	invoiceDB "github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/outbound/pdf"
	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/outbound/storage"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	"github.com/tomarrohitt/e-commerce-sub000/internal/testutil"
)

// countingStorage cuenta subidas y puede fallar a demanda.
type countingStorage struct {
	inner domain.ObjectStorage
	puts  atomic.Int32
	fail  error
}

func (s *countingStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	s.puts.Add(1)
	return s.inner.Put(ctx, key, data, contentType)
}

type fixture struct {
	svc     *InvoiceService
	repo    *invoiceDB.InvoiceRepo
	storage *countingStorage
	dir     string
}

func setup(t *testing.T) fixture {
	t.Helper()
	repo := invoiceDB.NewInvoiceRepo(testutil.OpenSQLite(t))
	testutil.InitSchemas(t, repo)
	dir := t.TempDir()
	st := &countingStorage{inner: storage.NewFilesystemStorage(dir, "https://cdn.example.com")}
	return fixture{
		svc:     NewInvoiceService(repo, st, pdf.NewRenderer(""), zap.NewNop()),
		repo:    repo,
		storage: st,
		dir:     dir,
	}
}

func paid(orderID string) events.OrderPaidData {
	return events.OrderPaidData{
		OrderID:     orderID,
		UserID:      "u-1",
		UserEmail:   "ana@example.com",
		UserName:    "Ana",
		Subtotal:    decimal.RequireFromString("100.00"),
		Tax:         decimal.RequireFromString("10.00"),
		TotalAmount: decimal.RequireFromString("110.00"),
		PaymentID:   "pi_1",
		Items: []events.OrderItem{
			{ProductID: "p-1", Name: "Teclado", Price: decimal.RequireFromString("50.00"), Quantity: 2},
		},
		ShippingAddress: events.Address{Street: "Calle Mayor 1", City: "Madrid", Country: "ES"},
		PaidAt:          time.Now().UTC(),
	}
}

func (f fixture) pendingEvents(t *testing.T) int {
	t.Helper()
	n, err := f.repo.Outbox().CountByStatus(context.Background(), sharedDomain.OutboxPending)
	require.NoError(t, err)
	return n
}

func TestOnOrderPaid_GeneratesOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	orderID := uuid.NewString()

	require.NoError(t, f.svc.OnOrderPaid(ctx, paid(orderID)))
	require.NoError(t, f.svc.OnOrderPaid(ctx, paid(orderID)))

	inv, err := f.repo.GetByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/invoices/u-1/"+orderID+".pdf", inv.PDFURL)
	assert.Equal(t, domain.StatusCompleted, inv.Status)
	assert.True(t, decimal.RequireFromString("110").Equal(inv.Amount))

	assert.Equal(t, int32(1), f.storage.puts.Load(), "redelivery must not upload again")
	assert.Equal(t, 1, f.pendingEvents(t))

	data, err := os.ReadFile(filepath.Join(f.dir, "uploads", "invoices", "u-1", orderID+".pdf"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}

func TestOnOrderPaid_StorageFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.storage.fail = errors.New("bucket unreachable")
	orderID := uuid.NewString()

	err := f.svc.OnOrderPaid(ctx, paid(orderID))
	assert.True(t, events.IsRetryable(err))
	_, err = f.repo.GetByOrderID(ctx, orderID)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
	assert.Zero(t, f.pendingEvents(t))

	f.storage.fail = nil
	require.NoError(t, f.svc.OnOrderPaid(ctx, paid(orderID)))
	assert.Equal(t, 1, f.pendingEvents(t))
}

func TestCreateWithEvent_UniquePerOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	first := domain.NewInvoice("o-1", "u-1", decimal.NewFromInt(10), "url")
	require.NoError(t, f.repo.CreateWithEvent(ctx, first, first.GeneratedEvent()))

	second := domain.NewInvoice("o-1", "u-1", decimal.NewFromInt(10), "url")
	assert.ErrorIs(t, f.repo.CreateWithEvent(ctx, second, second.GeneratedEvent()), domain.ErrInvoiceAlreadyExists)
	assert.Equal(t, 1, f.pendingEvents(t), "the losing transaction enqueues nothing")
}

func TestGetInvoice_Ownership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	orderID := uuid.NewString()
	require.NoError(t, f.svc.OnOrderPaid(ctx, paid(orderID)))

	inv, err := f.svc.GetInvoice(ctx, orderID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, orderID, inv.OrderID)

	_, err = f.svc.GetInvoice(ctx, orderID, "u-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.GetInvoice(ctx, "missing", "u-1")
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}
