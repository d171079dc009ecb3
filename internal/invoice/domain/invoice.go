package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

const StatusCompleted = "COMPLETED"

type Invoice struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	PDFURL    string          `json:"pdfUrl"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func NewInvoice(orderID, userID string, amount decimal.Decimal, url string) *Invoice {
	now := time.Now().UTC()
	return &Invoice{
		ID:        uuid.New(),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Status:    StatusCompleted,
		PDFURL:    url,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GeneratedEvent se publica con la factura ya guardada.
func (i *Invoice) GeneratedEvent() sharedDomain.OutboxEvent {
	return sharedDomain.NewOutboxEvent("invoice", i.OrderID, events.InvoiceGeneratedData{
		InvoiceID:  i.ID.String(),
		OrderID:    i.OrderID,
		UserID:     i.UserID,
		InvoiceURL: i.PDFURL,
	})
}

// StorageKey es la ruta del PDF en el almacenamiento de objetos.
func StorageKey(userID, orderID string) string {
	return "uploads/invoices/" + userID + "/" + orderID + ".pdf"
}

type InvoiceRepository interface {
	GetByOrderID(ctx context.Context, orderID string) (*Invoice, error)
	// CreateWithEvent guarda la factura y encola invoice.generated en la misma transacción.
	// Devuelve ErrInvoiceAlreadyExists si el pedido ya tiene factura.
	CreateWithEvent(ctx context.Context, inv *Invoice, evt sharedDomain.OutboxEvent) error
}

// ObjectStorage sube el documento y devuelve la URL pública.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type PDFRenderer interface {
	Render(order events.OrderPaidData, invoiceID uuid.UUID) ([]byte, error)
}

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceAlreadyExists = errors.New("invoice already exists")
	ErrForbidden            = errors.New("invoice belongs to another user")
)
