package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

const contentTypePDF = "application/pdf"

type InvoiceService struct {
	repo     domain.InvoiceRepository
	storage  domain.ObjectStorage
	renderer domain.PDFRenderer
	log      *zap.Logger
}

func NewInvoiceService(repo domain.InvoiceRepository, storage domain.ObjectStorage, renderer domain.PDFRenderer, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{repo: repo, storage: storage, renderer: renderer, log: logger}
}

// OnOrderPaid genera la factura una sola vez por pedido. Una redelivery encuentra la factura
// y no hace nada; si dos entregas compiten, la clave única sobre order_id decide.
// La subida repetida sobrescribe el mismo objeto.
func (s *InvoiceService) OnOrderPaid(ctx context.Context, evt events.OrderPaidData) error {
	existing, err := s.repo.GetByOrderID(ctx, evt.OrderID)
	if err == nil {
		s.log.Info("Invoice already generated, skipping", zap.String("order_id", evt.OrderID), zap.String("invoice_id", existing.ID.String()))
		return nil
	}
	if !errors.Is(err, domain.ErrInvoiceNotFound) {
		return events.Retryable(err)
	}

	invoiceID := uuid.New()
	pdf, err := s.renderer.Render(evt, invoiceID)
	if err != nil {
		return events.Fatal(fmt.Errorf("render invoice %s: %w", evt.OrderID, err))
	}

	url, err := s.storage.Put(ctx, domain.StorageKey(evt.UserID, evt.OrderID), pdf, contentTypePDF)
	if err != nil {
		return events.Retryable(fmt.Errorf("upload invoice %s: %w", evt.OrderID, err))
	}

	inv := domain.NewInvoice(evt.OrderID, evt.UserID, evt.TotalAmount, url)
	inv.ID = invoiceID
	if err := s.repo.CreateWithEvent(ctx, inv, inv.GeneratedEvent()); err != nil {
		if errors.Is(err, domain.ErrInvoiceAlreadyExists) {
			s.log.Warn("⚠️ Invoice created concurrently, skipping", zap.String("order_id", evt.OrderID))
			return nil
		}
		return events.Retryable(err)
	}

	s.log.Info("✅ Invoice generated",
		zap.String("order_id", evt.OrderID),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("url", url),
	)
	return nil
}

// GetInvoice devuelve la factura del pedido si pertenece al usuario.
func (s *InvoiceService) GetInvoice(ctx context.Context, orderID, userID string) (*domain.Invoice, error) {
	inv, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return inv, nil
}
