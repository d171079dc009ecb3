package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/catalog/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

// ProductPatch son los campos modificables por administración; nil = sin cambios.
type ProductPatch struct {
	Name     *string
	SKU      *string
	Price    *decimal.Decimal
	IsActive *bool
}

// CatalogService define los casos de uso de productos y del lado Catalog de la saga.
type CatalogService struct {
	products  domain.ProductRepository
	ledger    domain.StockLedger
	purchases domain.PurchaseRepository
	log       *zap.Logger
}

func NewCatalogService(products domain.ProductRepository, ledger domain.StockLedger, purchases domain.PurchaseRepository, log *zap.Logger) *CatalogService {
	return &CatalogService{products: products, ledger: ledger, purchases: purchases, log: log}
}

// ---------------- Productos ----------------

func (s *CatalogService) CreateProduct(ctx context.Context, name, sku string, price decimal.Decimal, stock int) (*domain.Product, error) {
	p, err := domain.NewProduct(name, sku, price, stock)
	if err != nil {
		return nil, err
	}
	evt := sharedDomain.NewOutboxEvent("product", p.ID.String(), events.ProductCreatedData{ProductData: p.Data()})
	if err := s.products.Create(ctx, p, evt); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id uuid.UUID, patch ProductPatch) (*domain.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.SKU != nil {
		p.SKU = *patch.SKU
	}
	if patch.Price != nil {
		if patch.Price.IsNegative() {
			return nil, domain.ErrInvalidProduct
		}
		p.Price = *patch.Price
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	p.UpdatedAt = time.Now().UTC()

	evt := sharedDomain.NewOutboxEvent("product", p.ID.String(), events.ProductUpdatedData{ProductData: p.Data(), UpdatedAt: p.UpdatedAt})
	if err := s.products.Update(ctx, p, evt); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	evt := sharedDomain.NewOutboxEvent("product", id.String(), events.ProductDeletedData{ID: id.String(), DeletedAt: time.Now().UTC()})
	return s.products.Delete(ctx, id, evt)
}

func (s *CatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.products.GetByID(ctx, id)
}

func (s *CatalogService) ListProducts(ctx context.Context, page sharedQuery.OffsetPagination) ([]*domain.Product, error) {
	return s.products.List(ctx, page)
}

// AdjustStock es el ajuste manual de administración (entrada de mercancía, mermas).
func (s *CatalogService) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*domain.Product, error) {
	return s.products.AdjustStock(ctx, id, delta)
}

// ---------------- Saga ----------------

// ReserveStock reserva todas las líneas del pedido o ninguna. Un rechazo de negocio no es un
// error para el bus: se registra en el ledger y se anuncia con product.stock_failed.
func (s *CatalogService) ReserveStock(ctx context.Context, evt events.OrderCreatedData) error {
	lines := make([]domain.ReservationLine, 0, len(evt.Items))
	for _, it := range evt.Items {
		lines = append(lines, domain.ReservationLine{ProductID: it.ProductID, Price: it.Price, Quantity: it.Quantity})
	}

	outcome, err := s.ledger.Reserve(ctx, evt.OrderID, lines)
	switch outcome {
	case domain.OutcomeAlreadyHandled:
		s.log.Info("Reserva ya gestionada, se ignora", zap.String("order_id", evt.OrderID))
		return nil
	case domain.OutcomeRejected:
		rejection, _ := domain.AsRejection(err)
		s.log.Warn("❌ Stock rechazado", zap.String("order_id", evt.OrderID), zap.String("reason", rejection.Reason))
		if _, err := s.ledger.Reject(ctx, evt.OrderID, rejection.Reason); err != nil {
			return events.Retryable(err)
		}
		return nil
	}
	if err != nil {
		return events.Retryable(err)
	}

	s.log.Info("✅ Stock reservado", zap.String("order_id", evt.OrderID), zap.Int("lines", len(lines)))
	return nil
}

// ReleaseStock repone lo reservado para un pedido cancelado. Si la cancelación vino de un fallo
// de inventario no hubo reserva y no se toca nada.
func (s *CatalogService) ReleaseStock(ctx context.Context, evt events.OrderCancelledData) error {
	if evt.Reason == events.ReasonInventoryError || evt.Reason == events.ReasonOutOfStock {
		s.log.Debug("Cancelación por inventario, sin reposición", zap.String("order_id", evt.OrderID))
		return nil
	}

	released, err := s.ledger.Release(ctx, evt.OrderID)
	if err != nil {
		return events.Retryable(err)
	}
	if len(released) > 0 {
		s.log.Info("✅ Stock repuesto", zap.String("order_id", evt.OrderID), zap.Any("items", released))
	}
	return nil
}

// GrantVerifiedPurchases habilita reseñas para los productos de un pedido entregado.
func (s *CatalogService) GrantVerifiedPurchases(ctx context.Context, evt events.OrderDeliveredData) error {
	productIDs := make([]string, 0, len(evt.Items))
	for _, it := range evt.Items {
		productIDs = append(productIDs, it.ProductID)
	}
	granted, err := s.purchases.GrantVerified(ctx, evt.OrderID, evt.UserID, productIDs)
	if err != nil {
		return events.Retryable(err)
	}
	s.log.Info("Compras verificadas", zap.String("order_id", evt.OrderID), zap.Int("granted", granted))
	return nil
}

func (s *CatalogService) UpsertReviewer(ctx context.Context, evt events.UserVerifiedData) error {
	err := s.purchases.UpsertReviewer(ctx, domain.Reviewer{
		UserID:    evt.UserID,
		Name:      evt.Name,
		Email:     evt.Email,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return events.Retryable(err)
	}
	return nil
}

// VerifiedPurchase indica si el usuario compró (y recibió) el producto.
func (s *CatalogService) VerifiedPurchase(ctx context.Context, userID, productID string) (bool, *domain.Reviewer, error) {
	ok, err := s.purchases.IsVerified(ctx, userID, productID)
	if err != nil {
		return false, nil, err
	}
	reviewer, err := s.purchases.GetReviewer(ctx, userID)
	if errors.Is(err, domain.ErrReviewerNotFound) {
		return ok, nil, nil
	}
	return ok, reviewer, err
}
