package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedCache "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/cache"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

// TotalTolerance es la diferencia máxima admitida entre el total del cliente y el recalculado.
var TotalTolerance = decimal.RequireFromString("0.05")

// PlaceOrderInput es lo que envía el cliente al confirmar el checkout.
type PlaceOrderInput struct {
	UserID          string
	Items           []domain.Item
	ShippingAddress events.Address
	// TotalAmount es opcional; si viene se compara con el recalculado.
	TotalAmount *decimal.Decimal
}

// PaymentStatusView es el estado de pago que ve el cliente.
type PaymentStatusView struct {
	OrderID      string              `json:"orderId"`
	Status       domain.Status       `json:"status"`
	PaymentID    string              `json:"paymentId,omitempty"`
	ClientSecret string              `json:"clientSecret,omitempty"`
	IntentStatus domain.IntentStatus `json:"intentStatus,omitempty"`
}

// OrderService agrupa los casos de uso del cliente y los pasos de saga que posee Orders.
type OrderService struct {
	repo     domain.OrderRepository
	gateway  domain.PaymentGateway
	users    domain.UserDirectory
	stock    sharedCache.Counter
	taxRate  decimal.Decimal
	currency string
	log      *zap.Logger
}

func NewOrderService(
	repo domain.OrderRepository,
	gateway domain.PaymentGateway,
	users domain.UserDirectory,
	stock sharedCache.Counter,
	taxRate decimal.Decimal,
	currency string,
	log *zap.Logger,
) *OrderService {
	if currency == "" {
		currency = "usd"
	}
	return &OrderService{
		repo:     repo,
		gateway:  gateway,
		users:    users,
		stock:    stock,
		taxRate:  taxRate,
		currency: currency,
		log:      log,
	}
}

// PlaceOrder valida el pedido, aplica la compuerta de stock y lo guarda junto con order.created.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	customer, err := s.users.Lookup(ctx, in.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		s.log.Warn("⚠️ Identity no disponible", zap.String("user_id", in.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrIdentityDegraded, err)
	}

	order, err := domain.NewOrder(customer.ID, customer.Email, customer.Name, in.Items, in.ShippingAddress, s.taxRate)
	if err != nil {
		return nil, err
	}
	if in.TotalAmount != nil && in.TotalAmount.Sub(order.TotalAmount).Abs().GreaterThan(TotalTolerance) {
		return nil, fmt.Errorf("%w: expected %s, got %s", domain.ErrTotalMismatch, order.TotalAmount.StringFixed(2), in.TotalAmount.String())
	}

	gated, err := s.gateStock(ctx, order.Items)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, order); err != nil {
		s.restoreStock(ctx, gated)
		return nil, err
	}

	s.log.Info("✅ Pedido creado", zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID), zap.String("total", order.TotalAmount.StringFixed(2)))
	return order, nil
}

// gateStock descuenta stock:{id} de forma provisional. Las claves ausentes no se controlan;
// la reserva real la hace Catalog.
func (s *OrderService) gateStock(ctx context.Context, items []domain.Item) ([]domain.Item, error) {
	if s.stock == nil {
		return nil, nil
	}
	var gated []domain.Item
	for _, it := range items {
		remaining, found, err := s.stock.DecrIfExists(ctx, StockKey(it.ProductID), int64(it.Quantity))
		if err != nil {
			s.log.Warn("⚠️ Compuerta de stock no disponible", zap.Error(err))
			s.restoreStock(ctx, gated)
			return nil, nil
		}
		if !found {
			continue
		}
		if remaining < 0 {
			s.restoreStock(ctx, append(gated, it))
			return nil, fmt.Errorf("%w: %s", domain.ErrOutOfStock, it.ProductID)
		}
		gated = append(gated, it)
	}
	return gated, nil
}

func (s *OrderService) restoreStock(ctx context.Context, items []domain.Item) {
	for _, it := range items {
		if err := s.stock.IncrIfExists(ctx, StockKey(it.ProductID), int64(it.Quantity)); err != nil {
			s.log.Warn("No se pudo devolver stock a la compuerta", zap.String("product_id", it.ProductID), zap.Error(err))
		}
	}
}

func (s *OrderService) GetOrder(ctx context.Context, userID string, id uuid.UUID) (*domain.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return o, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID string, status string, page sharedQuery.OffsetPagination) ([]*domain.Order, int, error) {
	filters := []sharedDomain.Criteria{sharedDomain.Eq("user_id", userID)}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return nil, 0, err
		}
		filters = append(filters, sharedDomain.Eq("status", st))
	}
	return s.repo.List(ctx, sharedDomain.And(filters...), sharedQuery.Sort{Field: "created_at", Desc: true}, page)
}

// CancelOrder cancela a petición del cliente. La compensación (stock, pago) la disparan los
// consumidores de order.cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, userID string, id uuid.UUID) (*domain.Order, error) {
	o, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.In(domain.UserCancellable) {
		return nil, fmt.Errorf("%w: status %s", domain.ErrCannotCancel, o.Status)
	}

	applied, err := s.repo.TransitionStatus(ctx, id, domain.UserCancellable, domain.StatusCancelled, events.ReasonUserRequested)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domain.ErrCannotCancel
	}
	s.log.Info("Pedido cancelado por el cliente", zap.String("order_id", id.String()))
	return s.repo.GetByID(ctx, id)
}

// PaymentStatus devuelve el estado del pedido y, si hay intent, su estado en el proveedor.
func (s *OrderService) PaymentStatus(ctx context.Context, userID string, id uuid.UUID) (*PaymentStatusView, error) {
	o, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	view := &PaymentStatusView{OrderID: o.ID.String(), Status: o.Status, PaymentID: o.PaymentID}
	if o.PaymentID == "" {
		return view, nil
	}
	if !o.Status.IsTerminal() {
		view.ClientSecret = o.ClientSecret
	}
	intent, err := s.gateway.GetIntent(ctx, o.PaymentID)
	if err != nil {
		return nil, err
	}
	view.IntentStatus = intent.Status
	return view, nil
}
