package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

// adminTransitions indica desde qué estados puede administración llevar un pedido a cada destino.
var adminTransitions = map[domain.Status][]domain.Status{
	domain.StatusShipped:   {domain.StatusPaid},
	domain.StatusDelivered: {domain.StatusShipped, domain.StatusPaid},
	domain.StatusCancelled: {
		domain.StatusCreated, domain.StatusPending, domain.StatusAwaitingPayment,
		domain.StatusPaid, domain.StatusShipped, domain.StatusPartiallyRefunded,
	},
}

// OrderFilter son los filtros del listado de administración.
type OrderFilter struct {
	Status string
	UserID string
}

func (f OrderFilter) criteria() (sharedDomain.Criteria, error) {
	var filters []sharedDomain.Criteria
	if f.Status != "" {
		st, err := domain.ParseStatus(f.Status)
		if err != nil {
			return nil, err
		}
		filters = append(filters, sharedDomain.Eq("status", st))
	}
	if f.UserID != "" {
		filters = append(filters, sharedDomain.Eq("user_id", f.UserID))
	}
	return sharedDomain.And(filters...), nil
}

type AdminService struct {
	repo    domain.OrderRepository
	gateway domain.PaymentGateway
	log     *zap.Logger
}

func NewAdminService(repo domain.OrderRepository, gateway domain.PaymentGateway, log *zap.Logger) *AdminService {
	return &AdminService{repo: repo, gateway: gateway, log: log}
}

func (s *AdminService) ListOrders(ctx context.Context, filter OrderFilter, sort sharedQuery.Sort, page sharedQuery.OffsetPagination) ([]*domain.Order, int, error) {
	criteria, err := filter.criteria()
	if err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, criteria, sort, page)
}

func (s *AdminService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateStatus aplica una transición manual. DELIVERED y CANCELLED encolan su evento en el repo.
func (s *AdminService) UpdateStatus(ctx context.Context, id uuid.UUID, to domain.Status) (*domain.Order, error) {
	from, ok := adminTransitions[to]
	if !ok {
		return nil, fmt.Errorf("%w: cannot set %s manually", domain.ErrInvalidStatus, to)
	}
	reason := ""
	if to == domain.StatusCancelled {
		reason = events.ReasonAdminCancelled
	}

	applied, err := s.repo.TransitionStatus(ctx, id, from, to, reason)
	if err != nil {
		return nil, err
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatus, o.Status, to)
	}
	s.log.Info("Estado actualizado por administración", zap.String("order_id", id.String()), zap.String("status", string(to)))
	return o, nil
}

// Refund reembolsa el pedido completo. Si el proveedor no encuentra cargo, anula el intent.
func (s *AdminService) Refund(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Refunded || o.Status == domain.StatusRefunded {
		return nil, domain.ErrAlreadyRefunded
	}
	if !o.Status.In(domain.Refundable) {
		return nil, fmt.Errorf("%w: cannot refund %s order", domain.ErrInvalidStatus, o.Status)
	}
	if o.PaymentID == "" {
		return nil, domain.ErrNoPayment
	}

	claimed, err := s.repo.ClaimRefund(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrAlreadyRefunded
	}

	if err := s.refundOrCancel(ctx, o); err != nil {
		if relErr := s.repo.ReleaseRefundClaim(ctx, id); relErr != nil {
			s.log.Error("No se pudo liberar el claim de reembolso", zap.String("order_id", id.String()), zap.Error(relErr))
		}
		return nil, err
	}

	if _, err := s.repo.TransitionStatus(ctx, id, domain.Refundable, domain.StatusRefunded, ""); err != nil {
		return nil, err
	}
	s.log.Info("💸 Reembolso de administración", zap.String("order_id", id.String()), zap.String("payment_id", o.PaymentID))
	return s.repo.GetByID(ctx, id)
}

func (s *AdminService) refundOrCancel(ctx context.Context, o *domain.Order) error {
	err := s.gateway.Refund(ctx, o.PaymentID, "refund-"+o.ID.String())
	if err == nil {
		return nil
	}
	g, ok := domain.AsGatewayError(err)
	if !ok || (g.Code != domain.CodeChargeNotFound && !g.Fatal()) {
		return err
	}
	s.log.Info("Sin cargo, se anula el intent", zap.String("order_id", o.ID.String()), zap.String("code", g.Code))
	return s.gateway.CancelIntent(ctx, o.PaymentID)
}
