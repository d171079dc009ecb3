package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

// OrderRepository persiste pedidos. Todas las transiciones son condicionales sobre el estado
// actual y encolan su evento (SideEffect) en la misma transacción.
type OrderRepository interface {
	// Create guarda pedido, líneas y order.created.
	Create(ctx context.Context, o *Order) error
	// Debe devolver ErrOrderNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, criteria sharedDomain.Criteria, sort sharedQuery.Sort, page sharedQuery.OffsetPagination) ([]*Order, int, error)
	// TransitionStatus aplica from -> to sólo si el estado actual está en from. applied=false
	// significa que otro actor llegó antes y no se ha tocado nada.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, reason string, extra ...sharedDomain.OutboxEvent) (bool, error)
	// AttachPayment guarda el intent sólo si el pedido aún no tiene uno y no es terminal.
	AttachPayment(ctx context.Context, id uuid.UUID, paymentID, clientSecret string, extra ...sharedDomain.OutboxEvent) (bool, error)
	// ClaimRefund marca refunded=true si aún no lo estaba. Sólo quien gana el claim reembolsa.
	ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseRefundClaim deshace el claim cuando el reembolso no llegó a hacerse.
	ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error
	SetInvoiceURL(ctx context.Context, id uuid.UUID, url string) error
	// Enqueue encola un evento sin cambiar el pedido.
	Enqueue(ctx context.Context, evt sharedDomain.OutboxEvent) error
	// ListStale devuelve hasta limit pedidos en statuses creados antes de olderThan.
	ListStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]*Order, error)
}

// Customer es lo que Orders necesita saber del usuario que compra.
type Customer struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// UserDirectory consulta Identity. Las implementaciones van protegidas por circuit breaker.
type UserDirectory interface {
	// Debe devolver ErrUserNotFound si el usuario no existe.
	Lookup(ctx context.Context, userID string) (*Customer, error)
}
