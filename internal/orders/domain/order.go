package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

// ---------- Errores de dominio ----------
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrTotalMismatch    = errors.New("total amount mismatch")
	ErrOutOfStock       = errors.New("item out of stock")
	ErrCannotCancel     = errors.New("order cannot be cancelled in its current status")
	ErrInvalidStatus    = errors.New("invalid status transition")
	ErrForbidden        = errors.New("order belongs to another user")
	ErrNoPayment        = errors.New("order has no payment to refund")
	ErrAlreadyRefunded  = errors.New("order already refunded")
	ErrUserNotFound     = errors.New("user not found")
	ErrIdentityDegraded = errors.New("identity service unavailable")
)

type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusPending           Status = "PENDING" // legado, equivale a CREATED
	StatusAwaitingPayment   Status = "AWAITING_PAYMENT"
	StatusPaid              Status = "PAID"
	StatusShipped           Status = "SHIPPED"
	StatusDelivered         Status = "DELIVERED"
	StatusCancelled         Status = "CANCELLED"
	StatusFailed            Status = "FAILED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

var (
	// PrePayment son los estados que el sweeper puede cancelar por tiempo.
	PrePayment = []Status{StatusCreated, StatusPending, StatusAwaitingPayment}
	// PreTerminal son los estados desde los que la saga aún puede cancelar.
	PreTerminal = []Status{StatusCreated, StatusPending, StatusAwaitingPayment, StatusPaid}
	// UserCancellable son los estados en los que el cliente puede cancelar.
	UserCancellable = []Status{StatusCreated, StatusPending, StatusAwaitingPayment, StatusPaid, StatusPartiallyRefunded}
	// Refundable son los estados desde los que administración puede reembolsar.
	Refundable = []Status{StatusPaid, StatusShipped, StatusCancelled, StatusPartiallyRefunded}
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusCreated, StatusPending, StatusAwaitingPayment, StatusPaid, StatusShipped,
		StatusDelivered, StatusCancelled, StatusFailed, StatusRefunded, StatusPartiallyRefunded:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, s)
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

func (s Status) In(list []Status) bool {
	for _, st := range list {
		if st == s {
			return true
		}
	}
	return false
}

type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"userId"`
	UserEmail       string          `json:"userEmail"`
	UserName        string          `json:"userName"`
	Status          Status          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Items           []Item          `json:"items"`
	ShippingAddress events.Address  `json:"shippingAddress"`
	PaymentID       string          `json:"paymentId,omitempty"`
	ClientSecret    string          `json:"-"`
	InvoiceURL      string          `json:"invoiceUrl,omitempty"`
	CancelReason    string          `json:"cancelReason,omitempty"`
	Refunded        bool            `json:"refunded"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Totals calcula subtotal, impuesto (redondeado a céntimos) y total.
func Totals(items []Item, taxRate decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	tax = subtotal.Mul(taxRate).Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

func NewOrder(userID, email, name string, items []Item, address events.Address, taxRate decimal.Decimal) (*Order, error) {
	if userID == "" || len(items) == 0 {
		return nil, ErrInvalidOrder
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 || it.Price.IsNegative() {
			return nil, fmt.Errorf("%w: invalid item %q", ErrInvalidOrder, it.ProductID)
		}
	}
	subtotal, tax, total := Totals(items, taxRate)
	now := time.Now().UTC()
	return &Order{
		ID:              uuid.New(),
		UserID:          userID,
		UserEmail:       email,
		UserName:        name,
		Status:          StatusCreated,
		Subtotal:        subtotal,
		Tax:             tax,
		TotalAmount:     total,
		Items:           items,
		ShippingAddress: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ---------- Eventos ----------

func (o *Order) eventItems() []events.OrderItem {
	out := make([]events.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, events.OrderItem{ProductID: it.ProductID, Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}
	return out
}

func (o *Order) itemRefs(withQuantity bool) []events.ItemRef {
	out := make([]events.ItemRef, 0, len(o.Items))
	for _, it := range o.Items {
		ref := events.ItemRef{ProductID: it.ProductID}
		if withQuantity {
			ref.Quantity = it.Quantity
		}
		out = append(out, ref)
	}
	return out
}

func (o *Order) outbox(payload events.Payload) sharedDomain.OutboxEvent {
	return sharedDomain.NewOutboxEvent("order", o.ID.String(), payload)
}

func (o *Order) CreatedEvent() sharedDomain.OutboxEvent {
	return o.outbox(events.OrderCreatedData{
		OrderID:         o.ID.String(),
		UserID:          o.UserID,
		UserEmail:       o.UserEmail,
		UserName:        o.UserName,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		Items:           o.eventItems(),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
	})
}

func (o *Order) CancelledEvent(reason string) sharedDomain.OutboxEvent {
	return o.outbox(events.OrderCancelledData{
		OrderID:   o.ID.String(),
		UserID:    o.UserID,
		UserName:  o.UserName,
		UserEmail: o.UserEmail,
		PaymentID: o.PaymentID,
		Items:     o.itemRefs(true),
		Reason:    reason,
	})
}

func (o *Order) DeliveredEvent() sharedDomain.OutboxEvent {
	return o.outbox(events.OrderDeliveredData{
		OrderID: o.ID.String(),
		UserID:  o.UserID,
		Items:   o.itemRefs(false),
	})
}

func (o *Order) PaidEvent() sharedDomain.OutboxEvent {
	return o.outbox(events.OrderPaidData{
		OrderID:         o.ID.String(),
		UserID:          o.UserID,
		UserEmail:       o.UserEmail,
		UserName:        o.UserName,
		Subtotal:        o.Subtotal,
		Tax:             o.Tax,
		TotalAmount:     o.TotalAmount,
		PaymentID:       o.PaymentID,
		Items:           o.eventItems(),
		ShippingAddress: o.ShippingAddress,
		PaidAt:          o.UpdatedAt,
	})
}

func (o *Order) PaymentIntentCreatedEvent() sharedDomain.OutboxEvent {
	return o.outbox(events.PaymentIntentCreatedData{
		OrderID:      o.ID.String(),
		UserID:       o.UserID,
		PaymentID:    o.PaymentID,
		ClientSecret: o.ClientSecret,
	})
}

func (o *Order) PaymentIntentFailedEvent(reason string) sharedDomain.OutboxEvent {
	return o.outbox(events.PaymentIntentFailedData{
		OrderID: o.ID.String(),
		UserID:  o.UserID,
		Reason:  reason,
	})
}

// SideEffect es el evento que acompaña a una transición al estado to, si lo hay.
func (o *Order) SideEffect(to Status, reason string) (sharedDomain.OutboxEvent, bool) {
	switch to {
	case StatusCancelled:
		return o.CancelledEvent(reason), true
	case StatusDelivered:
		return o.DeliveredEvent(), true
	case StatusPaid:
		return o.PaidEvent(), true
	}
	return sharedDomain.OutboxEvent{}, false
}
