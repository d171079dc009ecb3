package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationRejected ReservationStatus = "REJECTED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// ReservationLine es una línea de pedido tal como llega en order.created.
type ReservationLine struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

type ReservedItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Reservation es la fila del ledger por pedido. Un RELEASED sin items es una lápida:
// el pedido se canceló antes de reservar y un order.created tardío ya no reserva.
type Reservation struct {
	OrderID   string
	Status    ReservationStatus
	Items     []ReservedItem
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RejectionError es un fallo de negocio: la reserva no se hace y se emite product.stock_failed.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func Reject(format string, args ...interface{}) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

func AsRejection(err error) (*RejectionError, bool) {
	var r *RejectionError
	ok := errors.As(err, &r)
	return r, ok
}

// CheckLine valida una línea contra el producto leído dentro de la transacción.
func CheckLine(p *Product, line ReservationLine) error {
	if p == nil {
		return Reject("Product %s not found", line.ProductID)
	}
	if !p.IsActive {
		return Reject("Product %s is not available", p.Name)
	}
	if p.StockQuantity < line.Quantity {
		return Reject("Product %s is out of stock", p.Name)
	}
	if p.Price.Sub(line.Price).Abs().GreaterThan(PriceTolerance) {
		return Reject("Price mismatch for %s. Real price: %s", p.Name, p.Price.StringFixed(2))
	}
	return nil
}

// ReservationOutcome indica qué hizo ReserveStock con el pedido.
type ReservationOutcome int

const (
	OutcomeReserved ReservationOutcome = iota
	OutcomeRejected
	// OutcomeAlreadyHandled: el ledger ya tenía una fila (redelivery o lápida).
	OutcomeAlreadyHandled
)

// StockLedger agrupa las operaciones de reserva, todas o ninguna por pedido.
type StockLedger interface {
	GetReservation(ctx context.Context, orderID string) (*Reservation, error)
	// Reserve descuenta todas las líneas en una sola transacción, escribe RESERVED y encola
	// product.stock_changed por producto y product.stock_reserved. Devuelve *RejectionError sin
	// tocar nada si alguna línea falla, y OutcomeAlreadyHandled si el ledger ya tenía el pedido.
	Reserve(ctx context.Context, orderID string, lines []ReservationLine) (ReservationOutcome, error)
	// Reject escribe REJECTED y encola product.stock_failed. No hace nada si ya hay fila.
	Reject(ctx context.Context, orderID, reason string) (bool, error)
	// Release repone exactamente lo RESERVED, marca RELEASED y encola product.stock_changed.
	// Sin fila previa escribe la lápida. Devuelve los items repuestos.
	Release(ctx context.Context, orderID string) ([]ReservedItem, error)
}

var ErrReservationNotFound = errors.New("reservation not found")
