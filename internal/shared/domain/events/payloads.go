package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de evento. Son también las routing keys del exchange.
const (
	OrderCreated              = "order.created"
	OrderCancelled            = "order.cancelled"
	OrderDelivered            = "order.delivered"
	OrderPaid                 = "order.paid"
	OrderPaymentIntentCreated = "order.payment_intent_created"
	OrderPaymentIntentFailed  = "order.payment_intent_failed"

	ProductCreated       = "product.created"
	ProductUpdated       = "product.updated"
	ProductDeleted       = "product.deleted"
	ProductStockChanged  = "product.stock_changed"
	ProductStockReserved = "product.stock_reserved"
	ProductStockFailed   = "product.stock_failed"

	InvoiceGenerated = "invoice.generated"

	UserRegistered = "user.registered"
	UserVerified   = "user.verified"
)

// Motivos de cancelación con significado para la compensación de stock.
const (
	ReasonInventoryError = "Inventory Error"
	ReasonOutOfStock     = "Out of Stock"
	ReasonPaymentFailed  = "Payment Failed"
	ReasonTimeout        = "Timeout"
	ReasonUserRequested  = "User Requested"
	ReasonAdminCancelled = "Admin Cancelled"
)

// Payload es la unión etiquetada de todos los datos de evento conocidos.
type Payload interface {
	EventType() string
	Validate() error
}

// ------------------ Piezas comunes ------------------

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type ItemRef struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	}
	return nil
}

// ------------------ Orders ------------------

type OrderCreatedData struct {
	OrderID         string          `json:"orderId"`
	UserID          string          `json:"userId"`
	UserEmail       string          `json:"userEmail"`
	UserName        string          `json:"userName"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          string          `json:"status"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress Address         `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (OrderCreatedData) EventType() string { return OrderCreated }

func (d OrderCreatedData) Validate() error {
	if err := required("orderId", d.OrderID); err != nil {
		return err
	}
	if err := required("userId", d.UserID); err != nil {
		return err
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: order without items", ErrInvalidPayload)
	}
	for _, it := range d.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return fmt.Errorf("%w: invalid item %q", ErrInvalidPayload, it.ProductID)
		}
	}
	return nil
}

type OrderCancelledData struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
	PaymentID string    `json:"paymentId,omitempty"`
	Items     []ItemRef `json:"items"`
	Reason    string    `json:"reason,omitempty"`
}

func (OrderCancelledData) EventType() string { return OrderCancelled }
func (d OrderCancelledData) Validate() error { return required("orderId", d.OrderID) }

type OrderDeliveredData struct {
	OrderID string    `json:"orderId"`
	UserID  string    `json:"userId"`
	Items   []ItemRef `json:"items"`
}

func (OrderDeliveredData) EventType() string { return OrderDelivered }

func (d OrderDeliveredData) Validate() error {
	if err := required("orderId", d.OrderID); err != nil {
		return err
	}
	return required("userId", d.UserID)
}

type OrderPaidData struct {
	OrderID         string          `json:"orderId"`
	UserID          string          `json:"userId"`
	UserEmail       string          `json:"userEmail"`
	UserName        string          `json:"userName"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PaymentID       string          `json:"paymentId"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress Address         `json:"shippingAddress"`
	PaidAt          time.Time       `json:"paidAt"`
}

func (OrderPaidData) EventType() string { return OrderPaid }

func (d OrderPaidData) Validate() error {
	if err := required("orderId", d.OrderID); err != nil {
		return err
	}
	return required("userId", d.UserID)
}

type PaymentIntentCreatedData struct {
	OrderID      string `json:"orderId"`
	UserID       string `json:"userId"`
	PaymentID    string `json:"paymentId"`
	ClientSecret string `json:"clientSecret"`
}

func (PaymentIntentCreatedData) EventType() string { return OrderPaymentIntentCreated }
func (d PaymentIntentCreatedData) Validate() error { return required("orderId", d.OrderID) }

type PaymentIntentFailedData struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason,omitempty"`
}

func (PaymentIntentFailedData) EventType() string { return OrderPaymentIntentFailed }
func (d PaymentIntentFailedData) Validate() error { return required("orderId", d.OrderID) }

// ------------------ Catalog ------------------

type ProductData struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type ProductCreatedData struct {
	ProductData
}

func (ProductCreatedData) EventType() string { return ProductCreated }
func (d ProductCreatedData) Validate() error { return required("id", d.ID) }

type ProductUpdatedData struct {
	ProductData
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ProductUpdatedData) EventType() string { return ProductUpdated }
func (d ProductUpdatedData) Validate() error { return required("id", d.ID) }

type ProductDeletedData struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (ProductDeletedData) EventType() string { return ProductDeleted }
func (d ProductDeletedData) Validate() error { return required("id", d.ID) }

type StockChangedData struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	PreviousStock int             `json:"previousStock"`
	IsActive      bool            `json:"isActive"`
}

func (StockChangedData) EventType() string { return ProductStockChanged }

func (d StockChangedData) Validate() error {
	if d.StockQuantity < 0 {
		return fmt.Errorf("%w: negative stock for %s", ErrInvalidPayload, d.ID)
	}
	return required("id", d.ID)
}

type StockReservedData struct {
	OrderID   string    `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
}

func (StockReservedData) EventType() string { return ProductStockReserved }
func (d StockReservedData) Validate() error { return required("orderId", d.OrderID) }

type StockFailedData struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (StockFailedData) EventType() string { return ProductStockFailed }
func (d StockFailedData) Validate() error { return required("orderId", d.OrderID) }

// ------------------ Invoice ------------------

type InvoiceGeneratedData struct {
	InvoiceID  string `json:"invoiceId"`
	OrderID    string `json:"orderId"`
	UserID     string `json:"userId"`
	InvoiceURL string `json:"invoiceUrl"`
}

func (InvoiceGeneratedData) EventType() string { return InvoiceGenerated }

func (d InvoiceGeneratedData) Validate() error {
	if err := required("orderId", d.OrderID); err != nil {
		return err
	}
	return required("invoiceUrl", d.InvoiceURL)
}

// ------------------ Identity ------------------

type UserRegisteredData struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Link   string `json:"link"`
}

func (UserRegisteredData) EventType() string { return UserRegistered }
func (d UserRegisteredData) Validate() error { return required("userId", d.UserID) }

type UserVerifiedData struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (UserVerifiedData) EventType() string { return UserVerified }
func (d UserVerifiedData) Validate() error { return required("userId", d.UserID) }
