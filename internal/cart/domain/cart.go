package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CartItem es una línea del carrito. El precio no se guarda: sale siempre de la réplica.
type CartItem struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// ProductReplica es la copia local del producto que mantiene el consumidor de product.*.
type ProductReplica struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	IsActive      bool            `json:"isActive"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// CartStore guarda las líneas de cada usuario (hash cart:{userId} con TTL).
type CartStore interface {
	GetItem(ctx context.Context, userID, productID string) (*CartItem, error)
	Items(ctx context.Context, userID string) ([]CartItem, error)
	PutItem(ctx context.Context, userID string, item CartItem) error
	// UpdateQuantity devuelve ErrItemNotInCart si la línea no existe.
	UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
	Count(ctx context.Context, userID string) (int, error)
}

type ReplicaRepository interface {
	Upsert(ctx context.Context, p ProductReplica) error
	// UpdateStock sólo toca filas existentes; false si el producto no está replicado.
	UpdateStock(ctx context.Context, id string, stock int, price decimal.Decimal, isActive bool) (bool, error)
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*ProductReplica, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]ProductReplica, error)
}

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrItemNotInCart      = errors.New("item not in cart")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)
