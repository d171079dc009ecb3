package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

// ---------- Errores de dominio ----------
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// PriceTolerance es la diferencia máxima aceptada entre el precio del pedido y el del catálogo.
var PriceTolerance = decimal.RequireFromString("0.01")

type Product struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func NewProduct(name, sku string, price decimal.Decimal, stock int) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || price.IsNegative() || stock < 0 {
		return nil, ErrInvalidProduct
	}
	now := time.Now().UTC()
	return &Product{
		ID:            uuid.New(),
		Name:          name,
		SKU:           strings.TrimSpace(sku),
		Price:         price,
		StockQuantity: stock,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Data es la foto del producto que viaja en los eventos product.*.
func (p *Product) Data() events.ProductData {
	return events.ProductData{
		ID:            p.ID.String(),
		Name:          p.Name,
		SKU:           p.SKU,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt,
	}
}

func (p *Product) StockChanged(previous int) events.StockChangedData {
	return events.StockChangedData{
		ID:            p.ID.String(),
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		PreviousStock: previous,
		IsActive:      p.IsActive,
	}
}

// ProductRepository persiste productos; cada escritura encola su evento en la misma transacción.
type ProductRepository interface {
	Create(ctx context.Context, p *Product, evt sharedDomain.OutboxEvent) error
	Update(ctx context.Context, p *Product, evt sharedDomain.OutboxEvent) error
	Delete(ctx context.Context, id uuid.UUID, evt sharedDomain.OutboxEvent) error
	// Debe devolver ErrProductNotFound si no existe o está borrado.
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	List(ctx context.Context, page sharedQuery.OffsetPagination) ([]*Product, error)
	// AdjustStock suma delta al stock y encola product.stock_changed. ErrInsufficientStock si queda negativo.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*Product, error)
}
