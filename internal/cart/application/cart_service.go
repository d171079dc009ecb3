package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

// CartLine es una línea enriquecida con los datos actuales de la réplica.
type CartLine struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	StockQuantity int             `json:"stockQuantity"`
	LineTotal     decimal.Decimal `json:"lineTotal"`
	AddedAt       time.Time       `json:"addedAt"`
}

type CartView struct {
	Items       []CartLine      `json:"items"`
	TotalItems  int             `json:"totalItems"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type CartService struct {
	store    domain.CartStore
	replicas domain.ReplicaRepository
	taxRate  decimal.Decimal
	log      *zap.Logger
}

func NewCartService(store domain.CartStore, replicas domain.ReplicaRepository, taxRate decimal.Decimal, logger *zap.Logger) *CartService {
	return &CartService{store: store, replicas: replicas, taxRate: taxRate, log: logger}
}

func (s *CartService) availableProduct(ctx context.Context, productID string) (*domain.ProductReplica, error) {
	p, err := s.replicas.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrProductUnavailable
	}
	return p, nil
}

func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	p, err := s.availableProduct(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > p.StockQuantity {
		return fmt.Errorf("%w: only %d items in stock", domain.ErrInsufficientStock, p.StockQuantity)
	}

	existing, err := s.store.GetItem(ctx, userID, productID)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.store.PutItem(ctx, userID, domain.CartItem{ProductID: productID, Quantity: quantity, AddedAt: time.Now().UTC()})
	}

	total := existing.Quantity + quantity
	if total > p.StockQuantity {
		remaining := p.StockQuantity - existing.Quantity
		if remaining <= 0 {
			return fmt.Errorf("%w: you already have the maximum available stock (%d) in your cart", domain.ErrInsufficientStock, p.StockQuantity)
		}
		return fmt.Errorf("%w: you have %d in your cart, you can only add %d more", domain.ErrInsufficientStock, existing.Quantity, remaining)
	}
	return s.store.UpdateQuantity(ctx, userID, productID, total)
}

func (s *CartService) UpdateItem(ctx context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	p, err := s.availableProduct(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > p.StockQuantity {
		return fmt.Errorf("%w: cannot update to %d, only %d items left", domain.ErrInsufficientStock, quantity, p.StockQuantity)
	}
	return s.store.UpdateQuantity(ctx, userID, productID, quantity)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) error {
	return s.store.RemoveItem(ctx, userID, productID)
}

func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	return s.store.Clear(ctx, userID)
}

func (s *CartService) ItemCount(ctx context.Context, userID string) (int, error) {
	return s.store.Count(ctx, userID)
}

// GetCart calcula el carrito con precios de la réplica. Los productos que ya no existen
// se quitan y las cantidades por encima del stock se recortan (y se persisten).
// Las líneas sin stock se muestran pero no suman.
func (s *CartService) GetCart(ctx context.Context, userID string) (*CartView, error) {
	view := &CartView{Items: []CartLine{}, Subtotal: decimal.Zero, Tax: decimal.Zero, TotalAmount: decimal.Zero}

	items, err := s.store.Items(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return view, nil
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.replicas.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			if err := s.store.RemoveItem(ctx, userID, it.ProductID); err != nil {
				return nil, err
			}
			continue
		}

		line := CartLine{
			ProductID:     it.ProductID,
			Name:          p.Name,
			Price:         p.Price,
			Quantity:      it.Quantity,
			StockQuantity: p.StockQuantity,
			LineTotal:     decimal.Zero,
			AddedAt:       it.AddedAt,
		}
		if p.StockQuantity > 0 {
			if it.Quantity > p.StockQuantity {
				line.Quantity = p.StockQuantity
				if err := s.store.UpdateQuantity(ctx, userID, it.ProductID, line.Quantity); err != nil {
					return nil, err
				}
			}
			line.LineTotal = p.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			view.Subtotal = view.Subtotal.Add(line.LineTotal)
		}
		view.Items = append(view.Items, line)
	}

	view.TotalItems = len(view.Items)
	view.Tax = view.Subtotal.Mul(s.taxRate).Round(2)
	view.TotalAmount = view.Subtotal.Add(view.Tax)
	return view, nil
}

// ValidateCart comprueba que el carrito se puede convertir en pedido.
func (s *CartService) ValidateCart(ctx context.Context, userID string) (*Validation, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return &Validation{Valid: false, Errors: []string{"Cart is empty"}}, nil
	}

	problems := []string{}
	for _, line := range cart.Items {
		switch {
		case line.StockQuantity == 0:
			problems = append(problems, fmt.Sprintf("%q is out of stock", line.Name))
		case line.Quantity > line.StockQuantity:
			problems = append(problems, fmt.Sprintf("%q only has %d items left in stock", line.Name, line.StockQuantity))
		}
	}
	return &Validation{Valid: len(problems) == 0, Errors: problems}, nil
}

// ------------------ Consumidores ------------------

// OnOrderCreated vacía el carrito del comprador. Vaciar dos veces es inocuo.
func (s *CartService) OnOrderCreated(ctx context.Context, evt events.OrderCreatedData) error {
	if err := s.store.Clear(ctx, evt.UserID); err != nil {
		return events.Retryable(err)
	}
	s.log.Info("🛒 Carrito vaciado", zap.String("user_id", evt.UserID), zap.String("order_id", evt.OrderID))
	return nil
}

func (s *CartService) OnProductCreated(ctx context.Context, evt events.ProductCreatedData) error {
	return s.upsert(ctx, evt.ProductData)
}

func (s *CartService) OnProductUpdated(ctx context.Context, evt events.ProductUpdatedData) error {
	return s.upsert(ctx, evt.ProductData)
}

// OnStockChanged actualiza stock, precio y estado. Si el producto aún no estaba replicado
// y el evento trae nombre, se crea.
func (s *CartService) OnStockChanged(ctx context.Context, evt events.StockChangedData) error {
	updated, err := s.replicas.UpdateStock(ctx, evt.ID, evt.StockQuantity, evt.Price, evt.IsActive)
	if err != nil {
		return events.Retryable(err)
	}
	if updated || evt.Name == "" {
		return nil
	}
	return s.upsert(ctx, events.ProductData{
		ID:            evt.ID,
		Name:          evt.Name,
		Price:         evt.Price,
		StockQuantity: evt.StockQuantity,
		IsActive:      evt.IsActive,
	})
}

func (s *CartService) OnProductDeleted(ctx context.Context, evt events.ProductDeletedData) error {
	if err := s.replicas.Delete(ctx, evt.ID); err != nil {
		return events.Retryable(err)
	}
	return nil
}

func (s *CartService) upsert(ctx context.Context, p events.ProductData) error {
	err := s.replicas.Upsert(ctx, domain.ProductReplica{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return events.Retryable(err)
	}
	return nil
}
