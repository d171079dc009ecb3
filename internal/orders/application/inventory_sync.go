package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedCache "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/cache"
)

// StockKey es la clave del contador de stock que consulta la compuerta de PlaceOrder.
func StockKey(productID string) string {
	return sharedCache.Key("stock", productID)
}

// InventorySync mantiene stock:{id} al día con los eventos de Catalog.
type InventorySync struct {
	counter sharedCache.Counter
	log     *zap.Logger
}

func NewInventorySync(counter sharedCache.Counter, log *zap.Logger) *InventorySync {
	return &InventorySync{counter: counter, log: log}
}

func (s *InventorySync) Apply(ctx context.Context, productID string, stock int) error {
	if err := s.counter.SetCount(ctx, StockKey(productID), int64(stock)); err != nil {
		return events.Retryable(err)
	}
	s.log.Debug("Stock sincronizado", zap.String("product_id", productID), zap.Int("stock", stock))
	return nil
}

func (s *InventorySync) OnStockChanged(ctx context.Context, evt events.StockChangedData) error {
	return s.Apply(ctx, evt.ID, evt.StockQuantity)
}

func (s *InventorySync) OnProductCreated(ctx context.Context, evt events.ProductCreatedData) error {
	return s.Apply(ctx, evt.ID, evt.StockQuantity)
}
