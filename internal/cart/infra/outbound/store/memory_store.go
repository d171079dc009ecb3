package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/domain"
)

// MemoryStore se usa cuando no hay Redis configurado. No caduca.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]map[string]domain.CartItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]map[string]domain.CartItem)}
}

func (s *MemoryStore) GetItem(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.carts[userID][productID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *MemoryStore) Items(ctx context.Context, userID string) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.CartItem, 0, len(s.carts[userID]))
	for _, item := range s.carts[userID] {
		items = append(items, item)
	}
	sortByAdded(items)
	return items, nil
}

func (s *MemoryStore) PutItem(ctx context.Context, userID string, item domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts[userID] == nil {
		s.carts[userID] = make(map[string]domain.CartItem)
	}
	s.carts[userID][item.ProductID] = item
	return nil
}

func (s *MemoryStore) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.carts[userID][productID]
	if !ok {
		return domain.ErrItemNotInCart
	}
	item.Quantity = quantity
	s.carts[userID][productID] = item
	return nil
}

func (s *MemoryStore) RemoveItem(ctx context.Context, userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts[userID], productID)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts[userID]), nil
}

// Orden estable: primero lo más antiguo.
func sortByAdded(items []domain.CartItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
}

var _ domain.CartStore = (*MemoryStore)(nil)
