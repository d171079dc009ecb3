package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/domain"
)

// CartTTL se renueva en cada escritura.
const CartTTL = 7 * 24 * time.Hour

func cartKey(userID string) string { return "cart:" + userID }

// RedisStore guarda cada carrito como hash: campo = productId, valor = CartItem en JSON.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: CartTTL}
}

func (s *RedisStore) GetItem(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	raw, err := s.client.HGet(ctx, cartKey(userID), productID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item domain.CartItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *RedisStore) Items(ctx context.Context, userID string) ([]domain.CartItem, error) {
	fields, err := s.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	items := make([]domain.CartItem, 0, len(fields))
	for _, raw := range fields {
		var item domain.CartItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sortByAdded(items)
	return items, nil
}

func (s *RedisStore) PutItem(ctx context.Context, userID string, item domain.CartItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	key := cartKey(userID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, item.ProductID, raw)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error {
	item, err := s.GetItem(ctx, userID, productID)
	if err != nil {
		return err
	}
	if item == nil {
		return domain.ErrItemNotInCart
	}
	item.Quantity = quantity
	return s.PutItem(ctx, userID, *item)
}

func (s *RedisStore) RemoveItem(ctx context.Context, userID, productID string) error {
	return s.client.HDel(ctx, cartKey(userID), productID).Err()
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, cartKey(userID)).Err()
}

func (s *RedisStore) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.client.HLen(ctx, cartKey(userID)).Result()
	return int(n), err
}

var _ domain.CartStore = (*RedisStore)(nil)
