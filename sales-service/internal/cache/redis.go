package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/redis/go-redis/v9"
)

const productKeyPrefix = "products:"

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 30 * time.Second
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) GetProducts(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	data, err := r.client.Get(ctx, productsKey(categoryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var products []domain.Product
	if err2 := json.Unmarshal(data, &products); err2 != nil {
		return nil, fmt.Errorf("unmarshal products failed: %w", err2)
	}
	return products, nil
}

func (r RedisCache) SetProducts(ctx context.Context, categoryID int64, products []domain.Product) error {
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("marshal products failed: %w", err)
	}

	// stock goes stale fast, so jitter stays within a fraction of the base ttl
	jitter := time.Duration(rand.Int63n(int64(r.baseTTL)/5 + 1))
	if err := r.client.Set(ctx, productsKey(categoryID), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateProducts drops every cached listing. Called after each commit.
func (r RedisCache) InvalidateProducts(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, productKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func productsKey(categoryID int64) string {
	if categoryID <= 0 {
		return productKeyPrefix + "all"
	}
	return fmt.Sprintf("%s%d", productKeyPrefix, categoryID)
}
