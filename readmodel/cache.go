package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"example.com/ordersvc/models"
)

// Cache is a Redis-backed cache for single-order lookups. Every operation is
// best effort: a cache outage degrades reads to the database, never breaks
// them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis and verifies the connection.
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis")
	return &Cache{client: client, ttl: ttl}, nil
}

func orderKey(orderID string) string {
	return "order:" + orderID
}

// GetOrder returns the cached order and whether it was present.
func (c *Cache) GetOrder(ctx context.Context, orderID string) (*models.Order, bool) {
	raw, err := c.client.Get(ctx, orderKey(orderID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("orderID", orderID).Msg("Cache read failed")
		}
		return nil, false
	}
	var order models.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		log.Warn().Err(err).Str("orderID", orderID).Msg("Dropping undecodable cache entry")
		c.Invalidate(ctx, orderID)
		return nil, false
	}
	return &order, true
}

// SetOrder caches the order under its ID with the configured TTL.
func (c *Cache) SetOrder(ctx context.Context, order *models.Order) {
	raw, err := json.Marshal(order)
	if err != nil {
		log.Warn().Err(err).Str("orderID", order.ID).Msg("Failed to encode order for cache")
		return
	}
	if err := c.client.Set(ctx, orderKey(order.ID), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("orderID", order.ID).Msg("Cache write failed")
	}
}

// Invalidate drops the order's cache entry. The projector calls it after each
// applied event so readers never see a stale status past the TTL window.
func (c *Cache) Invalidate(ctx context.Context, orderID string) {
	if err := c.client.Del(ctx, orderKey(orderID)).Err(); err != nil {
		log.Warn().Err(err).Str("orderID", orderID).Msg("Cache invalidation failed")
	}
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
