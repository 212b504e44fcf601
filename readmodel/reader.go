package readmodel

import (
	"context"

	"example.com/ordersvc/models"
)

// Reader is the query-side API over the read model, with an optional
// cache-aside layer for single-order lookups. List queries always hit the
// database; they are index-backed and not worth cache churn.
type Reader struct {
	store Store
	cache *Cache
}

// NewReader creates a reader. cache may be nil.
func NewReader(store Store, cache *Cache) *Reader {
	return &Reader{store: store, cache: cache}
}

// GetOrder returns the order with items and status history.
func (r *Reader) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if r.cache != nil {
		if order, ok := r.cache.GetOrder(ctx, orderID); ok {
			return order, nil
		}
	}
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetOrder(ctx, order)
	}
	return order, nil
}

// ListOrdersByCustomer returns a customer's orders, newest first.
func (r *Reader) ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	return r.store.ListOrdersByCustomer(ctx, customerID)
}

// ListOrdersByStatus returns orders in the given status, newest first.
func (r *Reader) ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error) {
	return r.store.ListOrdersByStatus(ctx, status)
}
