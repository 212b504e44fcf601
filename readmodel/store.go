// Package readmodel owns the relational projection of orders and the query
// surface over it. Only the projection consumer writes here.
package readmodel

import (
	"context"

	"example.com/ordersvc/models"
)

// Store is the projector's interface to the relational read model.
type Store interface {
	// WithTransaction runs fn against a transactional view of the store. The
	// projector wraps each event's effect and version bump in one transaction
	// so a crash can never leave a half-applied event.
	WithTransaction(ctx context.Context, fn func(tx Store) error) error

	// OrderVersion returns the version of the last event applied to the
	// order, or domain.NoVersion when no row exists yet.
	OrderVersion(ctx context.Context, orderID string) (int, error)

	// GetOrder returns the order with items and status history, or
	// domain.ErrNotFound.
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// InsertOrder creates the order row with its items and initial history.
	InsertOrder(ctx context.Context, order *models.Order) error

	// UpdateOrder applies column updates to an existing order row.
	UpdateOrder(ctx context.Context, orderID string, fields map[string]interface{}) error

	// AppendStatusHistory adds one row to the status audit trail.
	AppendStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error

	// ListOrdersByCustomer returns a customer's orders, newest first.
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error)

	// ListOrdersByStatus returns orders in the given status, newest first.
	ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error)
}
