// Package handlers executes order commands against the event store: load the
// aggregate, invoke the operation, append at the pre-invoke version, publish.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/eventstore"
	"example.com/ordersvc/utils"
)

const defaultMaxRetries = 3

// EventPublisher is the slice of the messaging publisher the handler needs.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// OrderItemInput is a line item as submitted by a command producer.
type OrderItemInput struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name" validate:"required,max=200"`
	Quantity    int     `json:"quantity" validate:"gte=1"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

// CreateOrderCommand creates a new order. OrderID is optional; the handler
// assigns one when absent.
type CreateOrderCommand struct {
	OrderID         string           `json:"order_id" validate:"omitempty,uuid"`
	CustomerID      string           `json:"customer_id" validate:"required"`
	Items           []OrderItemInput `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string           `json:"shipping_address" validate:"required,max=500"`
}

// PayOrderCommand records a payment against an order.
type PayOrderCommand struct {
	OrderID       string  `json:"order_id" validate:"required"`
	PaymentID     string  `json:"payment_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"gte=0"`
	PaymentMethod string  `json:"payment_method" validate:"required,max=50"`
}

// ShipOrderCommand records the carrier handoff.
type ShipOrderCommand struct {
	OrderID        string `json:"order_id" validate:"required"`
	ShipmentID     string `json:"shipment_id" validate:"required"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=100"`
}

// CancelOrderCommand cancels an order that has not shipped.
type CancelOrderCommand struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=500"`
}

// OrderHandler handles order commands.
type OrderHandler struct {
	store      eventstore.EventStore
	publisher  EventPublisher
	maxRetries int
}

// NewOrderHandler creates a handler. maxRetries bounds the reload-and-retry
// loop on concurrency conflicts; values below 1 fall back to the default.
func NewOrderHandler(store eventstore.EventStore, publisher EventPublisher, maxRetries int) *OrderHandler {
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	return &OrderHandler{store: store, publisher: publisher, maxRetries: maxRetries}
}

// HandleCreateOrder creates a new order stream and returns its ID. Creation is
// never retried: a conflict means the ID is already taken.
func (h *OrderHandler) HandleCreateOrder(ctx context.Context, cmd CreateOrderCommand) (string, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	orderID := cmd.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}
	log.Info().Str("aggregateID", orderID).Str("customerID", cmd.CustomerID).Msg("Handling CreateOrder")

	exists, err := h.store.Exists(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("failed to check order %s: %w", orderID, err)
	}
	if exists {
		return "", fmt.Errorf("%w: order %s already exists", domain.ErrConcurrencyConflict, orderID)
	}

	aggregate := domain.NewOrderAggregate(orderID)
	if err := aggregate.Create(cmd.CustomerID, toDomainItems(cmd.Items), cmd.ShippingAddress); err != nil {
		return "", err
	}
	if err := h.commit(ctx, aggregate, domain.NoVersion); err != nil {
		return "", err
	}
	return orderID, nil
}

// HandlePayOrder records a payment.
func (h *OrderHandler) HandlePayOrder(ctx context.Context, cmd PayOrderCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	log.Info().Str("aggregateID", cmd.OrderID).Str("paymentID", cmd.PaymentID).Msg("Handling PayOrder")
	return h.withRetry(ctx, cmd.OrderID, func(aggregate *domain.OrderAggregate) error {
		return aggregate.MarkPaid(cmd.PaymentID, cmd.Amount, cmd.PaymentMethod)
	})
}

// HandleShipOrder records the shipment.
func (h *OrderHandler) HandleShipOrder(ctx context.Context, cmd ShipOrderCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	log.Info().Str("aggregateID", cmd.OrderID).Str("shipmentID", cmd.ShipmentID).Msg("Handling ShipOrder")
	return h.withRetry(ctx, cmd.OrderID, func(aggregate *domain.OrderAggregate) error {
		return aggregate.Ship(cmd.ShipmentID, cmd.TrackingNumber)
	})
}

// HandleCancelOrder cancels the order.
func (h *OrderHandler) HandleCancelOrder(ctx context.Context, cmd CancelOrderCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	log.Info().Str("aggregateID", cmd.OrderID).Msg("Handling CancelOrder")
	return h.withRetry(ctx, cmd.OrderID, func(aggregate *domain.OrderAggregate) error {
		return aggregate.Cancel(cmd.Reason)
	})
}

// GetOrder rehydrates the order's current state from the event store. Commands
// do not use it; it exists for diagnostics and admin tooling.
func (h *OrderHandler) GetOrder(ctx context.Context, orderID string) (*domain.OrderState, error) {
	aggregate, err := h.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	state := aggregate.State
	return &state, nil
}

// withRetry runs the optimistic-concurrency loop: load the aggregate, invoke
// the operation, commit at the pre-invoke version. On a conflict the aggregate
// is reloaded and the operation re-invoked against fresh state, up to
// maxRetries attempts. Domain rejections are never retried.
func (h *OrderHandler) withRetry(ctx context.Context, orderID string, op func(*domain.OrderAggregate) error) error {
	var err error
	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(utils.BackoffDelay(attempt - 1)):
			}
		}

		var aggregate *domain.OrderAggregate
		aggregate, err = h.load(ctx, orderID)
		if err != nil {
			return err
		}
		expectedVersion := aggregate.GetVersion()
		if opErr := op(aggregate); opErr != nil {
			return opErr
		}
		err = h.commit(ctx, aggregate, expectedVersion)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			log.Warn().Str("aggregateID", orderID).Int("attempt", attempt).Msg("Concurrency conflict, retrying")
			continue
		}
		return err
	}
	return err
}

// load rehydrates an order from its snapshot plus the event tail, falling back
// to full replay when the snapshot is missing or unusable.
func (h *OrderHandler) load(ctx context.Context, orderID string) (*domain.OrderAggregate, error) {
	aggregate := domain.NewOrderAggregate(orderID)
	snapshotVersion := domain.NoVersion

	snapshot, err := h.store.LoadSnapshot(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Str("aggregateID", orderID).Msg("Failed to load snapshot, replaying full history")
	} else if snapshot != nil {
		if err := aggregate.RestoreSnapshot(snapshot.State, snapshot.Version); err != nil {
			log.Warn().Err(err).Str("aggregateID", orderID).Msg("Snapshot unusable, replaying full history")
			aggregate = domain.NewOrderAggregate(orderID)
		} else {
			snapshotVersion = snapshot.Version
		}
	}

	events, err := h.store.LoadEventsAfter(ctx, orderID, snapshotVersion)
	if err != nil {
		return nil, err
	}
	if snapshotVersion == domain.NoVersion && len(events) == 0 {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if err := aggregate.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return aggregate, nil
}

// commit appends the aggregate's uncommitted events and hands them to the
// publisher. A publish failure leaves the store ahead of the log: the error is
// surfaced, the events stay flagged unpublished, and the outbox sweep
// redelivers them.
func (h *OrderHandler) commit(ctx context.Context, aggregate *domain.OrderAggregate, expectedVersion int) error {
	events := aggregate.GetUncommittedEvents()
	if len(events) == 0 {
		return nil
	}
	if err := h.store.Append(ctx, aggregate.GetID(), events, expectedVersion); err != nil {
		return err
	}
	aggregate.ClearUncommittedEvents()

	if err := h.publisher.Publish(ctx, events); err != nil {
		log.Warn().Err(err).Str("aggregateID", aggregate.GetID()).
			Msg("Events stored but not published; outbox sweep will recover")
		return err
	}
	eventIDs := make([]string, len(events))
	for i, event := range events {
		eventIDs[i] = event.ID
	}
	if err := h.store.MarkPublished(ctx, eventIDs); err != nil {
		// The sweep may republish these; the projector dedupes.
		log.Error().Err(err).Str("aggregateID", aggregate.GetID()).Msg("Failed to mark events published")
	}
	return nil
}

func toDomainItems(items []OrderItemInput) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, item := range items {
		out[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}
	return out
}
